package nebula

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opencensus.io/tag"

	"github.com/ipfs-force-community/nebula-gateway/metrics"
)

const defaultUserID = "default-user"

// maxEventSize bounds a single SSE line.
const maxEventSize = 1 << 20

type ChatRequest struct {
	Message   string
	SessionID string
	Config    *ExecuteConfig
}

type executeBody struct {
	Type                string `json:"type"`
	SignerWalletAddress string `json:"signer_wallet_address"`
}

type chatBody struct {
	Message   string       `json:"message"`
	UserID    string       `json:"user_id"`
	SessionID string       `json:"session_id"`
	Stream    bool         `json:"stream"`
	Execute   *executeBody `json:"execute,omitempty"`
}

// Chat sends a prompt and calls handle for every streamed event, on the
// calling goroutine. Once ctx is done handle is not called anymore and
// ctx.Err() is returned.
func (c *Client) Chat(ctx context.Context, req *ChatRequest, handle func(*StreamEvent)) error {
	start := time.Now()
	defer metrics.Timing(ctx, metrics.ChatRequest, start)

	body := &chatBody{
		Message:   req.Message,
		UserID:    defaultUserID,
		SessionID: req.SessionID,
		Stream:    true,
	}
	// other execute modes are configured on the session
	if req.Config != nil && req.Config.Mode == ModeClient {
		body.Execute = &executeBody{Type: string(ModeClient), SignerWalletAddress: req.Config.SignerWalletAddress}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat", body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return pkgerrors.Wrap(err, "send chat request")
	}
	defer resp.Body.Close() //nolint

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warnw("chat request failed", "session", req.SessionID, "status", resp.StatusCode)
		return ErrChatRequest
	}

	err = readEvents(resp.Body, func(event, data string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streamed, err := parseEvent(event, data)
		if err != nil {
			return err
		}
		if streamed == nil {
			return nil
		}
		metrics.Record(ctx, metrics.ChatEvent, tag.Upsert(metrics.EventKey, event))
		handle(streamed)
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// parseEvent decodes the data of a named event. Events without data and
// unknown events yield nil.
func parseEvent(event, data string) (*StreamEvent, error) {
	if data == "" {
		return nil, nil
	}

	streamed := &StreamEvent{Event: EventType(event)}
	var target interface{}
	switch streamed.Event {
	case EventInit:
		streamed.Init = &InitData{}
		target = streamed.Init
	case EventDelta:
		streamed.Delta = &DeltaData{}
		target = streamed.Delta
	case EventPresence:
		streamed.Presence = &PresenceData{}
		target = streamed.Presence
	case EventAction:
		streamed.Action = &ActionData{}
		target = streamed.Action
	default:
		return nil, nil
	}

	if err := json.Unmarshal([]byte(data), target); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", event, err)
	}
	return streamed, nil
}

// readEvents splits a server sent event stream into (event, data) pairs. A
// blank line ends an event, multiple data lines are joined by newlines and
// the event name defaults to "message". An event left open at the end of
// the stream is dropped.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	eventType := "message"
	var data strings.Builder
	var hasData bool

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if hasData || eventType != "message" {
				if err := fn(eventType, data.String()); err != nil {
					return err
				}
			}
			eventType = "message"
			data.Reset()
			hasData = false
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
		// id and retry are not used
	}

	return scanner.Err()
}
