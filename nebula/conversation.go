package nebula

import (
	"context"
	"net/url"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ipfs-force-community/nebula-gateway/reactive"
)

type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessagePresence  MessageType = "presence"
	MessageError     MessageType = "error"
)

type Message struct {
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

// ChatClient is the part of Client a Conversation needs.
type ChatClient interface {
	CreateSession(ctx context.Context, cfg *ExecuteConfig) (*CreatedSession, error)
	UpdateSession(ctx context.Context, id string, cfg *ExecuteConfig) (*UpdatedSession, error)
	Chat(ctx context.Context, req *ChatRequest, handle func(*StreamEvent)) error
}

var _ ChatClient = (*Client)(nil)

type PageType string

const (
	PageLanding PageType = "landing"
	PageNewChat PageType = "new-chat"
)

type ConversationOptions struct {
	Client  ChatClient
	Stores  *ChatStores
	Configs *ExecuteConfigStore
	// signer used when no execute config was saved
	Account common.Address
	// existing session to continue, nil starts a new one
	Session *SessionInfo
	// origin the new chat page url is built on
	AppURL string
	Page   PageType
}

type stream struct {
	cancel  context.CancelFunc
	aborted bool
}

// Conversation holds the messages of one chat session and applies the
// streamed events to them.
//
// Store subscribers are notified with the conversation lock held, they must
// not call back into the conversation synchronously.
type Conversation struct {
	opts ConversationOptions

	Messages    *reactive.Store[[]Message]
	SessionID   *reactive.Store[string]
	IsStreaming *reactive.Store[bool]

	lk      sync.Mutex
	current *stream
}

func NewConversation(opts ConversationOptions) *Conversation {
	if opts.Stores == nil {
		opts.Stores = NewChatStores()
	}
	if opts.Page == "" {
		opts.Page = PageNewChat
	}

	messages := []Message{}
	sessionID := ""
	if opts.Session != nil {
		sessionID = opts.Session.ID
		for _, msg := range opts.Session.History {
			messages = append(messages, Message{Text: msg.Content, Type: MessageType(msg.Role)})
		}
	}

	return &Conversation{
		opts:        opts,
		Messages:    reactive.NewStore(messages),
		SessionID:   reactive.NewStore(sessionID),
		IsStreaming: reactive.NewStore(false),
	}
}

// Config is the saved execute config, or client execution by Account.
func (c *Conversation) Config() *ExecuteConfig {
	if c.opts.Configs != nil {
		if cfg := c.opts.Configs.Get(); cfg != nil {
			return cfg
		}
	}
	return ClientConfig(c.opts.Account)
}

// SendMessage appends text as a user message and streams the answer into
// the messages. Errors are also appended as an error message, except after
// Abort, where nil is returned.
func (c *Conversation) SendMessage(ctx context.Context, text string) error {
	firstMessage := len(c.Messages.Get()) == 0
	c.Messages.Update(func(prev []Message) []Message {
		return appendMessage(prev, Message{Text: text, Type: MessageUser})
	})
	c.IsStreaming.Set(true)

	streamCtx, cancel := context.WithCancel(ctx)
	current := &stream{cancel: cancel}
	c.lk.Lock()
	c.current = current
	c.lk.Unlock()

	defer func() {
		cancel()
		c.lk.Lock()
		if c.current == current {
			c.current = nil
		}
		c.lk.Unlock()
		c.IsStreaming.Set(false)
	}()

	err := c.stream(streamCtx, current, text, firstMessage)
	if err == nil {
		return nil
	}

	c.lk.Lock()
	defer c.lk.Unlock()
	if current.aborted {
		return nil
	}
	log.Warnf("chat failed: %v", err)
	c.Messages.Update(func(prev []Message) []Message {
		return appendMessage(prev, Message{Text: "Error: " + err.Error(), Type: MessageError})
	})
	return err
}

func (c *Conversation) stream(ctx context.Context, current *stream, text string, firstMessage bool) error {
	sessionID := c.SessionID.Get()
	if sessionID == "" {
		created, err := c.initSession(ctx)
		if err != nil {
			return err
		}
		sessionID = created.ID
	}

	if firstMessage {
		c.opts.Stores.addSession(SessionEntry{ID: sessionID, Title: text})
	}

	var requestID string
	return c.opts.Client.Chat(ctx, &ChatRequest{
		Message:   text,
		SessionID: sessionID,
		Config:    c.Config(),
	}, func(event *StreamEvent) {
		c.lk.Lock()
		defer c.lk.Unlock()
		if current.aborted {
			return
		}

		switch event.Event {
		case EventInit:
			requestID = event.Init.RequestID
		case EventDelta:
			c.Messages.Update(func(prev []Message) []Message {
				return applyDelta(prev, event.Delta.V, requestID)
			})
		case EventPresence:
			c.Messages.Update(func(prev []Message) []Message {
				return applyPresence(prev, event.Presence.Data)
			})
		}
	})
}

// Abort stops the running stream. No message changes once it returns and a
// trailing presence message is dropped.
func (c *Conversation) Abort() {
	c.lk.Lock()
	defer c.lk.Unlock()

	if c.current != nil {
		c.current.aborted = true
		c.current.cancel()
		c.current = nil
	}
	c.IsStreaming.Set(false)

	messages := c.Messages.Get()
	if n := len(messages); n > 0 && messages[n-1].Type == MessagePresence {
		c.Messages.Set(append([]Message{}, messages[:n-1]...))
	}
}

// UpdateConfig saves cfg and applies it to the session, creating the
// session when there is none yet.
func (c *Conversation) UpdateConfig(ctx context.Context, cfg *ExecuteConfig) error {
	if c.opts.Configs != nil {
		c.opts.Configs.Save(ctx, cfg)
	}

	sessionID := c.SessionID.Get()
	var err error
	if sessionID == "" {
		_, err = c.initSession(ctx)
	} else {
		var updated *UpdatedSession
		updated, err = c.opts.Client.UpdateSession(ctx, sessionID, cfg)
		if err == nil && updated != nil && updated.SessionID != "" {
			c.setSessionID(updated.SessionID)
		}
	}
	if err == nil {
		return nil
	}

	action := "update"
	if sessionID == "" {
		action = "create"
	}
	log.Warnf("failed to %s session: %v", action, err)
	c.lk.Lock()
	c.Messages.Update(func(prev []Message) []Message {
		return appendMessage(prev, Message{Text: "Error: Failed to " + action + " session", Type: MessageError})
	})
	c.lk.Unlock()
	return err
}

func (c *Conversation) initSession(ctx context.Context) (*CreatedSession, error) {
	created, err := c.opts.Client.CreateSession(ctx, c.Config())
	if err != nil {
		return nil, err
	}
	c.setSessionID(created.ID)
	return created, nil
}

func (c *Conversation) setSessionID(id string) {
	c.SessionID.Set(id)

	u, err := url.Parse(c.opts.AppURL)
	if err != nil {
		log.Warnf("parse app url %s: %v", c.opts.AppURL, err)
		return
	}
	// the landing page links to a fresh chat page and the other way around
	if c.opts.Page == PageLanding {
		u.Path = "/chat"
	} else {
		u.Path = "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	c.opts.Stores.NewChatPageURL.Set(u.String())
}

func appendMessage(prev []Message, msg Message) []Message {
	next := make([]Message, len(prev), len(prev)+1)
	copy(next, prev)
	return append(next, msg)
}

// applyDelta replaces a trailing presence message, extends a trailing
// assistant message or starts a new one.
func applyDelta(prev []Message, delta, requestID string) []Message {
	n := len(prev)
	if n > 0 {
		last := prev[n-1]
		switch last.Type {
		case MessagePresence:
			return appendMessage(prev[:n-1], Message{Text: delta, Type: MessageAssistant, RequestID: requestID})
		case MessageAssistant:
			return appendMessage(prev[:n-1], Message{Text: last.Text + delta, Type: MessageAssistant, RequestID: requestID})
		}
	}
	return appendMessage(prev, Message{Text: delta, Type: MessageAssistant, RequestID: requestID})
}

// applyPresence replaces a trailing presence message or appends one.
func applyPresence(prev []Message, text string) []Message {
	n := len(prev)
	if n > 0 && prev[n-1].Type == MessagePresence {
		return appendMessage(prev[:n-1], Message{Text: text, Type: MessagePresence})
	}
	return appendMessage(prev, Message{Text: text, Type: MessagePresence})
}
