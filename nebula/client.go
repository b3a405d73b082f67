package nebula

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	pkgerrors "github.com/pkg/errors"
	"go.opencensus.io/tag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ipfs-force-community/nebula-gateway/metrics"
	"github.com/ipfs-force-community/nebula-gateway/types"
)

var log = logging.Logger("nebula")

// The messages are shown to users as is.
var (
	ErrCreateSession = errors.New("Failed to create session")
	ErrUpdateSession = errors.New("Failed to update session")
	ErrDeleteSession = errors.New("Failed to delete session")
	ErrListSessions  = errors.New("Failed to list sessions")
	ErrGetSession    = errors.New("Failed to get session")
	ErrFeedback      = errors.New("Failed to send feedback")
	ErrChatRequest   = errors.New("Failed to execute command")
)

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// WithRequestConfig sets the timeout of non streaming calls and the rate of
// requests sent to Nebula.
func WithRequestConfig(cfg *types.RequestConfig) Option {
	return func(c *Client) {
		c.timeout = cfg.RequestTimeout
		if cfg.RateLimit > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
		} else {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
		}
	}
}

// Client talks to the Nebula chat service.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	log        *zap.SugaredLogger
}

func NewClient(baseURL, authToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: http.DefaultClient,
		log:        log.With("url", baseURL),
	}
	WithRequestConfig(types.DefaultConfig())(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Result json.RawMessage `json:"result"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// call sends a JSON request and decodes the result envelope into result. Any
// non 2xx status is reported as failure.
func (c *Client) call(ctx context.Context, method, path string, body, result interface{}, failure error) (err error) {
	start := time.Now()
	defer func() {
		metrics.Timing(ctx, metrics.SessionCall, start, tag.Upsert(metrics.MethodKey, method+" "+routeName(path)))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close() //nolint

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warnw("nebula request failed", "method", method, "path", path, "status", resp.StatusCode, "body", string(msg))
		return failure
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return pkgerrors.Wrapf(err, "decode %s %s", method, path)
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return pkgerrors.Wrapf(err, "decode result of %s %s", method, path)
		}
	}
	return nil
}

func routeName(path string) string {
	switch {
	case path == "/session/list":
		return path
	case strings.HasPrefix(path, "/session/"):
		return "/session/{id}"
	default:
		return path
	}
}

func sessionPath(id string) string {
	return "/session/" + url.PathEscape(id)
}

type sessionBody struct {
	CanExecute bool           `json:"can_execute"`
	Config     *ExecuteConfig `json:"config"`
}

func (c *Client) CreateSession(ctx context.Context, cfg *ExecuteConfig) (*CreatedSession, error) {
	var created CreatedSession
	if err := c.call(ctx, http.MethodPost, "/session", &sessionBody{CanExecute: cfg != nil, Config: cfg}, &created, ErrCreateSession); err != nil {
		return nil, err
	}
	c.log.Infow("session created", "session", created.ID)
	return &created, nil
}

// UpdateSession replaces the execute config of a session. The returned value
// is nil when the service does not echo the session id.
func (c *Client) UpdateSession(ctx context.Context, id string, cfg *ExecuteConfig) (*UpdatedSession, error) {
	var updated *UpdatedSession
	if err := c.call(ctx, http.MethodPut, sessionPath(id), &sessionBody{CanExecute: cfg != nil, Config: cfg}, &updated, ErrUpdateSession); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, sessionPath(id), nil, nil, ErrDeleteSession); err != nil {
		return err
	}
	c.log.Infow("session deleted", "session", id)
	return nil
}

func (c *Client) ListSessions(ctx context.Context) ([]TruncatedSessionInfo, error) {
	var sessions []TruncatedSessionInfo
	if err := c.call(ctx, http.MethodGet, "/session/list", nil, &sessions, ErrListSessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*SessionInfo, error) {
	var session SessionInfo
	if err := c.call(ctx, http.MethodGet, sessionPath(id), nil, &session, ErrGetSession); err != nil {
		return nil, err
	}
	return &session, nil
}

type feedbackBody struct {
	SessionID      string `json:"session_id"`
	RequestID      string `json:"request_id"`
	FeedbackRating int    `json:"feedback_rating"`
}

func (c *Client) SubmitFeedback(ctx context.Context, sessionID, requestID string, rating Rating) error {
	var score int
	switch rating {
	case RatingGood:
		score = 1
	case RatingBad:
		score = -1
	default:
		return fmt.Errorf("unknown rating %q", rating)
	}
	return c.call(ctx, http.MethodPost, "/feedback", &feedbackBody{
		SessionID:      sessionID,
		RequestID:      requestID,
		FeedbackRating: score,
	}, nil, ErrFeedback)
}
