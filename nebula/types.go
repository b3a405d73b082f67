package nebula

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type ExecuteMode string

const (
	ModeEngine     ExecuteMode = "engine"
	ModeSessionKey ExecuteMode = "session_key"
	ModeWebhook    ExecuteMode = "webhook"
	ModeClient     ExecuteMode = "client"
)

// ExecuteConfig tells Nebula how transactions of a session are executed.
// Only the fields of Mode are meaningful and only those are encoded.
type ExecuteConfig struct {
	Mode ExecuteMode

	EngineURL                  string
	EngineAuthorizationToken   string
	EngineBackendWalletAddress string

	SmartAccountAddress        string
	SmartAccountFactoryAddress string
	SmartAccountSessionKey     string

	WebhookSigningURL   string
	WebhookMetadata     map[string]interface{}
	WebhookSharedSecret string

	SignerWalletAddress string
}

func ClientConfig(signer common.Address) *ExecuteConfig {
	return &ExecuteConfig{Mode: ModeClient, SignerWalletAddress: signer.Hex()}
}

type engineConfigJSON struct {
	Mode                       ExecuteMode `json:"mode"`
	EngineURL                  string      `json:"engine_url"`
	EngineAuthorizationToken   string      `json:"engine_authorization_token"`
	EngineBackendWalletAddress string      `json:"engine_backend_wallet_address"`
}

type sessionKeyConfigJSON struct {
	Mode                       ExecuteMode `json:"mode"`
	SmartAccountAddress        string      `json:"smart_account_address"`
	SmartAccountFactoryAddress string      `json:"smart_account_factory_address"`
	SmartAccountSessionKey     string      `json:"smart_account_session_key"`
}

type webhookConfigJSON struct {
	Mode                ExecuteMode            `json:"mode"`
	WebhookSigningURL   string                 `json:"webhook_signing_url"`
	WebhookMetadata     map[string]interface{} `json:"webhook_metadata,omitempty"`
	WebhookSharedSecret string                 `json:"webhook_shared_secret,omitempty"`
}

type clientConfigJSON struct {
	Mode                ExecuteMode `json:"mode"`
	SignerWalletAddress string      `json:"signer_wallet_address"`
}

// executeConfigJSON accepts every mode when decoding.
type executeConfigJSON struct {
	Mode                       ExecuteMode            `json:"mode"`
	EngineURL                  string                 `json:"engine_url"`
	EngineAuthorizationToken   string                 `json:"engine_authorization_token"`
	EngineBackendWalletAddress string                 `json:"engine_backend_wallet_address"`
	SmartAccountAddress        string                 `json:"smart_account_address"`
	SmartAccountFactoryAddress string                 `json:"smart_account_factory_address"`
	SmartAccountSessionKey     string                 `json:"smart_account_session_key"`
	WebhookSigningURL          string                 `json:"webhook_signing_url"`
	WebhookMetadata            map[string]interface{} `json:"webhook_metadata"`
	WebhookSharedSecret        string                 `json:"webhook_shared_secret"`
	SignerWalletAddress        string                 `json:"signer_wallet_address"`
}

func (c ExecuteConfig) MarshalJSON() ([]byte, error) {
	switch c.Mode {
	case ModeEngine:
		return json.Marshal(engineConfigJSON{
			Mode:                       c.Mode,
			EngineURL:                  c.EngineURL,
			EngineAuthorizationToken:   c.EngineAuthorizationToken,
			EngineBackendWalletAddress: c.EngineBackendWalletAddress,
		})
	case ModeSessionKey:
		return json.Marshal(sessionKeyConfigJSON{
			Mode:                       c.Mode,
			SmartAccountAddress:        c.SmartAccountAddress,
			SmartAccountFactoryAddress: c.SmartAccountFactoryAddress,
			SmartAccountSessionKey:     c.SmartAccountSessionKey,
		})
	case ModeWebhook:
		return json.Marshal(webhookConfigJSON{
			Mode:                c.Mode,
			WebhookSigningURL:   c.WebhookSigningURL,
			WebhookMetadata:     c.WebhookMetadata,
			WebhookSharedSecret: c.WebhookSharedSecret,
		})
	case ModeClient:
		return json.Marshal(clientConfigJSON{Mode: c.Mode, SignerWalletAddress: c.SignerWalletAddress})
	default:
		return nil, fmt.Errorf("unknown execute mode %q", c.Mode)
	}
}

func (c *ExecuteConfig) UnmarshalJSON(data []byte) error {
	var raw executeConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ExecuteConfig(raw)
	switch c.Mode {
	case ModeEngine, ModeSessionKey, ModeWebhook, ModeClient:
		return nil
	default:
		return fmt.Errorf("unknown execute mode %q", c.Mode)
	}
}

// Validate checks the fields required by the mode.
func (c *ExecuteConfig) Validate() error {
	switch c.Mode {
	case ModeEngine:
		if c.EngineURL == "" || c.EngineAuthorizationToken == "" || c.EngineBackendWalletAddress == "" {
			return fmt.Errorf("engine mode needs url, authorization token and backend wallet")
		}
	case ModeSessionKey:
		if !common.IsHexAddress(c.SmartAccountAddress) || !common.IsHexAddress(c.SmartAccountFactoryAddress) {
			return fmt.Errorf("session_key mode needs smart account and factory addresses")
		}
		if c.SmartAccountSessionKey == "" {
			return fmt.Errorf("session_key mode needs a session key")
		}
	case ModeWebhook:
		if c.WebhookSigningURL == "" {
			return fmt.Errorf("webhook mode needs a signing url")
		}
	case ModeClient:
		if !common.IsHexAddress(c.SignerWalletAddress) {
			return fmt.Errorf("invalid signer wallet address %q", c.SignerWalletAddress)
		}
	default:
		return fmt.Errorf("unknown execute mode %q", c.Mode)
	}
	return nil
}

type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type SessionInfo struct {
	AccountID     string         `json:"account_id"`
	ArchiveAt     *string        `json:"archive_at"`
	CanExecute    bool           `json:"can_execute"`
	ExecuteConfig *ExecuteConfig `json:"execute_config"`
	CreatedAt     string         `json:"created_at"`
	DeletedAt     *string        `json:"deleted_at"`
	History       []ChatMessage  `json:"history"`
	ID            string         `json:"id"`
	UpdatedAt     string         `json:"updated_at"`
	Title         *string        `json:"title"`
	IsPublic      bool           `json:"is_public"`
}

type TruncatedSessionInfo struct {
	CreatedAt string  `json:"created_at"`
	ID        string  `json:"id"`
	UpdatedAt string  `json:"updated_at"`
	Title     *string `json:"title"`
}

type CreatedSession struct {
	ID string `json:"id"`
}

type UpdatedSession struct {
	SessionID string `json:"session_id"`
}

type EventType string

const (
	EventInit     EventType = "init"
	EventDelta    EventType = "delta"
	EventPresence EventType = "presence"
	EventAction   EventType = "action"
)

type InitData struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
}

type DeltaData struct {
	V string `json:"v"`
}

type PresenceData struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Source    string `json:"source"`
	Data      string `json:"data"`
}

type ActionData struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StreamEvent is one parsed chat event, the field matching Event is set.
type StreamEvent struct {
	Event    EventType
	Init     *InitData
	Delta    *DeltaData
	Presence *PresenceData
	Action   *ActionData
}

type Rating string

const (
	RatingGood Rating = "good"
	RatingBad  Rating = "bad"
)
