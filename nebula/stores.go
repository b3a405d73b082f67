package nebula

import (
	"context"
	"encoding/json"

	"github.com/ipfs-force-community/nebula-gateway/reactive"
	"github.com/ipfs-force-community/nebula-gateway/storage"
)

type SessionEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ChatStores are shared by every conversation of a user.
type ChatStores struct {
	// link offered as "new chat" once a session got created
	NewChatPageURL *reactive.Store[string]
	// sessions created since the session list was fetched, newest first
	NewSessions *reactive.Store[[]SessionEntry]
	// ids of sessions deleted since the session list was fetched
	DeletedSessions *reactive.Store[[]string]
}

func NewChatStores() *ChatStores {
	return &ChatStores{
		NewChatPageURL:  reactive.NewStore(""),
		NewSessions:     reactive.NewStore([]SessionEntry{}),
		DeletedSessions: reactive.NewStore([]string{}),
	}
}

func (s *ChatStores) addSession(entry SessionEntry) {
	s.NewSessions.Update(func(prev []SessionEntry) []SessionEntry {
		return append([]SessionEntry{entry}, prev...)
	})
}

type SessionDeleter interface {
	DeleteSession(ctx context.Context, id string) error
}

// DeleteSession deletes the session remotely and remembers its id.
func (s *ChatStores) DeleteSession(ctx context.Context, client SessionDeleter, id string) error {
	if err := client.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.DeletedSessions.Update(func(prev []string) []string {
		return append(append([]string{}, prev...), id)
	})
	return nil
}

const ExecuteConfigKey = "executeConfig"

// ExecuteConfigStore keeps the last execute config chosen by the user in
// storage. Storage and decoding errors are ignored.
type ExecuteConfigStore struct {
	storage storage.AsyncStorage
	Config  *reactive.Store[*ExecuteConfig]
}

func LoadExecuteConfigStore(ctx context.Context, s storage.AsyncStorage) *ExecuteConfigStore {
	store := &ExecuteConfigStore{
		storage: s,
		Config:  reactive.NewStore[*ExecuteConfig](nil),
	}

	raw, ok, err := s.GetItem(ctx, ExecuteConfigKey)
	if err != nil {
		log.Warnf("load execute config: %v", err)
		return store
	}
	if !ok || raw == "" || raw == "null" {
		return store
	}
	var cfg ExecuteConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Warnf("decode execute config: %v", err)
		return store
	}
	store.Config.Set(&cfg)
	return store
}

func (s *ExecuteConfigStore) Get() *ExecuteConfig {
	return s.Config.Get()
}

func (s *ExecuteConfigStore) Save(ctx context.Context, cfg *ExecuteConfig) {
	s.Config.Set(cfg)

	data, err := json.Marshal(cfg)
	if err != nil {
		log.Warnf("encode execute config: %v", err)
		return
	}
	if err := s.storage.SetItem(ctx, ExecuteConfigKey, string(data)); err != nil {
		log.Warnf("save execute config: %v", err)
	}
}
