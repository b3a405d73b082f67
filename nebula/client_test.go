package nebula

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ipfs-force-community/nebula-gateway/testhelper"
)

const testToken = "secret-token"

var signer = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func setupServer(t *testing.T) (*testhelper.NebulaServer, *Client) {
	srv := testhelper.NewNebulaServer(testToken)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, testToken)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		srv, c := setupServer(t)

		plain, err := c.CreateSession(ctx, nil)
		require.NoError(t, err)
		require.NotEmpty(t, plain.ID)
		session, ok := srv.Session(plain.ID)
		require.True(t, ok)
		require.False(t, session.CanExecute)

		executing, err := c.CreateSession(ctx, ClientConfig(signer))
		require.NoError(t, err)
		session, _ = srv.Session(executing.ID)
		require.True(t, session.CanExecute)
		require.JSONEq(t, `{"mode":"client","signer_wallet_address":"`+signer.Hex()+`"}`, string(session.Config))

		updated, err := c.UpdateSession(ctx, plain.ID, &ExecuteConfig{Mode: ModeWebhook, WebhookSigningURL: "https://hooks.example.com"})
		require.NoError(t, err)
		require.Equal(t, plain.ID, updated.SessionID)
		session, _ = srv.Session(plain.ID)
		require.True(t, session.CanExecute)

		srv.EchoSessionIDOnUpdate(false)
		updated, err = c.UpdateSession(ctx, plain.ID, nil)
		require.NoError(t, err)
		require.Nil(t, updated)

		list, err := c.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, plain.ID, list[0].ID)
		require.Equal(t, executing.ID, list[1].ID)
		require.Nil(t, list[0].Title)

		info, err := c.GetSession(ctx, executing.ID)
		require.NoError(t, err)
		require.Equal(t, executing.ID, info.ID)
		require.True(t, info.CanExecute)
		require.Equal(t, ClientConfig(signer), info.ExecuteConfig)
		require.Empty(t, info.History)

		info, err = c.GetSession(ctx, plain.ID)
		require.NoError(t, err)
		require.Nil(t, info.ExecuteConfig)

		require.NoError(t, c.DeleteSession(ctx, plain.ID))
		require.Equal(t, 1, srv.SessionCount())
		require.ErrorIs(t, c.DeleteSession(ctx, plain.ID), ErrDeleteSession)
	})

	t.Run("failures use fixed messages", func(t *testing.T) {
		srv, c := setupServer(t)
		created, err := c.CreateSession(ctx, nil)
		require.NoError(t, err)

		for _, op := range []string{"create", "update", "delete", "list", "get"} {
			srv.SetFail(op, true)
		}

		_, err = c.CreateSession(ctx, nil)
		require.EqualError(t, err, "Failed to create session")
		_, err = c.UpdateSession(ctx, created.ID, nil)
		require.EqualError(t, err, "Failed to update session")
		require.EqualError(t, c.DeleteSession(ctx, created.ID), "Failed to delete session")
		_, err = c.ListSessions(ctx)
		require.ErrorIs(t, err, ErrListSessions)
		_, err = c.GetSession(ctx, created.ID)
		require.ErrorIs(t, err, ErrGetSession)
	})

	t.Run("bad token", func(t *testing.T) {
		srv, _ := setupServer(t)
		_, err := NewClient(srv.URL, "wrong").CreateSession(ctx, nil)
		require.ErrorIs(t, err, ErrCreateSession)
	})

	t.Run("concurrent clients", func(t *testing.T) {
		srv, c := setupServer(t)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 5; i++ {
			g.Go(func() error {
				_, err := c.CreateSession(gctx, nil)
				return err
			})
		}
		require.NoError(t, g.Wait())
		require.Equal(t, 5, srv.SessionCount())
	})
}

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	srv, c := setupServer(t)

	require.NoError(t, c.SubmitFeedback(ctx, "s1", "r1", RatingGood))
	require.NoError(t, c.SubmitFeedback(ctx, "s1", "r2", RatingBad))
	require.Error(t, c.SubmitFeedback(ctx, "s1", "r3", Rating("meh")))

	feedback := srv.Feedback()
	require.Len(t, feedback, 2)
	require.Equal(t, map[string]interface{}{"session_id": "s1", "request_id": "r1", "feedback_rating": float64(1)}, feedback[0])
	require.Equal(t, float64(-1), feedback[1]["feedback_rating"])

	srv.SetFail("feedback", true)
	require.ErrorIs(t, c.SubmitFeedback(ctx, "s1", "r1", RatingGood), ErrFeedback)
}

func collect(t *testing.T, c *Client, req *ChatRequest) ([]*StreamEvent, error) {
	var events []*StreamEvent
	err := c.Chat(context.Background(), req, func(event *StreamEvent) {
		events = append(events, event)
	})
	return events, err
}

func TestChat(t *testing.T) {
	ctx := context.Background()

	t.Run("default stream", func(t *testing.T) {
		srv, c := setupServer(t)
		session, err := c.CreateSession(ctx, nil)
		require.NoError(t, err)

		events, err := collect(t, c, &ChatRequest{Message: "hello", SessionID: session.ID, Config: ClientConfig(signer)})
		require.NoError(t, err)
		require.Len(t, events, 4)

		require.Equal(t, EventInit, events[0].Event)
		require.Equal(t, session.ID, events[0].Init.SessionID)
		require.NotEmpty(t, events[0].Init.RequestID)
		require.Equal(t, EventPresence, events[1].Event)
		require.Equal(t, "Thinking", events[1].Presence.Data)
		require.Equal(t, "reviewer", events[1].Presence.Source)
		require.Equal(t, &DeltaData{V: "You said: "}, events[2].Delta)
		require.Equal(t, &DeltaData{V: "hello"}, events[3].Delta)

		requests := srv.ChatRequests()
		require.Len(t, requests, 1)
		require.Equal(t, map[string]interface{}{
			"message":    "hello",
			"user_id":    "default-user",
			"session_id": session.ID,
			"stream":     true,
			"execute": map[string]interface{}{
				"type":                  "client",
				"signer_wallet_address": signer.Hex(),
			},
		}, requests[0])

		stored, _ := srv.Session(session.ID)
		require.Len(t, stored.History, 2)
		require.Equal(t, "You said: hello", stored.History[1]["content"])
	})

	t.Run("execute only sent for client mode", func(t *testing.T) {
		srv, c := setupServer(t)
		session, err := c.CreateSession(ctx, nil)
		require.NoError(t, err)

		_, err = collect(t, c, &ChatRequest{Message: "a", SessionID: session.ID})
		require.NoError(t, err)
		_, err = collect(t, c, &ChatRequest{Message: "b", SessionID: session.ID, Config: &ExecuteConfig{Mode: ModeEngine, EngineURL: "https://engine"}})
		require.NoError(t, err)

		for _, req := range srv.ChatRequests() {
			_, ok := req["execute"]
			require.False(t, ok)
		}
	})

	t.Run("scripted events", func(t *testing.T) {
		srv, c := setupServer(t)
		session, err := c.CreateSession(ctx, nil)
		require.NoError(t, err)

		srv.SetScript([]testhelper.SSEEvent{
			{Event: "init", Data: `{"session_id":"s","request_id":"r"}`},
			{Event: "delta", Data: ""},
			{Event: "ping", Data: `{}`},
			{Event: "action", Data: `{"type":"sign_transaction","data":"0xabc"}`},
			{Event: "delta", Data: "{\"v\":\n\"multi line\"}"},
		})

		events, err := collect(t, c, &ChatRequest{Message: "x", SessionID: session.ID})
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.Equal(t, "r", events[0].Init.RequestID)
		require.Equal(t, EventAction, events[1].Event)
		require.Equal(t, "sign_transaction", events[1].Action.Type)
		require.JSONEq(t, `"0xabc"`, string(events[1].Action.Data))
		require.Equal(t, "multi line", events[2].Delta.V)
	})

	t.Run("invalid event data", func(t *testing.T) {
		srv, c := setupServer(t)
		session, err := c.CreateSession(ctx, nil)
		require.NoError(t, err)
		srv.SetScript([]testhelper.SSEEvent{{Event: "delta", Data: "not json"}})

		_, err = collect(t, c, &ChatRequest{Message: "x", SessionID: session.ID})
		require.Error(t, err)
	})

	t.Run("request failure", func(t *testing.T) {
		srv, c := setupServer(t)
		session, err := c.CreateSession(ctx, nil)
		require.NoError(t, err)
		srv.SetFail("chat", true)

		_, err = collect(t, c, &ChatRequest{Message: "x", SessionID: session.ID})
		require.ErrorIs(t, err, ErrChatRequest)
	})

	t.Run("canceled context", func(t *testing.T) {
		_, c := setupServer(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := c.Chat(cctx, &ChatRequest{Message: "x", SessionID: "s"}, func(*StreamEvent) {
			t.Fatal("handler called after cancel")
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": keep alive",
		"event: init",
		`data: {"a":1}`,
		"",
		"data:no space",
		"id: 7",
		"",
		"event: delta",
		"data: line one",
		"data: line two",
		"retry: 100",
		"",
		"",
		"event: dropped",
		"data: never terminated",
	}, "\n")

	type pair struct{ event, data string }
	var got []pair
	err := readEvents(strings.NewReader(stream), func(event, data string) error {
		got = append(got, pair{event, data})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []pair{
		{"init", `{"a":1}`},
		{"message", "no space"},
		{"delta", "line one\nline two"},
	}, got)
}

func TestExecuteConfigJSON(t *testing.T) {
	data, err := json.Marshal(&ExecuteConfig{
		Mode:                ModeEngine,
		EngineURL:           "https://engine.example.com",
		SignerWalletAddress: "ignored",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"mode": "engine",
		"engine_url": "https://engine.example.com",
		"engine_authorization_token": "",
		"engine_backend_wallet_address": ""
	}`, string(data))

	data, err = json.Marshal(&ExecuteConfig{Mode: ModeWebhook, WebhookSigningURL: "https://hook", WebhookMetadata: map[string]interface{}{"team": "a"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"mode":"webhook","webhook_signing_url":"https://hook","webhook_metadata":{"team":"a"}}`, string(data))

	var cfg ExecuteConfig
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"session_key","smart_account_address":"0x01","smart_account_factory_address":"0x02","smart_account_session_key":"k"}`), &cfg))
	require.Equal(t, ExecuteConfig{Mode: ModeSessionKey, SmartAccountAddress: "0x01", SmartAccountFactoryAddress: "0x02", SmartAccountSessionKey: "k"}, cfg)

	require.Error(t, json.Unmarshal([]byte(`{"mode":"telepathy"}`), &cfg))
	_, err = json.Marshal(&ExecuteConfig{Mode: "telepathy"})
	require.Error(t, err)
}

func TestExecuteConfigValidate(t *testing.T) {
	valid := []*ExecuteConfig{
		ClientConfig(signer),
		{Mode: ModeEngine, EngineURL: "https://engine", EngineAuthorizationToken: "t", EngineBackendWalletAddress: signer.Hex()},
		{Mode: ModeSessionKey, SmartAccountAddress: signer.Hex(), SmartAccountFactoryAddress: signer.Hex(), SmartAccountSessionKey: "k"},
		{Mode: ModeWebhook, WebhookSigningURL: "https://hook"},
	}
	for _, cfg := range valid {
		require.NoError(t, cfg.Validate(), cfg.Mode)
	}

	invalid := []*ExecuteConfig{
		{Mode: ModeClient, SignerWalletAddress: "0x12"},
		{Mode: ModeEngine, EngineURL: "https://engine"},
		{Mode: ModeSessionKey, SmartAccountAddress: signer.Hex(), SmartAccountFactoryAddress: signer.Hex()},
		{Mode: ModeWebhook},
		{Mode: "other"},
	}
	for _, cfg := range invalid {
		require.Error(t, cfg.Validate(), cfg.Mode)
	}
}
