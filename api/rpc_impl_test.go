package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/nebula-gateway/connmgr"
	"github.com/ipfs-force-community/nebula-gateway/deploy"
	"github.com/ipfs-force-community/nebula-gateway/nebula"
	"github.com/ipfs-force-community/nebula-gateway/storage"
	"github.com/ipfs-force-community/nebula-gateway/testhelper"
	"github.com/ipfs-force-community/nebula-gateway/types"
	"github.com/ipfs-force-community/nebula-gateway/wallets"
)

const nebulaToken = "nebula-token"

func aaOptions() *wallets.SmartWalletOptions {
	return &wallets.SmartWalletOptions{
		FactoryAddress: common.HexToAddress("0x85e23b94e7F5E9cC1fF78BCe78cfb15B81f0DF00"),
		InitCodeHash:   crypto.Keccak256Hash([]byte("account proxy")),
	}
}

func setupGateway(t *testing.T, s storage.AsyncStorage, opts Options) *GatewayAPIImpl {
	ctx := context.Background()
	if s == nil {
		s = storage.NewMemStorage()
	}
	mgr := connmgr.New(ctx, s)
	t.Cleanup(mgr.Close)

	opts.Manager = mgr
	opts.Storage = s
	return NewGatewayAPIImpl(ctx, opts)
}

func setupNebula(t *testing.T) (*testhelper.NebulaServer, *nebula.Client) {
	srv := testhelper.NewNebulaServer(nebulaToken)
	t.Cleanup(srv.Close)
	return srv, nebula.NewClient(srv.URL, nebulaToken)
}

func TestConnectLocalWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("generated key", func(t *testing.T) {
		g := setupGateway(t, nil, Options{})
		res, err := g.ConnectLocalWallet(ctx, &ConnectLocalRequest{})
		require.NoError(t, err)
		require.Equal(t, wallets.LocalWalletID, res.WalletID)
		require.NotEqual(t, common.Address{}, res.Address)

		status, err := g.WalletStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, types.StatusConnected, status.Status)
		require.Equal(t, int64(1), status.ActiveChain.ID)
	})

	t.Run("imported key", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		g := setupGateway(t, nil, Options{})

		res, err := g.ConnectLocalWallet(ctx, &ConnectLocalRequest{
			ID:         "io.example",
			PrivateKey: common.Bytes2Hex(crypto.FromECDSA(key)),
			ChainID:    137,
		})
		require.NoError(t, err)
		require.Equal(t, "io.example", res.WalletID)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), res.Address)

		_, err = g.ConnectLocalWallet(ctx, &ConnectLocalRequest{PrivateKey: "not a key"})
		require.Error(t, err)
	})

	t.Run("reconnect with the default id", func(t *testing.T) {
		g := setupGateway(t, nil, Options{})
		_, err := g.ConnectLocalWallet(ctx, &ConnectLocalRequest{})
		require.NoError(t, err)
		second, err := g.ConnectLocalWallet(ctx, &ConnectLocalRequest{})
		require.NoError(t, err)

		status, err := g.WalletStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{wallets.LocalWalletID}, status.ConnectedWalletIDs)
		require.Equal(t, second.Address, status.ActiveAccount.Address)

		require.NoError(t, g.DisconnectWallet(ctx, wallets.LocalWalletID))
		status, err = g.WalletStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, types.StatusDisconnected, status.Status)
		require.Empty(t, status.ConnectedWalletIDs)
	})

	t.Run("account abstraction", func(t *testing.T) {
		sponsored := aaOptions()
		sponsored.Sponsor = true
		g := setupGateway(t, nil, Options{AccountAbstraction: sponsored, DefaultAccountAbstraction: true})
		res, err := g.ConnectLocalWallet(ctx, &ConnectLocalRequest{})
		require.NoError(t, err)
		require.Equal(t, types.SmartWalletID, res.WalletID)
		require.True(t, res.SponsorGas)

		connected, err := g.ListConnectedWallets(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{wallets.LocalWalletID, types.SmartWalletID}, connected)

		disabled := false
		res, err = g.ConnectLocalWallet(ctx, &ConnectLocalRequest{ID: "plain", AccountAbstraction: &disabled})
		require.NoError(t, err)
		require.Equal(t, "plain", res.WalletID)
	})

	t.Run("account abstraction without factory", func(t *testing.T) {
		g := setupGateway(t, nil, Options{})
		enabled := true
		_, err := g.ConnectLocalWallet(ctx, &ConnectLocalRequest{AccountAbstraction: &enabled})
		require.ErrorIs(t, err, ErrNoSmartAccounts)
	})
}

func TestAutoConnect(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	first := setupGateway(t, s, Options{})
	res, err := first.ConnectLocalWallet(ctx, &ConnectLocalRequest{ChainID: 137})
	require.NoError(t, err)

	second := setupGateway(t, s, Options{})
	require.NoError(t, second.AutoConnect(ctx))

	status, err := second.WalletStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, types.StatusConnected, status.Status)
	require.Equal(t, wallets.LocalWalletID, status.ActiveWalletID)
	require.Equal(t, res.Address, status.ActiveAccount.Address)
	require.Equal(t, int64(137), status.ActiveChain.ID)

	t.Run("nothing stored", func(t *testing.T) {
		g := setupGateway(t, nil, Options{})
		require.NoError(t, g.AutoConnect(ctx))
		id, err := g.ActiveWalletID(ctx)
		require.NoError(t, err)
		require.Empty(t, id)
	})

	t.Run("missing params", func(t *testing.T) {
		g := setupGateway(t, nil, Options{})
		_, err := g.ResolveWallet(ctx, "unknown", nil)
		require.Error(t, err)
	})
}

func TestWalletSignMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("no active wallet", func(t *testing.T) {
		g := setupGateway(t, nil, Options{})
		_, err := g.WalletSignMessage(ctx, []byte("hi"))
		require.ErrorIs(t, err, connmgr.ErrNoActiveWallet)
	})

	for _, aa := range []bool{false, true} {
		g := setupGateway(t, nil, Options{AccountAbstraction: aaOptions(), DefaultAccountAbstraction: aa})
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		_, err = g.ConnectLocalWallet(ctx, &ConnectLocalRequest{PrivateKey: common.Bytes2Hex(crypto.FromECDSA(key))})
		require.NoError(t, err)

		sig, err := g.WalletSignMessage(ctx, []byte("hello"))
		require.NoError(t, err)
		require.Len(t, sig, 65)

		pub, err := crypto.SigToPub(crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n5hello")), sig)
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
	}
}

func TestNebulaMethods(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		g := setupGateway(t, nil, Options{})
		_, err := g.NebulaListSessions(ctx)
		require.ErrorIs(t, err, ErrNebulaDisabled)
		_, err = g.NebulaSendMessage(ctx, "", "hi")
		require.ErrorIs(t, err, ErrNebulaDisabled)
		_, err = g.NebulaChat(ctx, "s", "hi")
		require.ErrorIs(t, err, ErrNebulaDisabled)
	})

	t.Run("conversation", func(t *testing.T) {
		srv, client := setupNebula(t)
		g := setupGateway(t, nil, Options{Nebula: client, AppURL: "https://nebula.example.com"})

		reply, err := g.NebulaSendMessage(ctx, "", "hi")
		require.NoError(t, err)
		require.NotEmpty(t, reply.SessionID)
		require.Len(t, reply.Messages, 2)
		require.Equal(t, "You said: hi", reply.Messages[1].Text)

		reply, err = g.NebulaSendMessage(ctx, reply.SessionID, "again")
		require.NoError(t, err)
		require.Len(t, reply.Messages, 4)
		require.Equal(t, 1, srv.SessionCount())

		// another gateway picks the history up from the service
		other := setupGateway(t, nil, Options{Nebula: client})
		resumed, err := other.NebulaSendMessage(ctx, reply.SessionID, "third")
		require.NoError(t, err)
		require.Len(t, resumed.Messages, 6)

		list, err := g.NebulaListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)

		info, err := g.NebulaGetSession(ctx, reply.SessionID)
		require.NoError(t, err)
		require.Len(t, info.History, 6)

		require.NoError(t, g.NebulaAbort(ctx, reply.SessionID))
		require.NoError(t, g.NebulaDeleteSession(ctx, reply.SessionID))
		require.Equal(t, []string{reply.SessionID}, g.stores.DeletedSessions.Get())
		require.ErrorIs(t, g.NebulaAbort(ctx, reply.SessionID), ErrNoConversation)
	})

	t.Run("send failure", func(t *testing.T) {
		srv, client := setupNebula(t)
		srv.SetFail("create", true)
		g := setupGateway(t, nil, Options{Nebula: client})

		_, err := g.NebulaSendMessage(ctx, "", "hi")
		require.ErrorIs(t, err, nebula.ErrCreateSession)
	})

	t.Run("raw stream", func(t *testing.T) {
		_, client := setupNebula(t)
		g := setupGateway(t, nil, Options{Nebula: client})
		created, err := g.NebulaCreateSession(ctx, nil)
		require.NoError(t, err)

		events, err := g.NebulaChat(ctx, created.ID, "stream")
		require.NoError(t, err)
		var got []nebula.EventType
		for event := range events {
			got = append(got, event.Event)
		}
		require.Equal(t, []nebula.EventType{nebula.EventInit, nebula.EventPresence, nebula.EventDelta, nebula.EventDelta}, got)
	})

	t.Run("execute config", func(t *testing.T) {
		srv, client := setupNebula(t)
		g := setupGateway(t, nil, Options{Nebula: client})
		webhook := &nebula.ExecuteConfig{Mode: nebula.ModeWebhook, WebhookSigningURL: "https://hook"}

		require.Error(t, g.NebulaSetExecuteConfig(ctx, "", &nebula.ExecuteConfig{Mode: nebula.ModeWebhook}))
		require.NoError(t, g.NebulaSetExecuteConfig(ctx, "", webhook))
		require.Equal(t, webhook, g.configs.Get())

		created, err := g.NebulaCreateSession(ctx, nil)
		require.NoError(t, err)
		session, _ := srv.Session(created.ID)
		require.True(t, session.CanExecute)

		engine := &nebula.ExecuteConfig{Mode: nebula.ModeEngine, EngineURL: "https://engine", EngineAuthorizationToken: "t", EngineBackendWalletAddress: "0x01"}
		require.NoError(t, g.NebulaSetExecuteConfig(ctx, created.ID, engine))
		session, _ = srv.Session(created.ID)
		require.Contains(t, string(session.Config), `"mode":"engine"`)
	})

	t.Run("feedback", func(t *testing.T) {
		srv, client := setupNebula(t)
		g := setupGateway(t, nil, Options{Nebula: client})
		require.NoError(t, g.NebulaFeedback(ctx, "s", "r", nebula.RatingGood))
		require.Len(t, srv.Feedback(), 1)
	})
}

func TestDeployMethods(t *testing.T) {
	ctx := context.Background()
	from := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	ref := deploy.Dynamic(&deploy.DynamicValue{
		Type:         deploy.DynamicAddress,
		RefContracts: []deploy.RefContract{{PublisherAddress: "0xdeployer", ContractID: "Registry", Version: "1.0.0"}},
	})

	registry := deploy.NewRegistry()
	registry.Add(&deploy.Metadata{Name: "Registry", Publisher: "0xdeployer", Version: "1.0.0"})
	registry.Add(&deploy.Metadata{
		Name:              "Marketplace",
		Publisher:         "0xdeployer",
		Version:           "1.0.0",
		ConstructorParams: deploy.Params{"registry": ref, "fee": deploy.Literal("100")},
	})
	g := setupGateway(t, nil, Options{Registry: registry})

	plan, err := g.DeployPlan(ctx, &DeployPlanRequest{ChainID: 137, ContractID: "Marketplace", Publisher: "0xDeployer", From: from})
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(from, 1), plan.Address)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, "Registry", plan.Steps[0].Name)
	require.Equal(t, int64(137), plan.Steps[1].ChainID)
	require.Equal(t, plan.Steps[0].Address.Hex(), plan.Steps[1].Params["registry"])
	require.Equal(t, "100", plan.Steps[1].Params["fee"])

	resolved, err := g.DeployResolveParams(ctx, 1, deploy.Params{"registry": ref, "owner": deploy.Default("0x01")})
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"registry": crypto.CreateAddress(common.Address{}, 0).Hex(),
		"owner":    "0x01",
	}, resolved)

	_, err = g.DeployPlan(ctx, &DeployPlanRequest{ContractID: "Unknown", Publisher: "0xdeployer"})
	require.Error(t, err)
}

func TestPermissionsFor(t *testing.T) {
	require.Equal(t, []auth.Permission{"admin", "sign", "write", "read"}, PermissionsFor(PermAdmin))
	require.Equal(t, []auth.Permission{"write", "read"}, PermissionsFor(PermWrite))
	require.Nil(t, PermissionsFor("root"))
}

func TestPermissionProxyOverRPC(t *testing.T) {
	ctx := context.Background()
	g := setupGateway(t, nil, Options{})

	var full GatewayFullNodeStruct
	PermissionProxy(g, &full.Internal)
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Gateway", &full)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms := PermissionsFor(r.Header.Get("X-Perm"))
		rpcServer.ServeHTTP(w, r.WithContext(auth.WithPerm(r.Context(), perms)))
	}))
	t.Cleanup(srv.Close)

	dial := func(perm string) *GatewayFullNodeStruct {
		var client GatewayFullNodeStruct
		header := http.Header{}
		header.Set("X-Perm", perm)
		closer, err := jsonrpc.NewMergeClient(ctx, "ws://"+strings.TrimPrefix(srv.URL, "http://"), "Gateway",
			[]interface{}{&client.Internal}, header)
		require.NoError(t, err)
		t.Cleanup(closer)
		return &client
	}

	reader := dial(PermRead)
	status, err := reader.WalletStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, types.StatusDisconnected, status.Status)

	err = reader.SetActiveWallet(ctx, "local")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing permission to invoke 'SetActiveWallet'")
	_, err = reader.ConnectLocalWallet(ctx, &ConnectLocalRequest{})
	require.Contains(t, err.Error(), "need 'admin'")

	admin := dial(PermAdmin)
	res, err := admin.ConnectLocalWallet(ctx, &ConnectLocalRequest{ChainID: 137})
	require.NoError(t, err)
	status, err = reader.WalletStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, types.StatusConnected, status.Status)
	require.Equal(t, res.Address, status.ActiveAccount.Address)

	version, err := reader.Version(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, version)
}
