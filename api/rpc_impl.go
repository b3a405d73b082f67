package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ipfs-force-community/nebula-gateway/connmgr"
	"github.com/ipfs-force-community/nebula-gateway/deploy"
	"github.com/ipfs-force-community/nebula-gateway/nebula"
	"github.com/ipfs-force-community/nebula-gateway/storage"
	"github.com/ipfs-force-community/nebula-gateway/types"
	"github.com/ipfs-force-community/nebula-gateway/version"
	"github.com/ipfs-force-community/nebula-gateway/wallets"
)

var log = logging.Logger("api")

var (
	ErrNebulaDisabled  = errors.New("nebula is not configured")
	ErrNoConversation  = errors.New("no conversation for session")
	ErrCannotSign      = errors.New("active wallet can not sign messages")
	ErrNoSmartAccounts = errors.New("account abstraction needs a factory address")
)

var _ GatewayFullNode = (*GatewayAPIImpl)(nil)

type Options struct {
	Manager *connmgr.ConnectionManager
	Storage storage.AsyncStorage
	// nil disables the nebula methods
	Nebula   *nebula.Client
	Registry *deploy.Registry
	// smart wallet settings, nil disables account abstraction
	AccountAbstraction *wallets.SmartWalletOptions
	// wrap connected wallets in smart wallets unless a request says otherwise
	DefaultAccountAbstraction bool
	DefaultChainID            int64
	AppURL                    string
}

type GatewayAPIImpl struct {
	*connmgr.ConnMgrAPI

	opts    Options
	mgr     *connmgr.ConnectionManager
	stores  *nebula.ChatStores
	configs *nebula.ExecuteConfigStore

	lk            sync.Mutex
	conversations map[string]*nebula.Conversation
}

func NewGatewayAPIImpl(ctx context.Context, opts Options) *GatewayAPIImpl {
	if opts.Registry == nil {
		opts.Registry = deploy.NewRegistry()
	}
	if opts.DefaultChainID == 0 {
		opts.DefaultChainID = 1
	}
	return &GatewayAPIImpl{
		ConnMgrAPI:    connmgr.NewConnMgrAPI(opts.Manager),
		opts:          opts,
		mgr:           opts.Manager,
		stores:        nebula.NewChatStores(),
		configs:       nebula.LoadExecuteConfigStore(ctx, opts.Storage),
		conversations: make(map[string]*nebula.Conversation),
	}
}

func (g *GatewayAPIImpl) Version(_ context.Context) (string, error) {
	return version.UserVersion, nil
}

func (g *GatewayAPIImpl) chain(id int64) *types.Chain {
	if id == 0 {
		id = g.opts.DefaultChainID
	}
	return g.mgr.ChainCache().GetCachedChain(id)
}

func (g *GatewayAPIImpl) connectOptions(chain *types.Chain, override *bool) (*connmgr.ConnectOptions, error) {
	enabled := g.opts.DefaultAccountAbstraction
	if override != nil {
		enabled = *override
	}
	if !enabled {
		return nil, nil
	}
	if g.opts.AccountAbstraction == nil {
		return nil, ErrNoSmartAccounts
	}
	aa := *g.opts.AccountAbstraction
	aa.Chain = chain
	return &connmgr.ConnectOptions{AccountAbstraction: &aa}, nil
}

// localConnectParams are stored so local wallets can be restored by
// AutoConnect after a restart.
type localConnectParams struct {
	PrivateKey string `json:"privateKey"`
	ChainID    int64  `json:"chainId"`
}

func (g *GatewayAPIImpl) ConnectLocalWallet(ctx context.Context, req *ConnectLocalRequest) (*ConnectResult, error) {
	chain := g.chain(req.ChainID)
	opts, err := g.connectOptions(chain, req.AccountAbstraction)
	if err != nil {
		return nil, err
	}

	var wallet *wallets.LocalWallet
	if req.PrivateKey != "" {
		wallet, err = wallets.ImportLocalWallet(req.ID, req.PrivateKey)
	} else {
		wallet, err = wallets.GenerateLocalWallet(req.ID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := wallet.Connect(ctx, chain); err != nil {
		return nil, err
	}

	connected, err := g.mgr.Connect(ctx, wallet, opts)
	if err != nil {
		return nil, err
	}
	params := &localConnectParams{PrivateKey: wallet.ExportKey(), ChainID: chain.ID}
	if err := storage.SaveConnectParams(ctx, g.opts.Storage, wallet.ID(), params); err != nil {
		log.Warnf("save connect params of %s: %v", wallet.ID(), err)
	}

	log.Infow("local wallet connected", "wallet", wallet.ID(), "active", connected.ID(), "chain", chain.ID)
	res := &ConnectResult{WalletID: connected.ID(), Address: connected.GetAccount().Address}
	if smart, ok := connected.(*wallets.SmartWallet); ok {
		res.SponsorGas = smart.SponsorsGas()
	}
	return res, nil
}

// ResolveWallet rebuilds a local wallet from its stored connect params.
func (g *GatewayAPIImpl) ResolveWallet(ctx context.Context, id string, chain *types.Chain) (types.Wallet, error) {
	raw, ok, err := g.opts.Storage.GetItem(ctx, storage.ConnectParamsKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no connect params for %s", id)
	}
	var params localConnectParams
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("decode connect params of %s: %w", id, err)
	}

	wallet, err := wallets.ImportLocalWallet(id, params.PrivateKey)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		chain = g.chain(params.ChainID)
	}
	if _, err := wallet.Connect(ctx, chain); err != nil {
		return nil, err
	}
	return wallet, nil
}

// AutoConnect restores the wallets of the previous run.
func (g *GatewayAPIImpl) AutoConnect(ctx context.Context) error {
	lastChain := storage.GetLastConnectedChain(ctx, g.opts.Storage)
	if lastChain == nil {
		lastChain = g.chain(0)
	}
	opts, err := g.connectOptions(lastChain, nil)
	if err != nil {
		return err
	}
	_, err = g.mgr.AutoConnect(ctx, g.ResolveWallet, opts)
	return err
}

type messageSigner interface {
	SignMessage(msg []byte) ([]byte, error)
}

// WalletSignMessage signs with the active wallet, or with the personal wallet
// behind an active smart wallet.
func (g *GatewayAPIImpl) WalletSignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	active := g.mgr.ActiveWallet.Get()
	if active == nil {
		return nil, connmgr.ErrNoActiveWallet
	}
	if active.ID() == types.SmartWalletID {
		if personal, ok := g.mgr.Wallet(storage.GetStoredActiveWalletID(ctx, g.opts.Storage)); ok {
			active = personal
		}
	}
	signer, ok := active.(messageSigner)
	if !ok {
		return nil, ErrCannotSign
	}
	return signer.SignMessage(msg)
}

func (g *GatewayAPIImpl) nebulaClient() (*nebula.Client, error) {
	if g.opts.Nebula == nil {
		return nil, ErrNebulaDisabled
	}
	return g.opts.Nebula, nil
}

func (g *GatewayAPIImpl) account() common.Address {
	if account := g.mgr.ActiveAccount.Get(); account != nil {
		return account.Address
	}
	return common.Address{}
}

// conversation returns the conversation of sessionID, loading its history
// the first time. An empty id starts a new conversation.
func (g *GatewayAPIImpl) conversation(ctx context.Context, client *nebula.Client, sessionID string) (*nebula.Conversation, error) {
	g.lk.Lock()
	conv, ok := g.conversations[sessionID]
	g.lk.Unlock()
	if ok && sessionID != "" {
		return conv, nil
	}

	opts := nebula.ConversationOptions{
		Client:  client,
		Stores:  g.stores,
		Configs: g.configs,
		Account: g.account(),
		AppURL:  g.opts.AppURL,
	}
	if sessionID != "" {
		session, err := client.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		opts.Session = session
	}
	conv = nebula.NewConversation(opts)
	if sessionID != "" {
		g.track(sessionID, conv)
	}
	return conv, nil
}

func (g *GatewayAPIImpl) track(sessionID string, conv *nebula.Conversation) {
	g.lk.Lock()
	defer g.lk.Unlock()
	if _, ok := g.conversations[sessionID]; !ok {
		g.conversations[sessionID] = conv
	}
}

func (g *GatewayAPIImpl) NebulaCreateSession(ctx context.Context, cfg *nebula.ExecuteConfig) (*nebula.CreatedSession, error) {
	client, err := g.nebulaClient()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = g.configs.Get()
	}
	return client.CreateSession(ctx, cfg)
}

func (g *GatewayAPIImpl) NebulaListSessions(ctx context.Context) ([]nebula.TruncatedSessionInfo, error) {
	client, err := g.nebulaClient()
	if err != nil {
		return nil, err
	}
	return client.ListSessions(ctx)
}

func (g *GatewayAPIImpl) NebulaGetSession(ctx context.Context, id string) (*nebula.SessionInfo, error) {
	client, err := g.nebulaClient()
	if err != nil {
		return nil, err
	}
	return client.GetSession(ctx, id)
}

func (g *GatewayAPIImpl) NebulaDeleteSession(ctx context.Context, id string) error {
	client, err := g.nebulaClient()
	if err != nil {
		return err
	}
	if err := g.stores.DeleteSession(ctx, client, id); err != nil {
		return err
	}
	g.lk.Lock()
	delete(g.conversations, id)
	g.lk.Unlock()
	return nil
}

func (g *GatewayAPIImpl) NebulaFeedback(ctx context.Context, sessionID, requestID string, rating nebula.Rating) error {
	client, err := g.nebulaClient()
	if err != nil {
		return err
	}
	return client.SubmitFeedback(ctx, sessionID, requestID, rating)
}

// NebulaSendMessage sends message in the conversation of sessionID and
// returns every message of it once the answer is complete.
func (g *GatewayAPIImpl) NebulaSendMessage(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	client, err := g.nebulaClient()
	if err != nil {
		return nil, err
	}
	conv, err := g.conversation(ctx, client, sessionID)
	if err != nil {
		return nil, err
	}

	sendErr := conv.SendMessage(ctx, message)
	if id := conv.SessionID.Get(); id != "" {
		g.track(id, conv)
	}
	if sendErr != nil {
		return nil, sendErr
	}
	return &ChatReply{SessionID: conv.SessionID.Get(), Messages: conv.Messages.Get()}, nil
}

func (g *GatewayAPIImpl) NebulaAbort(_ context.Context, sessionID string) error {
	g.lk.Lock()
	conv, ok := g.conversations[sessionID]
	g.lk.Unlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrNoConversation, sessionID)
	}
	conv.Abort()
	return nil
}

// NebulaChat streams the raw events of one prompt. The channel is closed
// when the answer is complete or the caller goes away.
func (g *GatewayAPIImpl) NebulaChat(ctx context.Context, sessionID, message string) (<-chan *nebula.StreamEvent, error) {
	client, err := g.nebulaClient()
	if err != nil {
		return nil, err
	}
	cfg := g.configs.Get()
	if cfg == nil {
		cfg = nebula.ClientConfig(g.account())
	}

	out := make(chan *nebula.StreamEvent, 16)
	go func() {
		defer close(out)
		err := client.Chat(ctx, &nebula.ChatRequest{Message: message, SessionID: sessionID, Config: cfg}, func(event *nebula.StreamEvent) {
			select {
			case out <- event:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warnw("chat stream failed", "session", sessionID, "err", err)
		}
	}()
	return out, nil
}

// NebulaSetExecuteConfig saves cfg as the default execute config. With a
// session id the session is updated too.
func (g *GatewayAPIImpl) NebulaSetExecuteConfig(ctx context.Context, sessionID string, cfg *nebula.ExecuteConfig) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if sessionID == "" {
		g.configs.Save(ctx, cfg)
		return nil
	}

	client, err := g.nebulaClient()
	if err != nil {
		return err
	}
	conv, err := g.conversation(ctx, client, sessionID)
	if err != nil {
		return err
	}
	return conv.UpdateConfig(ctx, cfg)
}

func (g *GatewayAPIImpl) DeployResolveParams(ctx context.Context, chainID int64, params deploy.Params) (map[string]string, error) {
	deployer := deploy.NewPublishedDeployer(g.opts.Registry, deploy.NewPlanDeployer(common.Address{}, 0))
	return deployer.Resolver().ResolveAll(ctx, g.chain(chainID), params)
}

// DeployPlan predicts the deployments needed for a published contract,
// reference parameters included, without sending anything.
func (g *GatewayAPIImpl) DeployPlan(ctx context.Context, req *DeployPlanRequest) (*DeployPlan, error) {
	planner := deploy.NewPlanDeployer(req.From, req.Nonce)
	deployer := deploy.NewPublishedDeployer(g.opts.Registry, planner)

	addr, err := deployer.DeployPublishedContract(ctx, &deploy.DeployPublishedOptions{
		Chain:          g.chain(req.ChainID),
		ContractID:     req.ContractID,
		Publisher:      req.Publisher,
		Version:        req.Version,
		ContractParams: req.Params,
		Salt:           req.Salt,
	})
	if err != nil {
		return nil, err
	}
	return &DeployPlan{Address: addr, Steps: planner.Steps()}, nil
}
