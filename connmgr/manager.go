package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/modern-go/reflect2"
	pkgerrors "github.com/pkg/errors"
	"go.opencensus.io/tag"

	"github.com/ipfs-force-community/nebula-gateway/metrics"
	"github.com/ipfs-force-community/nebula-gateway/reactive"
	"github.com/ipfs-force-community/nebula-gateway/storage"
	"github.com/ipfs-force-community/nebula-gateway/types"
	"github.com/ipfs-force-community/nebula-gateway/wallets"
)

var log = logging.Logger("conn_mgr")

var (
	ErrNoAccount              = errors.New("can not set a wallet without an account as active")
	ErrNoActiveWallet         = errors.New("no wallet found")
	ErrSwitchChainUnsupported = errors.New("wallet does not support switching chains")
	ErrNilWallet              = errors.New("wallet is nil")
)

// isNilWallet also catches typed nil pointers stored in the interface.
func isNilWallet(wallet types.Wallet) bool {
	return wallet == nil || reflect2.IsNil(wallet)
}

// SmartWallet is the account abstraction adapter the manager wraps personal
// wallets in.
type SmartWallet interface {
	types.Wallet
	Connect(ctx context.Context, personal *types.Account) (*types.Account, error)
}

type SmartWalletFactory func(opts *wallets.SmartWalletOptions) SmartWallet

func defaultSmartWalletFactory(opts *wallets.SmartWalletOptions) SmartWallet {
	return wallets.NewSmartWallet(opts)
}

type ConnectOptions struct {
	// wrap the connected wallet in a smart wallet when set
	AccountAbstraction *wallets.SmartWalletOptions
	OnConnect          func(wallet types.Wallet)
}

type Option func(*ConnectionManager)

func WithSmartWalletFactory(factory SmartWalletFactory) Option {
	return func(m *ConnectionManager) {
		m.newSmartWallet = factory
	}
}

func WithChainCache(cache *types.ChainCache) Option {
	return func(m *ConnectionManager) {
		m.chainCache = cache
	}
}

type IConnectionManager interface {
	Connect(ctx context.Context, wallet types.Wallet, opts *ConnectOptions) (types.Wallet, error)
	SetActiveWallet(ctx context.Context, wallet types.Wallet) error
	DisconnectWallet(ctx context.Context, wallet types.Wallet) error
	SwitchActiveWalletChain(ctx context.Context, chain *types.Chain) error
	DefineChains(chains []*types.Chain)
	Status() *Status
}

var _ IConnectionManager = (*ConnectionManager)(nil)

// ConnectionManager owns the active wallet state of one session. Wallets must
// be pointer types, they are compared by identity.
type ConnectionManager struct {
	ctx            context.Context
	storage        storage.AsyncStorage
	chainCache     *types.ChainCache
	newSmartWallet SmartWalletFactory

	// serializes the exported actions and the wallet event handlers that
	// reconnect or disconnect. Wallets must not emit those events while an
	// action is running.
	actionLk sync.Mutex

	ActiveWallet     *reactive.Store[types.Wallet]
	ActiveAccount    *reactive.Store[*types.Account]
	ActiveChain      *reactive.Store[*types.Chain]
	ConnectionStatus *reactive.Store[types.ConnectionStatus]
	DefinedChains    *reactive.Store[map[int64]*types.Chain]
	WalletMap        *reactive.Store[*WalletMap]
	IsAutoConnecting *reactive.Store[bool]
	ConnectedWallets *reactive.ComputedStore[[]types.Wallet]

	subLk        sync.Mutex
	activeSubs   []types.Unsubscribe
	personalSubs map[string]types.Unsubscribe

	stopEffects []func()
}

func New(ctx context.Context, s storage.AsyncStorage, opts ...Option) *ConnectionManager {
	m := &ConnectionManager{
		ctx:            ctx,
		storage:        s,
		chainCache:     types.NewChainCache(),
		newSmartWallet: defaultSmartWalletFactory,

		ActiveWallet:     reactive.NewStore[types.Wallet](nil),
		ActiveAccount:    reactive.NewStore[*types.Account](nil),
		ActiveChain:      reactive.NewStore[*types.Chain](nil),
		ConnectionStatus: reactive.NewStore(types.StatusDisconnected),
		DefinedChains:    reactive.NewStore(map[int64]*types.Chain{}),
		WalletMap:        reactive.NewStore(newWalletMap()),
		IsAutoConnecting: reactive.NewStore(false),

		personalSubs: make(map[string]types.Unsubscribe),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.ConnectedWallets = reactive.Computed(func() []types.Wallet {
		return m.WalletMap.Get().Wallets()
	}, []reactive.Subscribable{m.WalletMap})

	m.stopEffects = []func(){
		// keep the chain cache in sync with the defined chains
		reactive.Effect(func() {
			defined := m.DefinedChains.Get()
			chains := make([]*types.Chain, 0, len(defined))
			for _, chain := range defined {
				chains = append(chains, chain)
			}
			m.chainCache.CacheChains(chains)
		}, []reactive.Subscribable{m.DefinedChains}, true),

		// prefer the defined descriptor over the one reported by the wallet
		reactive.Effect(func() {
			chain := m.ActiveChain.Get()
			if chain == nil {
				return
			}
			defined, ok := m.DefinedChains.Get()[chain.ID]
			if !ok || defined == chain || types.ChainsEqual(defined, chain) {
				return
			}
			m.ActiveChain.Set(defined)
		}, []reactive.Subscribable{m.DefinedChains, m.ActiveChain}, true),

		reactive.Effect(m.persistActiveChain, []reactive.Subscribable{m.ActiveChain}, false),
		reactive.Effect(m.persistConnectedWalletIDs, []reactive.Subscribable{m.ConnectedWallets}, false),
	}

	return m
}

// ChainCache is refreshed every time DefineChains changes the defined chains.
func (m *ConnectionManager) ChainCache() *types.ChainCache {
	return m.chainCache
}

func (m *ConnectionManager) Storage() storage.AsyncStorage {
	return m.storage
}

// Connect makes wallet the active wallet. With account abstraction options the
// wallet is wrapped in a smart wallet which becomes active instead, the
// original wallet stays tracked as the personal wallet.
func (m *ConnectionManager) Connect(ctx context.Context, wallet types.Wallet, opts *ConnectOptions) (types.Wallet, error) {
	if isNilWallet(wallet) {
		return nil, ErrNilWallet
	}

	m.actionLk.Lock()
	defer m.actionLk.Unlock()

	connected, err := m.connect(ctx, wallet, opts)
	if err != nil {
		return nil, err
	}

	unsub := wallet.Subscribe(types.AccountChanged, func(interface{}) {
		m.actionLk.Lock()
		defer m.actionLk.Unlock()
		if _, err := m.connect(m.ctx, wallet, opts); err != nil {
			log.Warnf("reconnect wallet %s after account change: %v", wallet.ID(), err)
		}
	})
	m.replacePersonalSub(wallet.ID(), unsub)

	metrics.Record(ctx, metrics.WalletConnect, tag.Upsert(metrics.WalletIDKey, connected.ID()))
	log.Infow("wallet connected", "wallet", wallet.ID(), "active", connected.ID())
	return connected, nil
}

func (m *ConnectionManager) connect(ctx context.Context, wallet types.Wallet, opts *ConnectOptions) (types.Wallet, error) {
	connected, err := m.handleConnection(ctx, wallet, opts)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.OnConnect != nil {
		opts.OnConnect(connected)
	}
	if err := m.handleSetActiveWallet(connected); err != nil {
		return nil, err
	}
	return connected, nil
}

// handleConnection tracks wallet as connected without activating it.
func (m *ConnectionManager) handleConnection(ctx context.Context, wallet types.Wallet, opts *ConnectOptions) (types.Wallet, error) {
	account := wallet.GetAccount()
	if account == nil {
		return nil, ErrNoAccount
	}

	var active types.Wallet = wallet
	if opts != nil && opts.AccountAbstraction != nil && !types.HasSmartAccount(wallet) {
		smart := m.newSmartWallet(opts.AccountAbstraction)
		if _, err := smart.Connect(ctx, account); err != nil {
			return nil, pkgerrors.Wrap(err, "connect smart wallet")
		}
		active = smart
	}

	m.addConnectedWallet(wallet)

	if wallet.ID() != types.SmartWalletID {
		if err := m.storage.SetItem(ctx, storage.ActiveWalletIDKey, wallet.ID()); err != nil {
			log.Warnf("save active wallet id %s: %v", wallet.ID(), err)
		}
	}

	return active, nil
}

func (m *ConnectionManager) handleSetActiveWallet(wallet types.Wallet) error {
	account := wallet.GetAccount()
	if account == nil {
		return ErrNoAccount
	}

	m.addConnectedWallet(wallet)

	m.ActiveWallet.Set(wallet)
	m.ActiveAccount.Set(account)
	m.ActiveChain.Set(wallet.GetChain())
	m.ConnectionStatus.Set(types.StatusConnected)

	subs := []types.Unsubscribe{
		wallet.Subscribe(types.AccountChanged, func(data interface{}) {
			if account, ok := data.(*types.Account); ok {
				m.ActiveAccount.Set(account)
			}
		}),
		wallet.Subscribe(types.ChainChanged, func(data interface{}) {
			if chain, ok := data.(*types.Chain); ok {
				m.ActiveChain.Set(chain)
			}
		}),
		wallet.Subscribe(types.Disconnect, func(interface{}) {
			m.actionLk.Lock()
			defer m.actionLk.Unlock()
			m.onWalletDisconnect(m.ctx, wallet)
		}),
	}
	m.replaceActiveSubs(subs)
	return nil
}

// SetActiveWallet activates an already connected wallet, no account
// abstraction wrapping is applied.
func (m *ConnectionManager) SetActiveWallet(ctx context.Context, wallet types.Wallet) error {
	if isNilWallet(wallet) {
		return ErrNilWallet
	}

	m.actionLk.Lock()
	defer m.actionLk.Unlock()

	if err := m.handleSetActiveWallet(wallet); err != nil {
		return err
	}

	if wallet.ID() != types.SmartWalletID {
		if err := m.storage.SetItem(ctx, storage.ActiveWalletIDKey, wallet.ID()); err != nil {
			log.Warnf("save active wallet id %s: %v", wallet.ID(), err)
		}
	}
	return nil
}

func (m *ConnectionManager) DisconnectWallet(ctx context.Context, wallet types.Wallet) error {
	if isNilWallet(wallet) {
		return ErrNilWallet
	}

	m.actionLk.Lock()
	m.onWalletDisconnect(ctx, wallet)
	m.actionLk.Unlock()

	metrics.Record(ctx, metrics.WalletDisconnect, tag.Upsert(metrics.WalletIDKey, wallet.ID()))
	log.Infof("wallet %s disconnected", wallet.ID())
	return wallet.Disconnect(ctx)
}

func (m *ConnectionManager) onWalletDisconnect(ctx context.Context, wallet types.Wallet) {
	storage.DeleteConnectParams(ctx, m.storage, wallet.ID())
	m.removeConnectedWallet(wallet)
	m.releasePersonalSub(wallet.ID())

	if m.ActiveWallet.Get() != wallet {
		return
	}

	if err := m.storage.RemoveItem(ctx, storage.ActiveWalletIDKey); err != nil {
		log.Warnf("remove active wallet id: %v", err)
	}
	m.ActiveAccount.Set(nil)
	m.ActiveChain.Set(nil)
	m.ActiveWallet.Set(nil)
	m.ConnectionStatus.Set(types.StatusDisconnected)
	m.releaseActiveSubs()
}

// SwitchActiveWalletChain switches the network of the active wallet. A smart
// wallet switches its personal wallet first.
func (m *ConnectionManager) SwitchActiveWalletChain(ctx context.Context, chain *types.Chain) error {
	m.actionLk.Lock()
	defer m.actionLk.Unlock()

	wallet := m.ActiveWallet.Get()
	if wallet == nil {
		return ErrNoActiveWallet
	}
	switcher, ok := wallet.(types.ChainSwitcher)
	if !ok {
		return ErrSwitchChainUnsupported
	}

	if wallet.ID() == types.SmartWalletID {
		if personalID := storage.GetStoredActiveWalletID(ctx, m.storage); personalID != "" {
			if personal, ok := m.WalletMap.Get().Get(personalID); ok {
				if personalSwitcher, ok := personal.(types.ChainSwitcher); ok {
					if err := personalSwitcher.SwitchChain(ctx, chain); err != nil {
						return pkgerrors.Wrapf(err, "switch chain of personal wallet %s", personalID)
					}
				} else {
					log.Warnf("personal wallet %s can not switch chain", personalID)
				}
			}
		}
		if err := switcher.SwitchChain(ctx, chain); err != nil {
			return err
		}
		// the smart account is recreated on switch
		if err := m.handleSetActiveWallet(wallet); err != nil {
			return err
		}
	} else if err := switcher.SwitchChain(ctx, chain); err != nil {
		return err
	}

	// wallets that do not emit chainChanged
	m.ActiveChain.Set(wallet.GetChain())

	metrics.Record(ctx, metrics.WalletSwitchChain,
		tag.Upsert(metrics.WalletIDKey, wallet.ID()),
		tag.Upsert(metrics.ChainIDKey, strconv.FormatInt(chain.ID, 10)))
	return nil
}

// DefineChains merges chains into the defined chains. Nothing is published
// when every chain equals its current definition.
func (m *ConnectionManager) DefineChains(chains []*types.Chain) {
	m.actionLk.Lock()
	defer m.actionLk.Unlock()

	current := m.DefinedChains.Get()
	allSame := true
	for _, chain := range chains {
		if !types.ChainsEqual(current[chain.ID], chain) {
			allSame = false
			break
		}
	}
	if allSame {
		return
	}

	next := make(map[int64]*types.Chain, len(current)+len(chains))
	for id, chain := range current {
		next[id] = chain
	}
	for _, chain := range chains {
		next[chain.ID] = chain
	}
	m.DefinedChains.Set(next)
}

// Wallet looks up a connected wallet by id.
func (m *ConnectionManager) Wallet(id string) (types.Wallet, bool) {
	return m.WalletMap.Get().Get(id)
}

// addConnectedWallet stores wallet under its id. A different wallet already
// stored under the id is replaced, the same wallet publishes nothing.
func (m *ConnectionManager) addConnectedWallet(wallet types.Wallet) {
	m.WalletMap.Modify(func(prev *WalletMap) (*WalletMap, bool) {
		if existing, ok := prev.Get(wallet.ID()); ok && existing == wallet {
			return prev, false
		}
		return prev.with(wallet), true
	})
}

// removeConnectedWallet keeps a newer wallet that replaced wallet under the
// same id.
func (m *ConnectionManager) removeConnectedWallet(wallet types.Wallet) {
	m.WalletMap.Modify(func(prev *WalletMap) (*WalletMap, bool) {
		if existing, ok := prev.Get(wallet.ID()); !ok || existing != wallet {
			return prev, false
		}
		return prev.without(wallet.ID()), true
	})
}

func (m *ConnectionManager) persistActiveChain() {
	chain := m.ActiveChain.Get()
	if chain == nil {
		if err := m.storage.RemoveItem(m.ctx, storage.ActiveChainKey); err != nil {
			log.Warnf("remove active chain: %v", err)
		}
		return
	}

	data, err := json.Marshal(chain)
	if err != nil {
		log.Warnf("encode active chain %d: %v", chain.ID, err)
		return
	}
	if err := m.storage.SetItem(m.ctx, storage.ActiveChainKey, string(data)); err != nil {
		log.Warnf("save active chain %d: %v", chain.ID, err)
	}
}

func (m *ConnectionManager) persistConnectedWalletIDs() {
	ids := make([]string, 0)
	for _, wallet := range m.ConnectedWallets.Get() {
		if wallet.ID() != "" {
			ids = append(ids, wallet.ID())
		}
	}

	data, err := json.Marshal(ids)
	if err != nil {
		log.Warnf("encode connected wallet ids: %v", err)
		return
	}
	if err := m.storage.SetItem(m.ctx, storage.ConnectedWalletIDsKey, string(data)); err != nil {
		log.Warnf("save connected wallet ids: %v", err)
	}
}

func (m *ConnectionManager) replaceActiveSubs(subs []types.Unsubscribe) {
	m.subLk.Lock()
	previous := m.activeSubs
	m.activeSubs = subs
	m.subLk.Unlock()

	for _, unsub := range previous {
		unsub()
	}
}

func (m *ConnectionManager) releaseActiveSubs() {
	m.replaceActiveSubs(nil)
}

func (m *ConnectionManager) replacePersonalSub(id string, unsub types.Unsubscribe) {
	m.subLk.Lock()
	previous, ok := m.personalSubs[id]
	m.personalSubs[id] = unsub
	m.subLk.Unlock()

	if ok {
		previous()
	}
}

func (m *ConnectionManager) releasePersonalSub(id string) {
	m.subLk.Lock()
	unsub, ok := m.personalSubs[id]
	delete(m.personalSubs, id)
	m.subLk.Unlock()

	if ok {
		unsub()
	}
}

// Close releases every wallet subscription and stops the side effects. The
// wallets themselves stay connected.
func (m *ConnectionManager) Close() {
	m.actionLk.Lock()
	defer m.actionLk.Unlock()

	m.releaseActiveSubs()

	m.subLk.Lock()
	personal := m.personalSubs
	m.personalSubs = make(map[string]types.Unsubscribe)
	m.subLk.Unlock()
	for _, unsub := range personal {
		unsub()
	}

	for _, stop := range m.stopEffects {
		stop()
	}
	m.ConnectedWallets.Stop()
}
