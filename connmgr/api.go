package connmgr

import (
	"context"
	"fmt"
	"sort"

	"github.com/ipfs-force-community/nebula-gateway/metrics"
	"github.com/ipfs-force-community/nebula-gateway/types"
)

type Status struct {
	Status             types.ConnectionStatus `json:"status"`
	ActiveWalletID     string                 `json:"activeWalletId,omitempty"`
	ActiveAccount      *types.Account         `json:"activeAccount,omitempty"`
	ActiveChain        *types.Chain           `json:"activeChain,omitempty"`
	ConnectedWalletIDs []string               `json:"connectedWalletIds"`
	DefinedChainIDs    []int64                `json:"definedChainIds"`
	IsAutoConnecting   bool                   `json:"isAutoConnecting"`
}

// Status takes a snapshot of every state cell.
func (m *ConnectionManager) Status() *Status {
	status := &Status{
		Status:             m.ConnectionStatus.Get(),
		ActiveAccount:      m.ActiveAccount.Get(),
		ActiveChain:        m.ActiveChain.Get(),
		ConnectedWalletIDs: m.WalletMap.Get().IDs(),
		DefinedChainIDs:    definedChainIDs(m.DefinedChains.Get()),
		IsAutoConnecting:   m.IsAutoConnecting.Get(),
	}
	if wallet := m.ActiveWallet.Get(); wallet != nil {
		status.ActiveWalletID = wallet.ID()
	}
	return status
}

func definedChainIDs(chains map[int64]*types.Chain) []int64 {
	ids := make([]int64, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IConnMgrAPI is the id based view of the manager served over RPC.
type IConnMgrAPI interface {
	WalletStatus(ctx context.Context) (*Status, error)
	ListConnectedWallets(ctx context.Context) ([]string, error)
	ActiveWalletID(ctx context.Context) (string, error)
	ListDefinedChainIDs(ctx context.Context) ([]int64, error)
	ListDefinedChains(ctx context.Context) ([]*types.Chain, error)
	SetActiveWallet(ctx context.Context, walletID string) error
	DisconnectWallet(ctx context.Context, walletID string) error
	SwitchChain(ctx context.Context, chainID int64) error
	DefineChains(ctx context.Context, chains []*types.Chain) error
}

var (
	_ IConnMgrAPI         = (*ConnMgrAPI)(nil)
	_ metrics.StatsSource = (*ConnMgrAPI)(nil)
)

type ConnMgrAPI struct {
	mgr *ConnectionManager
}

func NewConnMgrAPI(mgr *ConnectionManager) *ConnMgrAPI {
	return &ConnMgrAPI{mgr: mgr}
}

func (a *ConnMgrAPI) WalletStatus(_ context.Context) (*Status, error) {
	return a.mgr.Status(), nil
}

func (a *ConnMgrAPI) ListConnectedWallets(_ context.Context) ([]string, error) {
	return a.mgr.WalletMap.Get().IDs(), nil
}

func (a *ConnMgrAPI) ActiveWalletID(_ context.Context) (string, error) {
	if wallet := a.mgr.ActiveWallet.Get(); wallet != nil {
		return wallet.ID(), nil
	}
	return "", nil
}

func (a *ConnMgrAPI) ListDefinedChainIDs(_ context.Context) ([]int64, error) {
	return definedChainIDs(a.mgr.DefinedChains.Get()), nil
}

func (a *ConnMgrAPI) ListDefinedChains(_ context.Context) ([]*types.Chain, error) {
	defined := a.mgr.DefinedChains.Get()
	chains := make([]*types.Chain, 0, len(defined))
	for _, id := range definedChainIDs(defined) {
		chains = append(chains, defined[id])
	}
	return chains, nil
}

func (a *ConnMgrAPI) SetActiveWallet(ctx context.Context, walletID string) error {
	wallet, ok := a.mgr.Wallet(walletID)
	if !ok {
		return fmt.Errorf("wallet %s not connected", walletID)
	}
	return a.mgr.SetActiveWallet(ctx, wallet)
}

func (a *ConnMgrAPI) DisconnectWallet(ctx context.Context, walletID string) error {
	wallet, ok := a.mgr.Wallet(walletID)
	if !ok {
		return fmt.Errorf("wallet %s not connected", walletID)
	}
	return a.mgr.DisconnectWallet(ctx, wallet)
}

// SwitchChain resolves chainID through the chain cache, unknown ids switch to
// a bare descriptor.
func (a *ConnMgrAPI) SwitchChain(ctx context.Context, chainID int64) error {
	return a.mgr.SwitchActiveWalletChain(ctx, a.mgr.ChainCache().GetCachedChain(chainID))
}

func (a *ConnMgrAPI) DefineChains(_ context.Context, chains []*types.Chain) error {
	for _, chain := range chains {
		if chain == nil {
			return fmt.Errorf("nil chain")
		}
	}
	a.mgr.DefineChains(chains)
	return nil
}
