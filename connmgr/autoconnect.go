package connmgr

import (
	"context"

	"github.com/ipfs-force-community/nebula-gateway/storage"
	"github.com/ipfs-force-community/nebula-gateway/types"
)

// WalletResolver rebuilds the wallet stored under id, connected to chain when
// chain is not nil.
type WalletResolver func(ctx context.Context, id string, chain *types.Chain) (types.Wallet, error)

// AutoConnect restores the wallets persisted by a previous session. The last
// active personal wallet is connected again with opts, the other ones are only
// tracked as connected. It returns nil when nothing could be restored.
func (m *ConnectionManager) AutoConnect(ctx context.Context, resolve WalletResolver, opts *ConnectOptions) (types.Wallet, error) {
	m.IsAutoConnecting.Set(true)
	defer m.IsAutoConnecting.Set(false)

	ids := storage.GetStoredConnectedWalletIDs(ctx, m.storage)
	activeID := storage.GetStoredActiveWalletID(ctx, m.storage)
	lastChain := storage.GetLastConnectedChain(ctx, m.storage)
	if activeID == "" {
		return nil, nil
	}
	if !contains(ids, activeID) {
		ids = append(ids, activeID)
	}

	m.ConnectionStatus.Set(types.StatusConnecting)

	var active types.Wallet
	var others []types.Wallet
	for _, id := range ids {
		if id == types.SmartWalletID {
			continue
		}
		wallet, err := resolve(ctx, id, lastChain)
		if err != nil {
			log.Warnf("auto connect wallet %s: %v", id, err)
			continue
		}
		if isNilWallet(wallet) {
			log.Warnf("auto connect wallet %s: %v", id, ErrNilWallet)
			continue
		}
		if id == activeID {
			active = wallet
		} else {
			others = append(others, wallet)
		}
	}

	if active == nil {
		m.ConnectionStatus.Set(types.StatusDisconnected)
		return nil, nil
	}

	connected, err := m.Connect(ctx, active, opts)
	if err != nil {
		m.ConnectionStatus.Set(types.StatusDisconnected)
		return nil, err
	}
	for _, wallet := range others {
		m.addConnectedWallet(wallet)
	}

	log.Infow("auto connected", "active", connected.ID(), "connected", len(others)+1)
	return connected, nil
}

func contains(ids []string, id string) bool {
	for _, item := range ids {
		if item == id {
			return true
		}
	}
	return false
}
