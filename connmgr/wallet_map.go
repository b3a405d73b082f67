package connmgr

import (
	"github.com/ipfs-force-community/nebula-gateway/types"
)

// WalletMap is an immutable, insertion ordered id -> wallet map. Every
// change produces a new value so store subscribers can compare references.
type WalletMap struct {
	ids  []string
	byID map[string]types.Wallet
}

func newWalletMap() *WalletMap {
	return &WalletMap{byID: map[string]types.Wallet{}}
}

func (m *WalletMap) Get(id string) (types.Wallet, bool) {
	w, ok := m.byID[id]
	return w, ok
}

func (m *WalletMap) Has(id string) bool {
	_, ok := m.byID[id]
	return ok
}

func (m *WalletMap) Len() int {
	return len(m.ids)
}

func (m *WalletMap) IDs() []string {
	return append([]string{}, m.ids...)
}

func (m *WalletMap) Wallets() []types.Wallet {
	wallets := make([]types.Wallet, 0, len(m.ids))
	for _, id := range m.ids {
		wallets = append(wallets, m.byID[id])
	}
	return wallets
}

// with adds w, or replaces the wallet stored under its id in place.
func (m *WalletMap) with(w types.Wallet) *WalletMap {
	ids := m.IDs()
	if !m.Has(w.ID()) {
		ids = append(ids, w.ID())
	}
	next := &WalletMap{
		ids:  ids,
		byID: make(map[string]types.Wallet, len(m.byID)+1),
	}
	for id, wallet := range m.byID {
		next.byID[id] = wallet
	}
	next.byID[w.ID()] = w
	return next
}

func (m *WalletMap) without(id string) *WalletMap {
	next := &WalletMap{byID: make(map[string]types.Wallet, len(m.byID))}
	for _, existing := range m.ids {
		if existing == id {
			continue
		}
		next.ids = append(next.ids, existing)
		next.byID[existing] = m.byID[existing]
	}
	return next
}
