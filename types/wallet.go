package types

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// SmartWalletID is the id reported by account abstraction wallets. It is
// never persisted as the last active wallet.
const SmartWalletID = "smart"

type WalletEvent string

const (
	AccountChanged WalletEvent = "accountChanged"
	ChainChanged   WalletEvent = "chainChanged"
	Disconnect     WalletEvent = "disconnect"
)

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

type Account struct {
	Address common.Address `json:"address"`
}

// EventHandler receives *Account for AccountChanged, *Chain for ChainChanged
// and nil for Disconnect.
type EventHandler func(data interface{})

type Unsubscribe func()

type Wallet interface {
	ID() string
	// GetAccount returns nil while the wallet is not connected
	GetAccount() *Account
	GetChain() *Chain
	Subscribe(event WalletEvent, handler EventHandler) Unsubscribe
	Disconnect(ctx context.Context) error
}

// ChainSwitcher is implemented by wallets able to change network.
type ChainSwitcher interface {
	SwitchChain(ctx context.Context, chain *Chain) error
}

// SmartAccountHolder is implemented by wallets that already carry an
// account abstraction account.
type SmartAccountHolder interface {
	HasSmartAccount() bool
}

func HasSmartAccount(w Wallet) bool {
	holder, ok := w.(SmartAccountHolder)
	return ok && holder.HasSmartAccount()
}
