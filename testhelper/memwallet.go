package testhelper

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ipfs-force-community/nebula-gateway/types"
	"github.com/ipfs-force-community/nebula-gateway/wallets"
)

var (
	_ types.Wallet        = (*MemWallet)(nil)
	_ types.ChainSwitcher = (*SwitchableMemWallet)(nil)
)

// CallLog records calls across several mock wallets so tests can assert on
// their relative order.
type CallLog struct {
	lk    sync.Mutex
	calls []string
}

func (c *CallLog) Record(call string) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.calls = append(c.calls, call)
}

func (c *CallLog) Calls() []string {
	c.lk.Lock()
	defer c.lk.Unlock()
	return append([]string(nil), c.calls...)
}

func NewRandomAccount() *types.Account {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &types.Account{Address: crypto.PubkeyToAddress(key.PublicKey)}
}

// MemWallet is a wallet without chain switching support.
type MemWallet struct {
	*wallets.Emitter

	lk          sync.Mutex
	id          string
	account     *types.Account
	chain       *types.Chain
	fail        bool
	disconnects int
	calls       *CallLog
}

func NewMemWallet(id string, account *types.Account, chain *types.Chain) *MemWallet {
	return &MemWallet{
		Emitter: wallets.NewEmitter(),
		id:      id,
		account: account,
		chain:   chain,
		calls:   &CallLog{},
	}
}

func (m *MemWallet) WithCallLog(calls *CallLog) *MemWallet {
	m.calls = calls
	return m
}

func (m *MemWallet) SetFail(fail bool) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.fail = fail
}

func (m *MemWallet) ID() string {
	return m.id
}

func (m *MemWallet) GetAccount() *types.Account {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.account
}

func (m *MemWallet) GetChain() *types.Chain {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.chain
}

// ChangeAccount replaces the account and emits accountChanged.
func (m *MemWallet) ChangeAccount(account *types.Account) {
	m.lk.Lock()
	m.account = account
	m.lk.Unlock()
	m.Emit(types.AccountChanged, account)
}

// ChangeChain replaces the chain and emits chainChanged.
func (m *MemWallet) ChangeChain(chain *types.Chain) {
	m.lk.Lock()
	m.chain = chain
	m.lk.Unlock()
	m.Emit(types.ChainChanged, chain)
}

// EmitDisconnect simulates the provider dropping the wallet.
func (m *MemWallet) EmitDisconnect() {
	m.Emit(types.Disconnect, nil)
}

func (m *MemWallet) Disconnect(_ context.Context) error {
	m.calls.Record(m.id + ":disconnect")
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.fail {
		return fmt.Errorf("mock error")
	}
	m.disconnects++
	return nil
}

func (m *MemWallet) DisconnectCount() int {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.disconnects
}

// SwitchableMemWallet switches chain silently, without emitting chainChanged.
type SwitchableMemWallet struct {
	*MemWallet
}

func NewSwitchableMemWallet(id string, account *types.Account, chain *types.Chain) *SwitchableMemWallet {
	return &SwitchableMemWallet{MemWallet: NewMemWallet(id, account, chain)}
}

func (s *SwitchableMemWallet) WithCallLog(calls *CallLog) *SwitchableMemWallet {
	s.calls = calls
	return s
}

func (s *SwitchableMemWallet) SwitchChain(_ context.Context, chain *types.Chain) error {
	s.calls.Record(fmt.Sprintf("%s:switch:%d", s.id, chain.ID))
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.fail {
		return fmt.Errorf("mock error")
	}
	s.chain = chain
	return nil
}
