package wallets

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

var (
	_ types.Wallet             = (*SmartWallet)(nil)
	_ types.ChainSwitcher      = (*SmartWallet)(nil)
	_ types.SmartAccountHolder = (*SmartWallet)(nil)
)

var ErrNoPersonalAccount = errors.New("smart wallet requires a personal account")

type SmartWalletOptions struct {
	Chain          *types.Chain   `json:"chain"`
	FactoryAddress common.Address `json:"factoryAddress"`
	// keccak256 of the account proxy creation code
	InitCodeHash common.Hash `json:"initCodeHash"`
	// extra salt mixed with the admin address and the chain id
	AccountSalt string `json:"accountSalt,omitempty"`
	// gas of the account's transactions is paid by the paymaster
	Sponsor bool `json:"sponsorGas"`
}

// SmartWallet wraps a personal account into a counterfactual account
// abstraction account deployed through FactoryAddress.
type SmartWallet struct {
	*Emitter

	opts     SmartWalletOptions
	lk       sync.RWMutex
	personal *types.Account
	account  *types.Account
	chain    *types.Chain
}

func NewSmartWallet(opts *SmartWalletOptions) *SmartWallet {
	return &SmartWallet{Emitter: NewEmitter(), opts: *opts}
}

func (s *SmartWallet) ID() string {
	return types.SmartWalletID
}

func (s *SmartWallet) HasSmartAccount() bool {
	return true
}

func (s *SmartWallet) Connect(_ context.Context, personal *types.Account) (*types.Account, error) {
	if personal == nil {
		return nil, ErrNoPersonalAccount
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.personal = personal
	s.chain = s.opts.Chain
	s.account = &types.Account{Address: s.predictAddress(personal.Address)}

	log.Infow("smart wallet connected", "admin", personal.Address.Hex(), "account", s.account.Address.Hex(),
		"sponsored", s.opts.Sponsor)
	return s.account, nil
}

// SponsorsGas reports whether transactions of the account are sponsored.
func (s *SmartWallet) SponsorsGas() bool {
	return s.opts.Sponsor
}

// PersonalAccount returns the admin account of the smart account.
func (s *SmartWallet) PersonalAccount() *types.Account {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return s.personal
}

func (s *SmartWallet) GetAccount() *types.Account {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return s.account
}

func (s *SmartWallet) GetChain() *types.Chain {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return s.chain
}

// SwitchChain recreates the account for the new chain. The address depends on
// the chain id, so callers holding the previous account must refresh it.
func (s *SmartWallet) SwitchChain(_ context.Context, chain *types.Chain) error {
	s.lk.Lock()
	if s.personal == nil {
		s.lk.Unlock()
		return ErrNotConnected
	}
	s.chain = chain
	s.account = &types.Account{Address: s.predictAddress(s.personal.Address)}
	s.lk.Unlock()

	s.Emit(types.ChainChanged, chain)
	return nil
}

func (s *SmartWallet) Disconnect(_ context.Context) error {
	s.lk.Lock()
	s.personal = nil
	s.account = nil
	s.chain = nil
	s.lk.Unlock()

	s.Emit(types.Disconnect, nil)
	return nil
}

// predictAddress must be called with s.lk held.
func (s *SmartWallet) predictAddress(admin common.Address) common.Address {
	var chainID int64
	if s.chain != nil {
		chainID = s.chain.ID
	}
	return PredictSmartAccountAddress(s.opts.FactoryAddress, s.opts.InitCodeHash, admin, chainID, s.opts.AccountSalt)
}

// PredictSmartAccountAddress computes the CREATE2 address the factory will
// deploy the account of admin to on chainID. The salt is
// keccak256(admin || uint256(chainID) || accountSalt).
func PredictSmartAccountAddress(factory common.Address, initCodeHash common.Hash, admin common.Address, chainID int64, accountSalt string) common.Address {
	chain := common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32)
	salt := crypto.Keccak256Hash(admin.Bytes(), chain, []byte(accountSalt))
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}
