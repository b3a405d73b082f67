package wallets

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

var log = logging.Logger("wallets")

const LocalWalletID = "local"

var ErrNotConnected = errors.New("wallet is not connected")

var (
	_ types.Wallet        = (*LocalWallet)(nil)
	_ types.ChainSwitcher = (*LocalWallet)(nil)
)

// LocalWallet is an externally owned account backed by a private key held in
// process memory.
type LocalWallet struct {
	*Emitter

	id      string
	lk      sync.RWMutex
	key     *ecdsa.PrivateKey
	account *types.Account
	chain   *types.Chain
}

func NewLocalWallet(id string, key *ecdsa.PrivateKey) *LocalWallet {
	if id == "" {
		id = LocalWalletID
	}
	return &LocalWallet{Emitter: NewEmitter(), id: id, key: key}
}

func GenerateLocalWallet(id string) (*LocalWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewLocalWallet(id, key), nil
}

// ImportLocalWallet builds a wallet from a hex encoded private key.
func ImportLocalWallet(id, hexKey string) (*LocalWallet, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, err
	}
	return NewLocalWallet(id, key), nil
}

func (w *LocalWallet) ID() string {
	return w.id
}

func (w *LocalWallet) Connect(_ context.Context, chain *types.Chain) (*types.Account, error) {
	w.lk.Lock()
	w.account = &types.Account{Address: crypto.PubkeyToAddress(w.key.PublicKey)}
	w.chain = chain
	account := w.account
	w.lk.Unlock()

	log.Infow("local wallet connected", "id", w.id, "address", account.Address.Hex())
	return account, nil
}

func (w *LocalWallet) GetAccount() *types.Account {
	w.lk.RLock()
	defer w.lk.RUnlock()
	return w.account
}

func (w *LocalWallet) GetChain() *types.Chain {
	w.lk.RLock()
	defer w.lk.RUnlock()
	return w.chain
}

func (w *LocalWallet) SwitchChain(_ context.Context, chain *types.Chain) error {
	w.lk.Lock()
	if w.account == nil {
		w.lk.Unlock()
		return ErrNotConnected
	}
	w.chain = chain
	w.lk.Unlock()

	w.Emit(types.ChainChanged, chain)
	return nil
}

// RotateKey swaps the signing key and announces the new account.
func (w *LocalWallet) RotateKey(key *ecdsa.PrivateKey) *types.Account {
	w.lk.Lock()
	w.key = key
	w.account = &types.Account{Address: crypto.PubkeyToAddress(key.PublicKey)}
	account := w.account
	w.lk.Unlock()

	w.Emit(types.AccountChanged, account)
	return account
}

// SignMessage signs msg with the EIP-191 personal message prefix.
func (w *LocalWallet) SignMessage(msg []byte) ([]byte, error) {
	w.lk.RLock()
	defer w.lk.RUnlock()
	if w.account == nil {
		return nil, ErrNotConnected
	}
	return crypto.Sign(accounts.TextHash(msg), w.key)
}

// ExportKey returns the 0x prefixed private key.
func (w *LocalWallet) ExportKey() string {
	w.lk.RLock()
	defer w.lk.RUnlock()
	return hexutil.Encode(crypto.FromECDSA(w.key))
}

func (w *LocalWallet) Disconnect(_ context.Context) error {
	w.lk.Lock()
	w.account = nil
	w.chain = nil
	w.lk.Unlock()

	w.Emit(types.Disconnect, nil)
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
