package api

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ipfs-force-community/nebula-gateway/connmgr"
	"github.com/ipfs-force-community/nebula-gateway/deploy"
	"github.com/ipfs-force-community/nebula-gateway/nebula"
	"github.com/ipfs-force-community/nebula-gateway/types"
)

type ConnectLocalRequest struct {
	// wallet id, "local" when empty
	ID string `json:"id"`
	// hex encoded private key, a new key is generated when empty
	PrivateKey string `json:"privateKey,omitempty"`
	ChainID    int64  `json:"chainId"`
	// overrides the daemon default when set
	AccountAbstraction *bool `json:"accountAbstraction,omitempty"`
}

type ConnectResult struct {
	WalletID string         `json:"walletId"`
	Address  common.Address `json:"address"`
	// set when the connected smart account has its gas sponsored
	SponsorGas bool `json:"sponsorGas,omitempty"`
}

type ChatReply struct {
	SessionID string           `json:"sessionId"`
	Messages  []nebula.Message `json:"messages"`
}

type DeployPlanRequest struct {
	ChainID    int64          `json:"chainId"`
	ContractID string         `json:"contractId"`
	Publisher  string         `json:"publisher"`
	Version    string         `json:"version,omitempty"`
	Salt       string         `json:"salt,omitempty"`
	From       common.Address `json:"from"`
	Nonce      uint64         `json:"nonce"`
	// published constructor params are used when nil
	Params deploy.Params `json:"params,omitempty"`
}

type DeployPlan struct {
	Address common.Address              `json:"address"`
	Steps   []*deploy.PlannedDeployment `json:"steps"`
}

type IWalletAPI interface {
	connmgr.IConnMgrAPI
	ConnectLocalWallet(ctx context.Context, req *ConnectLocalRequest) (*ConnectResult, error)
	WalletSignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

type INebulaAPI interface {
	NebulaCreateSession(ctx context.Context, cfg *nebula.ExecuteConfig) (*nebula.CreatedSession, error)
	NebulaListSessions(ctx context.Context) ([]nebula.TruncatedSessionInfo, error)
	NebulaGetSession(ctx context.Context, id string) (*nebula.SessionInfo, error)
	NebulaDeleteSession(ctx context.Context, id string) error
	NebulaFeedback(ctx context.Context, sessionID, requestID string, rating nebula.Rating) error
	NebulaSendMessage(ctx context.Context, sessionID, message string) (*ChatReply, error)
	NebulaAbort(ctx context.Context, sessionID string) error
	NebulaChat(ctx context.Context, sessionID, message string) (<-chan *nebula.StreamEvent, error)
	NebulaSetExecuteConfig(ctx context.Context, sessionID string, cfg *nebula.ExecuteConfig) error
}

type IDeployAPI interface {
	DeployResolveParams(ctx context.Context, chainID int64, params deploy.Params) (map[string]string, error)
	DeployPlan(ctx context.Context, req *DeployPlanRequest) (*DeployPlan, error)
}

type GatewayFullNode interface {
	IWalletAPI
	INebulaAPI
	IDeployAPI
	Version(ctx context.Context) (string, error)
}

// GatewayFullNodeStruct is filled by PermissionProxy on the server and by
// jsonrpc.NewMergeClient on the client.
type GatewayFullNodeStruct struct {
	Internal struct {
		WalletStatus         func(ctx context.Context) (*connmgr.Status, error)                                 `perm:"read"`
		ListConnectedWallets func(ctx context.Context) ([]string, error)                                        `perm:"read"`
		ActiveWalletID       func(ctx context.Context) (string, error)                                          `perm:"read"`
		ListDefinedChainIDs  func(ctx context.Context) ([]int64, error)                                         `perm:"read"`
		ListDefinedChains    func(ctx context.Context) ([]*types.Chain, error)                                  `perm:"read"`
		SetActiveWallet      func(ctx context.Context, walletID string) error                                   `perm:"write"`
		DisconnectWallet     func(ctx context.Context, walletID string) error                                   `perm:"write"`
		SwitchChain          func(ctx context.Context, chainID int64) error                                     `perm:"write"`
		DefineChains         func(ctx context.Context, chains []*types.Chain) error                             `perm:"admin"`
		ConnectLocalWallet   func(ctx context.Context, req *ConnectLocalRequest) (*ConnectResult, error)        `perm:"admin"`
		WalletSignMessage    func(ctx context.Context, msg []byte) ([]byte, error)                              `perm:"sign"`

		NebulaCreateSession    func(ctx context.Context, cfg *nebula.ExecuteConfig) (*nebula.CreatedSession, error)    `perm:"write"`
		NebulaListSessions     func(ctx context.Context) ([]nebula.TruncatedSessionInfo, error)                        `perm:"read"`
		NebulaGetSession       func(ctx context.Context, id string) (*nebula.SessionInfo, error)                       `perm:"read"`
		NebulaDeleteSession    func(ctx context.Context, id string) error                                              `perm:"write"`
		NebulaFeedback         func(ctx context.Context, sessionID, requestID string, rating nebula.Rating) error       `perm:"write"`
		NebulaSendMessage      func(ctx context.Context, sessionID, message string) (*ChatReply, error)                `perm:"write"`
		NebulaAbort            func(ctx context.Context, sessionID string) error                                       `perm:"write"`
		NebulaChat             func(ctx context.Context, sessionID, message string) (<-chan *nebula.StreamEvent, error) `perm:"write"`
		NebulaSetExecuteConfig func(ctx context.Context, sessionID string, cfg *nebula.ExecuteConfig) error            `perm:"admin"`

		DeployResolveParams func(ctx context.Context, chainID int64, params deploy.Params) (map[string]string, error) `perm:"read"`
		DeployPlan          func(ctx context.Context, req *DeployPlanRequest) (*DeployPlan, error)                  `perm:"read"`

		Version func(ctx context.Context) (string, error) `perm:"read"`
	}
}

var _ GatewayFullNode = (*GatewayFullNodeStruct)(nil)

func (s *GatewayFullNodeStruct) WalletStatus(ctx context.Context) (*connmgr.Status, error) {
	return s.Internal.WalletStatus(ctx)
}

func (s *GatewayFullNodeStruct) ListConnectedWallets(ctx context.Context) ([]string, error) {
	return s.Internal.ListConnectedWallets(ctx)
}

func (s *GatewayFullNodeStruct) ActiveWalletID(ctx context.Context) (string, error) {
	return s.Internal.ActiveWalletID(ctx)
}

func (s *GatewayFullNodeStruct) ListDefinedChainIDs(ctx context.Context) ([]int64, error) {
	return s.Internal.ListDefinedChainIDs(ctx)
}

func (s *GatewayFullNodeStruct) ListDefinedChains(ctx context.Context) ([]*types.Chain, error) {
	return s.Internal.ListDefinedChains(ctx)
}

func (s *GatewayFullNodeStruct) SetActiveWallet(ctx context.Context, walletID string) error {
	return s.Internal.SetActiveWallet(ctx, walletID)
}

func (s *GatewayFullNodeStruct) DisconnectWallet(ctx context.Context, walletID string) error {
	return s.Internal.DisconnectWallet(ctx, walletID)
}

func (s *GatewayFullNodeStruct) SwitchChain(ctx context.Context, chainID int64) error {
	return s.Internal.SwitchChain(ctx, chainID)
}

func (s *GatewayFullNodeStruct) DefineChains(ctx context.Context, chains []*types.Chain) error {
	return s.Internal.DefineChains(ctx, chains)
}

func (s *GatewayFullNodeStruct) ConnectLocalWallet(ctx context.Context, req *ConnectLocalRequest) (*ConnectResult, error) {
	return s.Internal.ConnectLocalWallet(ctx, req)
}

func (s *GatewayFullNodeStruct) WalletSignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return s.Internal.WalletSignMessage(ctx, msg)
}

func (s *GatewayFullNodeStruct) NebulaCreateSession(ctx context.Context, cfg *nebula.ExecuteConfig) (*nebula.CreatedSession, error) {
	return s.Internal.NebulaCreateSession(ctx, cfg)
}

func (s *GatewayFullNodeStruct) NebulaListSessions(ctx context.Context) ([]nebula.TruncatedSessionInfo, error) {
	return s.Internal.NebulaListSessions(ctx)
}

func (s *GatewayFullNodeStruct) NebulaGetSession(ctx context.Context, id string) (*nebula.SessionInfo, error) {
	return s.Internal.NebulaGetSession(ctx, id)
}

func (s *GatewayFullNodeStruct) NebulaDeleteSession(ctx context.Context, id string) error {
	return s.Internal.NebulaDeleteSession(ctx, id)
}

func (s *GatewayFullNodeStruct) NebulaFeedback(ctx context.Context, sessionID, requestID string, rating nebula.Rating) error {
	return s.Internal.NebulaFeedback(ctx, sessionID, requestID, rating)
}

func (s *GatewayFullNodeStruct) NebulaSendMessage(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	return s.Internal.NebulaSendMessage(ctx, sessionID, message)
}

func (s *GatewayFullNodeStruct) NebulaAbort(ctx context.Context, sessionID string) error {
	return s.Internal.NebulaAbort(ctx, sessionID)
}

func (s *GatewayFullNodeStruct) NebulaChat(ctx context.Context, sessionID, message string) (<-chan *nebula.StreamEvent, error) {
	return s.Internal.NebulaChat(ctx, sessionID, message)
}

func (s *GatewayFullNodeStruct) NebulaSetExecuteConfig(ctx context.Context, sessionID string, cfg *nebula.ExecuteConfig) error {
	return s.Internal.NebulaSetExecuteConfig(ctx, sessionID, cfg)
}

func (s *GatewayFullNodeStruct) DeployResolveParams(ctx context.Context, chainID int64, params deploy.Params) (map[string]string, error) {
	return s.Internal.DeployResolveParams(ctx, chainID, params)
}

func (s *GatewayFullNodeStruct) DeployPlan(ctx context.Context, req *DeployPlanRequest) (*DeployPlan, error) {
	return s.Internal.DeployPlan(ctx, req)
}

func (s *GatewayFullNodeStruct) Version(ctx context.Context) (string, error) {
	return s.Internal.Version(ctx)
}
