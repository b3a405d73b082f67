package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

const (
	ConnectedWalletIDsKey = "thirdweb:connected-wallet-ids"
	ActiveWalletIDKey     = "thirdweb:active-wallet-id"
	ActiveChainKey        = "thirdweb:active-chain"
)

func ConnectParamsKey(walletID string) string {
	return fmt.Sprintf("thirdweb:%s:connect-params", walletID)
}

func SaveConnectParams(ctx context.Context, s AsyncStorage, walletID string, params interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.SetItem(ctx, ConnectParamsKey(walletID), string(data))
}

// DeleteConnectParams removes the auto connect parameters saved for walletID.
// Failures are only logged.
func DeleteConnectParams(ctx context.Context, s AsyncStorage, walletID string) {
	if err := s.RemoveItem(ctx, ConnectParamsKey(walletID)); err != nil {
		log.Warnf("remove connect params of %s: %v", walletID, err)
	}
}

// GetStoredConnectedWalletIDs never fails, unreadable values yield an empty list.
func GetStoredConnectedWalletIDs(ctx context.Context, s AsyncStorage) []string {
	value, ok, err := s.GetItem(ctx, ConnectedWalletIDsKey)
	if err != nil || !ok || value == "" {
		return []string{}
	}

	var ids []string
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		log.Debugw("decode connected wallet ids", "err", err)
		return []string{}
	}
	return ids
}

// GetStoredActiveWalletID returns "" when nothing usable is stored.
func GetStoredActiveWalletID(ctx context.Context, s AsyncStorage) string {
	value, _, err := s.GetItem(ctx, ActiveWalletIDKey)
	if err != nil {
		return ""
	}
	return value
}

// GetLastConnectedChain returns nil when nothing usable is stored.
func GetLastConnectedChain(ctx context.Context, s AsyncStorage) *types.Chain {
	value, ok, err := s.GetItem(ctx, ActiveChainKey)
	if err != nil || !ok || value == "" {
		return nil
	}

	chain := &types.Chain{}
	if err := json.Unmarshal([]byte(value), chain); err != nil {
		log.Debugw("decode last connected chain", "err", err)
		return nil
	}
	return chain
}
