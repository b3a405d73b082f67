package metrics

import (
	"context"
	"time"
)

// StatsSource exposes the connection state sampled by the recording loop.
type StatsSource interface {
	ListConnectedWallets(ctx context.Context) ([]string, error)
	ActiveWalletID(ctx context.Context) (string, error)
	ListDefinedChainIDs(ctx context.Context) ([]int64, error)
}

func recordMetricsLoop(ctx context.Context, source StatsSource) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			RecordWalletInfo(ctx, source)
		case <-ctx.Done():
			log.Infof("context done, stop record metrics")
			return
		}
	}
}

func RecordWalletInfo(ctx context.Context, source StatsSource) {
	wallets, err := source.ListConnectedWallets(ctx)
	if err != nil {
		log.Warnf("failed to list connected wallets %v", err)
		return
	}
	WalletNum.Set(ctx, int64(len(wallets)))

	active, err := source.ActiveWalletID(ctx)
	if err != nil {
		log.Warnf("failed to get active wallet %v", err)
		return
	}
	var activeNum int64
	if active != "" {
		activeNum = 1
	}
	WalletActive.Set(ctx, activeNum)

	chains, err := source.ListDefinedChainIDs(ctx)
	if err != nil {
		log.Warnf("failed to list defined chains %v", err)
		return
	}
	DefinedChainNum.Set(ctx, int64(len(chains)))
}
