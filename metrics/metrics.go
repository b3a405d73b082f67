package metrics

import (
	"context"
	"time"

	rpcMetrics "github.com/filecoin-project/go-jsonrpc/metrics"
	"github.com/ipfs-force-community/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Global Tags
var (
	WalletIDKey, _ = tag.NewKey("wallet_id")
	ChainIDKey, _  = tag.NewKey("chain_id")

	EventKey, _  = tag.NewKey("event")
	MethodKey, _ = tag.NewKey("method")

	DeployTypeKey, _ = tag.NewKey("deploy_type")

	IPKey, _ = tag.NewKey("ip")
)

// Distribution
var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 3000, 4000, 5000, 7500, 10000, 20000, 50000, 100000)

var (
	// wallet
	WalletNum         = metrics.NewInt64("wallet/num", "Connected wallet count", stats.UnitDimensionless)
	WalletActive      = metrics.NewInt64("wallet/active", "Whether a wallet is active. 0: no, 1: yes", stats.UnitDimensionless)
	DefinedChainNum   = metrics.NewInt64("chain/defined_num", "Defined chain count", stats.UnitDimensionless)
	WalletConnect     = stats.Int64("wallet/connect", "Wallet connect", stats.UnitDimensionless)
	WalletDisconnect  = stats.Int64("wallet/disconnect", "Wallet disconnect", stats.UnitDimensionless)
	WalletSwitchChain = stats.Int64("wallet/switch_chain", "Active wallet switch chain", stats.UnitDimensionless)

	// nebula
	ChatEvent   = stats.Int64("nebula/chat_event", "Streamed chat event", stats.UnitDimensionless)
	ChatRequest = stats.Float64("nebula/chat", "Call chat spent time", stats.UnitMilliseconds)
	SessionCall = stats.Float64("nebula/session", "Call session api spent time", stats.UnitMilliseconds)

	// deploy
	RefDeploy    = stats.Int64("deploy/ref_deploy", "Referenced contract deploy", stats.UnitDimensionless)
	DeployResult = stats.Int64("deploy/deploy", "Contract deploy by deploy type", stats.UnitDimensionless)

	ApiState = metrics.NewInt64("api/state", "api service state. 0: down, 1: up", "")
)

var (
	// wallet
	walletConnectView = &view.View{
		Measure:     WalletConnect,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{WalletIDKey},
	}
	walletDisconnectView = &view.View{
		Measure:     WalletDisconnect,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{WalletIDKey},
	}
	walletSwitchChainView = &view.View{
		Measure:     WalletSwitchChain,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{WalletIDKey, ChainIDKey},
	}

	// nebula
	chatEventView = &view.View{
		Measure:     ChatEvent,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{EventKey},
	}
	chatRequestView = &view.View{
		Measure:     ChatRequest,
		Aggregation: defaultMillisecondsDistribution,
	}
	sessionCallView = &view.View{
		Measure:     SessionCall,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{MethodKey},
	}

	// deploy
	refDeployView = &view.View{
		Measure:     RefDeploy,
		Aggregation: view.Count(),
	}
	deployResultView = &view.View{
		Measure:     DeployResult,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{DeployTypeKey},
	}
)

var views = append([]*view.View{
	walletConnectView,
	walletDisconnectView,
	walletSwitchChainView,
	chatEventView,
	chatRequestView,
	sessionCallView,
	refDeployView,
	deployResultView,
}, rpcMetrics.DefaultViews...)

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Record increments measure by one after upserting the given tag pairs.
func Record(ctx context.Context, measure *stats.Int64Measure, mutators ...tag.Mutator) {
	if len(mutators) > 0 {
		ctx, _ = tag.New(ctx, mutators...)
	}
	stats.Record(ctx, measure.M(1))
}

// Timing records the elapsed milliseconds since start.
func Timing(ctx context.Context, measure *stats.Float64Measure, start time.Time, mutators ...tag.Mutator) {
	if len(mutators) > 0 {
		ctx, _ = tag.New(ctx, mutators...)
	}
	stats.Record(ctx, measure.M(SinceInMilliseconds(start)))
}

func init() {
	// register metrics
	_ = view.Register(views...)
}
