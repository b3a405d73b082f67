package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/etherlabsio/healthcheck/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	"github.com/ipfs-force-community/metrics"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/plugin/ochttp"
	"golang.org/x/sync/errgroup"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/cmds"
	"github.com/ipfs-force-community/nebula-gateway/config"
	"github.com/ipfs-force-community/nebula-gateway/connmgr"
	"github.com/ipfs-force-community/nebula-gateway/deploy"
	gwmetrics "github.com/ipfs-force-community/nebula-gateway/metrics"
	"github.com/ipfs-force-community/nebula-gateway/nebula"
	"github.com/ipfs-force-community/nebula-gateway/proxy"
	"github.com/ipfs-force-community/nebula-gateway/storage"
	"github.com/ipfs-force-community/nebula-gateway/utils"
	"github.com/ipfs-force-community/nebula-gateway/version"
	"github.com/ipfs-force-community/nebula-gateway/wallets"
)

var log = logging.Logger("main")

func main() {
	_ = logging.SetLogLevel("*", "INFO")

	app := &cli.App{
		Name:  "nebula-gateway",
		Usage: "wallet connection and nebula chat gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Usage:   "directory holding config.toml, the token and the database",
				EnvVars: []string{"NEBULA_GATEWAY_REPO"},
				Value:   "~/.nebula-gateway",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "host address and port the gateway api listens on",
				Value: "/ip4/127.0.0.1/tcp/45142",
			},
		},
		Commands: []*cli.Command{
			runCmd, cmds.WalletCmds, cmds.ChatCmds, cmds.SessionCmds, cmds.ExecuteConfigCmd, cmds.DeployCmds,
		},
	}
	app.Version = version.UserVersion
	if err := app.Run(os.Args); err != nil {
		log.Warn(err)
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start nebula-gateway daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "nebula-token", Usage: "nebula secret key", EnvVars: []string{"NEBULA_GATEWAY_NEBULA_AUTH_TOKEN"}},
		&cli.StringFlag{Name: "jaeger-proxy", EnvVars: []string{"NEBULA_GATEWAY_JAEGER_PROXY"}},
		&cli.Float64Flag{Name: "trace-sampler", EnvVars: []string{"NEBULA_GATEWAY_TRACE_SAMPLER"}, Value: 1.0},
		&cli.StringFlag{Name: "trace-node-name", Value: "nebula-gateway"},
	},
	Action: func(cctx *cli.Context) error {
		repo, err := expandRepo(cctx.String("repo"))
		if err != nil {
			return err
		}
		cfg, err := loadConfig(repo)
		if err != nil {
			return err
		}

		if cctx.IsSet("listen") {
			cfg.API.ListenAddress = cctx.String("listen")
		}
		if cctx.IsSet("nebula-token") {
			cfg.Nebula.AuthToken = cctx.String("nebula-token")
		}
		if jaeger := cctx.String("jaeger-proxy"); jaeger != "" {
			cfg.Trace.JaegerTracingEnabled = true
			cfg.Trace.JaegerEndpoint = jaeger
			cfg.Trace.ProbabilitySampler = cctx.Float64("trace-sampler")
			cfg.Trace.ServerName = cctx.String("trace-node-name")
		}
		return RunMain(cctx.Context, repo, cfg)
	},
}

func expandRepo(repo string) (string, error) {
	repo, err := utils.ExpandPath(repo)
	if err != nil {
		return "", err
	}
	return repo, os.MkdirAll(repo, 0755)
}

// loadConfig reads the repo config, writing the defaults on first start, and
// applies the environment overrides.
func loadConfig(repo string) (*config.Config, error) {
	cfgPath := filepath.Join(repo, config.ConfigFile)
	cfg, err := config.ReadConfig(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.DefaultConfig()
		if err := config.WriteConfig(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		log.Infof("default config written to %s", cfgPath)
	} else if err != nil {
		return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
	}
	return cfg, config.ApplyEnv(cfg)
}

func openStorage(repo string, cfg *config.StorageConfig) (*storage.BadgerStorage, error) {
	if cfg.InMemory {
		return storage.OpenBadger("")
	}
	path := cfg.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(repo, path)
	}
	return storage.OpenBadger(path)
}

func smartWalletOptions(cfg *config.WalletConfig) *wallets.SmartWalletOptions {
	if cfg.FactoryAddress == "" {
		return nil
	}
	return &wallets.SmartWalletOptions{
		FactoryAddress: common.HexToAddress(cfg.FactoryAddress),
		InitCodeHash:   common.HexToHash(cfg.InitCodeHash),
		AccountSalt:    cfg.AccountSalt,
		Sponsor:        cfg.SponsorGas,
	}
}

func RunMain(ctx context.Context, repo string, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Infof("nebula-gateway current version %s, listen %s", version.UserVersion, cfg.API.ListenAddress)

	db, err := openStorage(repo, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close() //nolint:errcheck

	mgr := connmgr.New(ctx, db)
	defer mgr.Close()

	var nebulaClient *nebula.Client
	if cfg.Nebula.AuthToken != "" {
		nebulaClient = nebula.NewClient(cfg.Nebula.URL, cfg.Nebula.AuthToken,
			nebula.WithRequestConfig(cfg.Nebula.RequestConfig()))
	} else {
		log.Warn("no nebula auth token configured, chat is disabled")
	}

	registry := deploy.NewRegistry()
	if cfg.Deploy.RegistryPath != "" {
		if registry, err = deploy.LoadRegistry(cfg.Deploy.RegistryPath); err != nil {
			return err
		}
	}

	aa := smartWalletOptions(cfg.Wallet)
	if cfg.Wallet.AccountAbstraction && aa == nil {
		return api.ErrNoSmartAccounts
	}
	gatewayAPIImpl := api.NewGatewayAPIImpl(ctx, api.Options{
		Manager:                   mgr,
		Storage:                   db,
		Nebula:                    nebulaClient,
		Registry:                  registry,
		AccountAbstraction:        aa,
		DefaultAccountAbstraction: cfg.Wallet.AccountAbstraction,
		DefaultChainID:            cfg.Wallet.DefaultChainID,
		AppURL:                    cfg.Nebula.AppURL,
	})
	if err := gatewayAPIImpl.AutoConnect(ctx); err != nil {
		log.Warnf("auto connect: %v", err)
	}

	if err := gwmetrics.SetupMetrics(ctx, cfg.Metrics, gatewayAPIImpl); err != nil {
		return err
	}

	log.Info("Setting up control endpoint at " + cfg.API.ListenAddress)

	var fullNode api.GatewayFullNodeStruct
	api.PermissionProxy(gatewayAPIImpl, &fullNode.Internal)

	router := mux.NewRouter()
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Gateway", &fullNode)
	router.Handle("/rpc/v0", rpcServer)
	router.Handle("/healthcheck", healthcheck.Handler(
		healthcheck.WithTimeout(5*time.Second),
		healthcheck.WithChecker("storage", healthcheck.CheckerFunc(db.Ping)),
	))
	router.PathPrefix("/").Handler(http.DefaultServeMux)

	localJwt, err := utils.NewLocalJwtClient(repo)
	if err != nil {
		return fmt.Errorf("make token failed:%s", err.Error())
	}
	if err := localJwt.SaveToken(); err != nil {
		return err
	}

	upstreams := proxy.NewProxy()
	if nebulaClient != nil {
		if err := upstreams.RegisterReverseByAddr(proxy.HostNebula, cfg.Nebula.URL, proxy.WithBearerToken(cfg.Nebula.AuthToken)); err != nil {
			return err
		}
	}

	handler := (http.Handler)(&AuthHandler{Verifier: localJwt, Next: upstreams.ProxyMiddleware(router)})

	if tp, err := metrics.SetupJaegerTracing(cfg.Trace.ServerName, cfg.Trace); err != nil {
		return fmt.Errorf("setup %s jaeger tracing to %s failed:%w", cfg.Trace.ServerName, cfg.Trace.JaegerEndpoint, err)
	} else if tp != nil {
		log.Infof("register jaeger-tracing exporter to %s, with node-name:%s", cfg.Trace.JaegerEndpoint, cfg.Trace.ServerName)
		defer func() {
			if err := metrics.ShutdownJaeger(context.Background(), tp); err != nil {
				log.Warnf("shutdown jaeger tracing: %v", err)
			}
		}()
		handler = &ochttp.Handler{Handler: handler}
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 30 * time.Second}

	addr, err := multiaddr.NewMultiaddr(cfg.API.ListenAddress)
	if err != nil {
		return err
	}
	nl, err := manet.Listen(addr)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Warnw("received shutdown", "signal", sig)
		case <-egCtx.Done():
			log.Warn("received shutdown")
		}

		log.Info("Shutting down...")
		cancel()
		if err := srv.Shutdown(context.TODO()); err != nil {
			log.Errorf("shutting down RPC server failed: %s", err)
		}
		return nil
	})
	eg.Go(func() error {
		log.Infof("start to rpc listen %s", nl.Addr())
		if err := srv.Serve(manet.NetListener(nl)); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	log.Info("Graceful shutdown successful")
	return nil
}
