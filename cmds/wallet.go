package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/types"
	"github.com/ipfs-force-community/nebula-gateway/utils"
)

var WalletCmds = &cli.Command{
	Name:  "wallet",
	Usage: "wallet cmds",
	Subcommands: []*cli.Command{
		walletStatusCmd,
		listWalletCmd,
		connectLocalCmd,
		setActiveCmd,
		disconnectCmd,
		switchChainCmd,
		defineChainsCmd,
		listChainsCmd,
		signCmd,
	},
}

var walletStatusCmd = &cli.Command{
	Name:  "status",
	Usage: "show the connection state",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			status, err := api.WalletStatus(ctx)
			if err != nil {
				return err
			}
			if status.ActiveAccount != nil {
				fmt.Printf("%s %s\n", status.Status, utils.ShortenAddress(status.ActiveAccount.Address))
			}
			return printJSON(status)
		})
	},
}

var listWalletCmd = &cli.Command{
	Name:  "list",
	Usage: "list connected wallets",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			wallets, err := api.ListConnectedWallets(ctx)
			if err != nil {
				return err
			}
			return printJSON(wallets)
		})
	},
}

var connectLocalCmd = &cli.Command{
	Name:  "connect-local",
	Usage: "connect an in process wallet, a key is generated unless one is given",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "wallet id"},
		&cli.StringFlag{Name: "private-key", Usage: "hex encoded private key", EnvVars: []string{"NEBULA_GATEWAY_PRIVATE_KEY"}},
		&cli.Int64Flag{Name: "chain", Usage: "chain id, the daemon default when 0"},
		&cli.BoolFlag{Name: "smart", Usage: "wrap the wallet in a smart account"},
	},
	Action: func(cctx *cli.Context) error {
		req := &api.ConnectLocalRequest{
			ID:         cctx.String("id"),
			PrivateKey: cctx.String("private-key"),
			ChainID:    cctx.Int64("chain"),
		}
		if cctx.IsSet("smart") {
			smart := cctx.Bool("smart")
			req.AccountAbstraction = &smart
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			res, err := api.ConnectLocalWallet(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var setActiveCmd = &cli.Command{
	Name:      "set-active",
	Usage:     "activate a connected wallet",
	ArgsUsage: "<wallet id>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expect one wallet id")
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.SetActiveWallet(ctx, cctx.Args().First())
		})
	},
}

var disconnectCmd = &cli.Command{
	Name:      "disconnect",
	Usage:     "disconnect a wallet",
	ArgsUsage: "<wallet id>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expect one wallet id")
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.DisconnectWallet(ctx, cctx.Args().First())
		})
	},
}

var switchChainCmd = &cli.Command{
	Name:      "switch-chain",
	Usage:     "switch the chain of the active wallet",
	ArgsUsage: "<chain id>",
	Action: func(cctx *cli.Context) error {
		chainID, err := strconv.ParseInt(cctx.Args().First(), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chain id %q: %w", cctx.Args().First(), err)
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.SwitchChain(ctx, chainID)
		})
	},
}

var defineChainsCmd = &cli.Command{
	Name:      "define-chains",
	Usage:     "replace the defined chains with the JSON array of a file",
	ArgsUsage: "<file>",
	Action: func(cctx *cli.Context) error {
		data, err := os.ReadFile(cctx.Args().First())
		if err != nil {
			return err
		}
		var chains []*types.Chain
		if err := json.Unmarshal(data, &chains); err != nil {
			return fmt.Errorf("decode chains: %w", err)
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.DefineChains(ctx, chains)
		})
	},
}

var listChainsCmd = &cli.Command{
	Name:  "chains",
	Usage: "list defined chains",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			chains, err := api.ListDefinedChains(ctx)
			if err != nil {
				return err
			}
			return printJSON(chains)
		})
	},
}

var signCmd = &cli.Command{
	Name:      "sign",
	Usage:     "sign a personal message with the active wallet",
	ArgsUsage: "<message>",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			sig, err := api.WalletSignMessage(ctx, []byte(cctx.Args().First()))
			if err != nil {
				return err
			}
			fmt.Println(hexutil.Encode(sig))
			return nil
		})
	},
}
