package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/deploy"
	"github.com/ipfs-force-community/nebula-gateway/types"
)

var registryFlag = &cli.StringFlag{
	Name:  "registry",
	Usage: "plan against a local JSON registry instead of asking the daemon",
}

var DeployCmds = &cli.Command{
	Name:        "deploy",
	Usage:       "plan deployments of published contracts",
	Subcommands: []*cli.Command{planCmd, resolveCmd},
}

var planCmd = &cli.Command{
	Name:      "plan",
	Usage:     "predict every deployment a published contract needs",
	ArgsUsage: "<publisher> <contract id>",
	Flags: []cli.Flag{
		registryFlag,
		&cli.Int64Flag{Name: "chain", Usage: "chain id"},
		&cli.StringFlag{Name: "version", Usage: "published version, the latest when empty"},
		&cli.StringFlag{Name: "salt", Usage: "deterministic deployment salt"},
		&cli.StringFlag{Name: "from", Usage: "deployer address"},
		&cli.Uint64Flag{Name: "nonce", Usage: "next nonce of the deployer"},
		&cli.StringFlag{Name: "params", Usage: "JSON file overriding the published constructor params"},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return fmt.Errorf("expect publisher and contract id")
		}
		req := &api.DeployPlanRequest{
			ChainID:    cctx.Int64("chain"),
			Publisher:  cctx.Args().Get(0),
			ContractID: cctx.Args().Get(1),
			Version:    cctx.String("version"),
			Salt:       cctx.String("salt"),
			From:       common.HexToAddress(cctx.String("from")),
			Nonce:      cctx.Uint64("nonce"),
		}
		if path := cctx.String("params"); path != "" {
			params, err := readParams(path)
			if err != nil {
				return err
			}
			req.Params = params
		}

		if path := cctx.String("registry"); path != "" {
			plan, err := planLocally(cctx.Context, path, req)
			if err != nil {
				return err
			}
			return printJSON(plan)
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			plan, err := api.DeployPlan(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(plan)
		})
	},
}

var resolveCmd = &cli.Command{
	Name:      "resolve",
	Usage:     "resolve constructor params, deploying references in a dry run",
	ArgsUsage: "<params file>",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "chain", Usage: "chain id"},
	},
	Action: func(cctx *cli.Context) error {
		params, err := readParams(cctx.Args().First())
		if err != nil {
			return err
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			resolved, err := api.DeployResolveParams(ctx, cctx.Int64("chain"), params)
			if err != nil {
				return err
			}
			return printJSON(resolved)
		})
	},
}

func readParams(path string) (deploy.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var params deploy.Params
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return params, nil
}

func planLocally(ctx context.Context, registryPath string, req *api.DeployPlanRequest) (*api.DeployPlan, error) {
	registry, err := deploy.LoadRegistry(registryPath)
	if err != nil {
		return nil, err
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = 1
	}

	planner := deploy.NewPlanDeployer(req.From, req.Nonce)
	addr, err := deploy.NewPublishedDeployer(registry, planner).DeployPublishedContract(ctx, &deploy.DeployPublishedOptions{
		Chain:          &types.Chain{ID: chainID},
		ContractID:     req.ContractID,
		Publisher:      req.Publisher,
		Version:        req.Version,
		ContractParams: req.Params,
		Salt:           req.Salt,
	})
	if err != nil {
		return nil, err
	}
	return &api.DeployPlan{Address: addr, Steps: planner.Steps()}, nil
}
