package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/utils"
)

func NewGatewayClient(ctx *cli.Context) (*api.GatewayFullNodeStruct, jsonrpc.ClientCloser, error) {
	var gatewayAPI = &api.GatewayFullNodeStruct{}
	addr, err := DialArgs(ctx.String("listen"))
	if err != nil {
		return nil, nil, err
	}

	header := http.Header{}
	token, err := utils.ReadToken(ctx.String("repo"))
	if err != nil {
		return nil, nil, fmt.Errorf("read token: %w", err)
	}
	header.Add("Authorization", "Bearer "+token)

	closer, err := jsonrpc.NewMergeClient(ctx.Context, addr,
		"Gateway", []interface{}{&gatewayAPI.Internal}, header)
	if err != nil {
		return nil, nil, err
	}
	return gatewayAPI, closer, nil
}

// DialArgs turns a multiaddr or an http url into the websocket rpc endpoint.
func DialArgs(addr string) (string, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err == nil {
		_, addr, err := manet.DialArgs(ma)
		if err != nil {
			return "", err
		}

		return "ws://" + addr + "/rpc/v0", nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String() + "/rpc/v0", nil
}

func withClient(cctx *cli.Context, fn func(ctx context.Context, api *api.GatewayFullNodeStruct) error) error {
	gatewayAPI, closer, err := NewGatewayClient(cctx)
	if err != nil {
		return err
	}
	defer closer()
	return fn(cctx.Context, gatewayAPI)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, " ", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
