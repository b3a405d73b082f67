package cmds

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/nebula"
)

func TestDialArgs(t *testing.T) {
	addr, err := DialArgs("/ip4/127.0.0.1/tcp/45142")
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:45142/rpc/v0", addr)

	addr, err = DialArgs("http://gateway.local:8080")
	require.NoError(t, err)
	require.Equal(t, "ws://gateway.local:8080/rpc/v0", addr)

	addr, err = DialArgs("https://gateway.example.com")
	require.NoError(t, err)
	require.Equal(t, "wss://gateway.example.com/rpc/v0", addr)
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestPlanLocally(t *testing.T) {
	registry := writeFile(t, "registry.json", `[
		{"name": "Registry", "publisher": "0xdeployer", "version": "1.0.0"},
		{"name": "Marketplace", "publisher": "0xdeployer", "version": "2.0.0",
		 "constructorParams": {
			"registry": {"dynamicValue": {"type": "address", "refContracts": [{"publisherAddress": "0xdeployer", "contractId": "Registry"}]}},
			"fee": {"defaultValue": "250"}
		 }}
	]`)
	from := common.HexToAddress("0x0000000000000000000000000000000000000def")

	plan, err := planLocally(context.Background(), registry, &api.DeployPlanRequest{
		Publisher:  "0xdeployer",
		ContractID: "Marketplace",
		From:       from,
		Nonce:      7,
	})
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(from, 8), plan.Address)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, int64(1), plan.Steps[0].ChainID)
	require.Equal(t, crypto.CreateAddress(from, 7).Hex(), plan.Steps[1].Params["registry"])
	require.Equal(t, "250", plan.Steps[1].Params["fee"])

	_, err = planLocally(context.Background(), filepath.Join(t.TempDir(), "missing.json"), &api.DeployPlanRequest{})
	require.Error(t, err)
}

func TestReadExecuteConfig(t *testing.T) {
	cfg, err := readExecuteConfig(writeFile(t, "engine.json", `{"mode":"engine","engine_url":"https://engine"}`))
	require.NoError(t, err)
	require.Equal(t, nebula.ModeEngine, cfg.Mode)
	require.Equal(t, "https://engine", cfg.EngineURL)

	cfg, err = readExecuteConfig(writeFile(t, "null.json", `null`))
	require.NoError(t, err)
	require.Nil(t, cfg)

	_, err = readExecuteConfig(writeFile(t, "bad.json", `{"mode":"unknown"}`))
	require.Error(t, err)
}
