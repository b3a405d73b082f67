package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

var _ MetadataFetcher = (*Registry)(nil)

// Registry serves published metadata from memory. An empty version selects
// the latest one added for the publisher and contract.
type Registry struct {
	lk      sync.RWMutex
	entries map[string]*Metadata
	latest  map[string]*Metadata
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Metadata),
		latest:  make(map[string]*Metadata),
	}
}

// LoadRegistry reads a JSON array of metadata.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []*Metadata
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}

	r := NewRegistry()
	for _, metadata := range list {
		r.Add(metadata)
	}
	return r, nil
}

func registryKey(publisher, contractID string) string {
	return strings.ToLower(publisher) + "/" + contractID
}

func (r *Registry) Add(metadata *Metadata) {
	key := registryKey(metadata.Publisher, metadata.Name)

	r.lk.Lock()
	defer r.lk.Unlock()
	r.entries[key+"@"+metadata.Version] = metadata
	r.latest[key] = metadata
}

func (r *Registry) FetchPublishedContractMetadata(_ context.Context, contractID, publisher, version string) (*Metadata, error) {
	key := registryKey(publisher, contractID)

	r.lk.RLock()
	defer r.lk.RUnlock()
	var metadata *Metadata
	if version == "" || version == "latest" {
		metadata = r.latest[key]
	} else {
		metadata = r.entries[key+"@"+version]
	}
	if metadata == nil {
		return nil, fmt.Errorf("published contract %s@%s by %s not found", contractID, version, publisher)
	}
	return metadata, nil
}

type PlannedDeployment struct {
	Name       string            `json:"name"`
	DeployType string            `json:"deployType"`
	ChainID    int64             `json:"chainId"`
	Address    common.Address    `json:"address"`
	Factory    *common.Address   `json:"factory,omitempty"`
	Salt       string            `json:"salt,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

var _ Deployer = (*PlanDeployer)(nil)

// PlanDeployer is a dry run Deployer. It predicts the address of every
// deployment from the sender and records the plan instead of sending
// transactions. Salted deployments of the same init code are reported as
// already deployed.
type PlanDeployer struct {
	lk       sync.Mutex
	from     common.Address
	nonce    uint64
	deployed map[common.Address]struct{}
	steps    []*PlannedDeployment
}

func NewPlanDeployer(from common.Address, nonce uint64) *PlanDeployer {
	return &PlanDeployer{
		from:     from,
		nonce:    nonce,
		deployed: make(map[common.Address]struct{}),
	}
}

func (p *PlanDeployer) Steps() []*PlannedDeployment {
	p.lk.Lock()
	defer p.lk.Unlock()
	return append([]*PlannedDeployment{}, p.steps...)
}

func (p *PlanDeployer) DirectDeploy(_ context.Context, chain *types.Chain, metadata *Metadata, params map[string]string, salt string) (common.Address, error) {
	return p.plan(chain, metadata, DeployTypeStandard, nil, params, salt)
}

func (p *PlanDeployer) DeployViaAutoFactory(_ context.Context, chain *types.Chain, metadata *Metadata, implParams, initParams map[string]string, salt string) (common.Address, error) {
	merged := make(map[string]string, len(implParams)+len(initParams))
	for k, v := range implParams {
		merged["impl."+k] = v
	}
	for k, v := range initParams {
		merged[k] = v
	}
	return p.plan(chain, metadata, DeployTypeAutoFactory, nil, merged, salt)
}

func (p *PlanDeployer) DeployViaCustomFactory(_ context.Context, chain *types.Chain, factory common.Address, factoryFunction string, params map[string]string) (common.Address, error) {
	metadata := &Metadata{Name: factoryFunction}
	return p.plan(chain, metadata, DeployTypeCustomFactory, &factory, params, "")
}

func (p *PlanDeployer) plan(chain *types.Chain, metadata *Metadata, deployType string, factory *common.Address, params map[string]string, salt string) (common.Address, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return common.Address{}, err
	}
	code, err := hexutil.Decode(metadata.Bytecode)
	if err != nil {
		code = []byte(metadata.Name)
	}
	initCodeHash := crypto.Keccak256(code, encoded)

	p.lk.Lock()
	defer p.lk.Unlock()

	sender := p.from
	if factory != nil {
		sender = *factory
	}

	var addr common.Address
	if salt == "" && factory == nil {
		addr = crypto.CreateAddress(sender, p.nonce)
		p.nonce++
	} else {
		addr = crypto.CreateAddress2(sender, crypto.Keccak256Hash([]byte(salt)), initCodeHash)
		if _, ok := p.deployed[addr]; ok {
			return common.Address{}, fmt.Errorf("%s at %s", alreadyDeployedText, addr.Hex())
		}
	}
	p.deployed[addr] = struct{}{}

	p.steps = append(p.steps, &PlannedDeployment{
		Name:       metadata.Name,
		DeployType: deployType,
		ChainID:    chain.ID,
		Address:    addr,
		Factory:    factory,
		Salt:       salt,
		Params:     params,
	})
	return addr, nil
}
