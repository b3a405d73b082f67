package deploy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

const (
	DeployTypeStandard      = "standard"
	DeployTypeAutoFactory   = "autoFactory"
	DeployTypeCustomFactory = "customFactory"
)

var ErrNoCustomFactory = errors.New("No custom factory info found")

type CustomFactoryInput struct {
	FactoryFunction        string           `json:"factoryFunction"`
	CustomFactoryAddresses map[int64]string `json:"customFactoryAddresses"`
}

type FactoryDeploymentData struct {
	ImplementationInitializerFunction string              `json:"implementationInitializerFunction,omitempty"`
	CustomFactoryInput                *CustomFactoryInput `json:"customFactoryInput,omitempty"`
}

// Metadata is the published description of a deployable contract.
type Metadata struct {
	Name                  string                 `json:"name"`
	Publisher             string                 `json:"publisher,omitempty"`
	Version               string                 `json:"version,omitempty"`
	DeployType            string                 `json:"deployType,omitempty"`
	Bytecode              string                 `json:"bytecode,omitempty"`
	ConstructorParams     Params                 `json:"constructorParams,omitempty"`
	ImplConstructorParams Params                 `json:"implConstructorParams,omitempty"`
	FactoryDeploymentData *FactoryDeploymentData `json:"factoryDeploymentData,omitempty"`
}

type DeployPublishedOptions struct {
	Chain      *types.Chain
	ContractID string
	Publisher  string
	Version    string
	// defaults to the published constructor params when nil
	ContractParams Params
	// defaults to the published implementation constructor params when nil
	ImplConstructorParams Params
	Salt                  string
}

// Publisher deploys published contracts. Reference parameters are deployed
// through it.
type Publisher interface {
	DeployPublishedContract(ctx context.Context, opts *DeployPublishedOptions) (common.Address, error)
}

type MetadataFetcher interface {
	FetchPublishedContractMetadata(ctx context.Context, contractID, publisher, version string) (*Metadata, error)
}

// Deployer sends the deployments once every parameter is resolved.
type Deployer interface {
	DirectDeploy(ctx context.Context, chain *types.Chain, metadata *Metadata, params map[string]string, salt string) (common.Address, error)
	DeployViaAutoFactory(ctx context.Context, chain *types.Chain, metadata *Metadata, implParams, initParams map[string]string, salt string) (common.Address, error)
	DeployViaCustomFactory(ctx context.Context, chain *types.Chain, factory common.Address, factoryFunction string, params map[string]string) (common.Address, error)
}

type FromMetadataOptions struct {
	Chain                 *types.Chain
	Metadata              *Metadata
	InitializeParams      Params
	ImplConstructorParams Params
	Salt                  string
}

var _ Publisher = (*PublishedDeployer)(nil)

// PublishedDeployer fetches published metadata and deploys it, resolving
// reference parameters recursively.
type PublishedDeployer struct {
	fetcher  MetadataFetcher
	deployer Deployer
	resolver *Resolver
}

func NewPublishedDeployer(fetcher MetadataFetcher, deployer Deployer, opts ...ResolverOption) *PublishedDeployer {
	d := &PublishedDeployer{fetcher: fetcher, deployer: deployer}
	d.resolver = NewResolver(d, opts...)
	return d
}

func (d *PublishedDeployer) Resolver() *Resolver {
	return d.resolver
}

func (d *PublishedDeployer) DeployPublishedContract(ctx context.Context, opts *DeployPublishedOptions) (common.Address, error) {
	metadata, err := d.fetcher.FetchPublishedContractMetadata(ctx, opts.ContractID, opts.Publisher, opts.Version)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "fetch metadata of %s", opts.ContractID)
	}

	initParams := opts.ContractParams
	if initParams == nil {
		initParams = metadata.ConstructorParams
	}
	implParams := opts.ImplConstructorParams
	if implParams == nil {
		implParams = metadata.ImplConstructorParams
	}

	return d.DeployFromMetadata(ctx, &FromMetadataOptions{
		Chain:                 opts.Chain,
		Metadata:              metadata,
		InitializeParams:      initParams,
		ImplConstructorParams: implParams,
		Salt:                  opts.Salt,
	})
}

// DeployFromMetadata resolves the implementation constructor params and the
// initialize params, then deploys according to the metadata deploy type.
func (d *PublishedDeployer) DeployFromMetadata(ctx context.Context, opts *FromMetadataOptions) (common.Address, error) {
	if opts.Chain == nil || opts.Metadata == nil {
		return common.Address{}, errors.New("chain and metadata are required")
	}

	implParams, err := d.resolver.ResolveAll(ctx, opts.Chain, opts.ImplConstructorParams)
	if err != nil {
		return common.Address{}, err
	}
	initParams, err := d.resolver.ResolveAll(ctx, opts.Chain, opts.InitializeParams)
	if err != nil {
		return common.Address{}, err
	}

	metadata := opts.Metadata
	var addr common.Address
	switch metadata.DeployType {
	case DeployTypeStandard, "":
		addr, err = d.deployer.DirectDeploy(ctx, opts.Chain, metadata, initParams, opts.Salt)
	case DeployTypeAutoFactory:
		addr, err = d.deployer.DeployViaAutoFactory(ctx, opts.Chain, metadata, implParams, initParams, opts.Salt)
	case DeployTypeCustomFactory:
		var factory common.Address
		var function string
		factory, function, err = customFactory(metadata, opts.Chain)
		if err != nil {
			return common.Address{}, err
		}
		addr, err = d.deployer.DeployViaCustomFactory(ctx, opts.Chain, factory, function, initParams)
	default:
		return common.Address{}, fmt.Errorf("Unsupported deploy type: %s", metadata.DeployType)
	}
	if err != nil {
		return common.Address{}, err
	}

	recordDeploy(ctx, metadata.DeployType)
	log.Infow("contract deployed", "name", metadata.Name, "type", metadata.DeployType, "address", addr.Hex())
	return addr, nil
}

func customFactory(metadata *Metadata, chain *types.Chain) (common.Address, string, error) {
	if metadata.FactoryDeploymentData == nil || metadata.FactoryDeploymentData.CustomFactoryInput == nil {
		return common.Address{}, "", ErrNoCustomFactory
	}
	input := metadata.FactoryDeploymentData.CustomFactoryInput
	factory := input.CustomFactoryAddresses[chain.ID]
	if factory == "" || input.FactoryFunction == "" {
		return common.Address{}, "", fmt.Errorf("No factory address found on chain %d", chain.ID)
	}
	if !common.IsHexAddress(factory) {
		return common.Address{}, "", fmt.Errorf("invalid factory address %q on chain %d", factory, chain.ID)
	}
	return common.HexToAddress(factory), input.FactoryFunction, nil
}
