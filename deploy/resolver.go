package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	pkgerrors "github.com/pkg/errors"
	"go.opencensus.io/tag"

	"github.com/ipfs-force-community/nebula-gateway/metrics"
	"github.com/ipfs-force-community/nebula-gateway/types"
)

var log = logging.Logger("deploy")

const DefaultMaxDepth = 8

// alreadyDeployedText marks a deterministic deploy whose target address
// already holds code. It is not fatal for reference parameters.
const alreadyDeployedText = "Contract already deployed"

var (
	ErrMaxDepthExceeded = errors.New("reference contracts nested too deep")
	ErrReferenceCycle   = errors.New("reference contracts form a cycle")
	ErrNoRefContract    = errors.New("dynamic value has no reference contract")
)

// IsAlreadyDeployed reports whether err says the contract already exists.
func IsAlreadyDeployed(err error) bool {
	return err != nil && strings.Contains(err.Error(), alreadyDeployedText)
}

type ResolverOption func(*Resolver)

func WithMaxDepth(depth int) ResolverOption {
	return func(r *Resolver) {
		r.maxDepth = depth
	}
}

// Resolver turns parameters into their final string values, deploying the
// referenced contracts through publisher.
type Resolver struct {
	publisher Publisher
	maxDepth  int
}

func NewResolver(publisher Publisher, opts ...ResolverOption) *Resolver {
	r := &Resolver{publisher: publisher, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type refPathKey struct{}

// refPath is the chain of reference contracts being deployed on behalf of
// the current call. Nested deployments reach the resolver again through the
// publisher, so it travels in the context.
func refPath(ctx context.Context) []RefContract {
	path, _ := ctx.Value(refPathKey{}).([]RefContract)
	return path
}

func (r *Resolver) enter(ctx context.Context, ref RefContract) (context.Context, error) {
	path := refPath(ctx)
	for _, visited := range path {
		if visited.PublisherAddress == ref.PublisherAddress && visited.ContractID == ref.ContractID && visited.Version == ref.Version {
			return nil, fmt.Errorf("%w: %s", ErrReferenceCycle, ref)
		}
	}
	if len(path) >= r.maxDepth {
		return nil, fmt.Errorf("%w: %s at depth %d", ErrMaxDepthExceeded, ref, len(path))
	}

	next := make([]RefContract, len(path), len(path)+1)
	copy(next, path)
	return context.WithValue(ctx, refPathKey{}, append(next, ref)), nil
}

// Resolve returns the value of param for chain. Dynamic values deploy their
// reference contracts. An "already deployed" failure falls back to the
// value param was given with.
func (r *Resolver) Resolve(ctx context.Context, chain *types.Chain, param Param) (string, error) {
	value, err := r.resolve(ctx, chain, param)
	if err != nil {
		if IsAlreadyDeployed(err) {
			log.Infof("reference contract already deployed, keep original value: %v", err)
			return param.fallback(), nil
		}
		return "", err
	}
	return value, nil
}

func (r *Resolver) resolve(ctx context.Context, chain *types.Chain, param Param) (string, error) {
	switch param.Kind {
	case ParamDefault:
		if param.DefaultValue != "" {
			return param.DefaultValue, nil
		}
	case ParamDynamic:
	default:
		return param.Value, nil
	}

	dynamic := param.DynamicValue
	if dynamic == nil {
		return param.fallback(), nil
	}

	switch dynamic.Type {
	case DynamicAddress:
		if len(dynamic.RefContracts) == 0 {
			return "", ErrNoRefContract
		}
		addr, err := r.deployRef(ctx, chain, dynamic.RefContracts[0])
		if err != nil {
			return "", err
		}
		return addr, nil
	case DynamicAddressArray:
		addrs := make([]string, 0, len(dynamic.RefContracts))
		for _, ref := range dynamic.RefContracts {
			addr, err := r.deployRef(ctx, chain, ref)
			if err != nil {
				return "", err
			}
			addrs = append(addrs, addr)
		}
		return marshalList(addrs)
	case DynamicBytes:
		if len(dynamic.DecodedBytes) == 0 || dynamic.DecodedBytes[0] == nil {
			break
		}
		return r.encodeBytes(ctx, chain, dynamic.DecodedBytes[0])
	case DynamicBytesArray:
		encoded := make([]string, 0, len(dynamic.DecodedBytes))
		for _, decoded := range dynamic.DecodedBytes {
			if decoded == nil {
				continue
			}
			b, err := r.encodeBytes(ctx, chain, decoded)
			if err != nil {
				return "", err
			}
			encoded = append(encoded, b)
		}
		return marshalList(encoded)
	}

	return param.fallback(), nil
}

func (r *Resolver) deployRef(ctx context.Context, chain *types.Chain, ref RefContract) (string, error) {
	ctx, err := r.enter(ctx, ref)
	if err != nil {
		return "", err
	}

	metrics.Record(ctx, metrics.RefDeploy)
	addr, err := r.publisher.DeployPublishedContract(ctx, &DeployPublishedOptions{
		Chain:      chain,
		ContractID: ref.ContractID,
		Publisher:  ref.PublisherAddress,
		Version:    ref.Version,
		// an empty salt means a non deterministic deployment
		Salt: ref.Salt,
	})
	if err != nil {
		return "", err
	}
	log.Debugw("reference contract deployed", "ref", ref.String(), "address", addr.Hex())
	return addr.Hex(), nil
}

// encodeBytes abi encodes the entries of one decoded bytes value, resolving
// nested dynamic entries first.
func (r *Resolver) encodeBytes(ctx context.Context, chain *types.Chain, decoded []DecodedParam) (string, error) {
	typeNames := make([]string, 0, len(decoded))
	values := make([]string, 0, len(decoded))
	for i, entry := range decoded {
		typeNames = append(typeNames, entry.Type)
		switch {
		case entry.DefaultValue != "":
			values = append(values, entry.DefaultValue)
		case entry.DynamicValue != nil:
			value, err := r.Resolve(ctx, chain, Dynamic(entry.DynamicValue))
			if err != nil {
				return "", err
			}
			values = append(values, value)
		default:
			return "", fmt.Errorf("bytes entry %d (%s) has no value", i, entry.Type)
		}
	}
	return EncodeParameters(typeNames, values)
}

// ResolveAll resolves every parameter in name order.
func (r *Resolver) ResolveAll(ctx context.Context, chain *types.Chain, params Params) (map[string]string, error) {
	resolved := make(map[string]string, len(params))
	for _, key := range params.Keys() {
		value, err := r.Resolve(ctx, chain, params[key])
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "resolve parameter %s", key)
		}
		resolved[key] = value
	}
	return resolved, nil
}

func marshalList(items []string) (string, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func recordDeploy(ctx context.Context, deployType string) {
	if deployType == "" {
		deployType = DeployTypeStandard
	}
	metrics.Record(ctx, metrics.DeployResult, tag.Upsert(metrics.DeployTypeKey, deployType))
}
