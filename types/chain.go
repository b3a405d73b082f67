package types

import (
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type BlockExplorer struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIURL string `json:"apiUrl,omitempty"`
}

// Chain describes an EVM network. Wallets may report partial descriptors, the
// connection manager replaces them with the defined one for the same ID.
type Chain struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name,omitempty"`
	RPC            string          `json:"rpc"`
	NativeCurrency *NativeCurrency `json:"nativeCurrency,omitempty"`
	BlockExplorers []BlockExplorer `json:"blockExplorers,omitempty"`
	Faucets        []string        `json:"faucets,omitempty"`
	InfoURL        string          `json:"infoURL,omitempty"`
	Slug           string          `json:"slug,omitempty"`
	Testnet        bool            `json:"testnet,omitempty"`
}

// ChainsEqual compares two chain descriptors field by field. Nil and empty
// slices are considered equal.
func ChainsEqual(a, b *Chain) bool {
	if a == nil || b == nil {
		return a == b
	}
	return cmp.Equal(*a, *b, cmpopts.EquateEmpty())
}

// ChainCache keeps the latest known descriptor per chain id.
type ChainCache struct {
	lk     sync.RWMutex
	chains map[int64]*Chain
}

func NewChainCache() *ChainCache {
	return &ChainCache{chains: make(map[int64]*Chain)}
}

func (c *ChainCache) CacheChains(chains []*Chain) {
	c.lk.Lock()
	defer c.lk.Unlock()

	for _, chain := range chains {
		if chain == nil {
			continue
		}
		c.chains[chain.ID] = chain
	}
}

func (c *ChainCache) GetCachedChainIfExists(id int64) (*Chain, bool) {
	c.lk.RLock()
	defer c.lk.RUnlock()

	chain, ok := c.chains[id]
	return chain, ok
}

// GetCachedChain falls back to a bare descriptor when id was never cached.
func (c *ChainCache) GetCachedChain(id int64) *Chain {
	if chain, ok := c.GetCachedChainIfExists(id); ok {
		return chain
	}
	return &Chain{ID: id}
}

func (c *ChainCache) List() []*Chain {
	c.lk.RLock()
	defer c.lk.RUnlock()

	chains := make([]*Chain, 0, len(c.chains))
	for _, chain := range c.chains {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	return chains
}
