package gateway

import (
	"context"
	"fmt"
	"sync"
)

// StaticCatalog serves asset metadata and merchants from configuration.
type StaticCatalog struct {
	mu        sync.RWMutex
	assets    map[string]Asset
	pairs     map[string]AssetPair
	merchants map[string]Merchant
}

func NewStaticCatalog(assets []Asset, pairs []AssetPair, merchants []Merchant) *StaticCatalog {
	c := &StaticCatalog{
		assets:    make(map[string]Asset, len(assets)),
		pairs:     make(map[string]AssetPair, len(pairs)),
		merchants: make(map[string]Merchant, len(merchants)),
	}
	for _, a := range assets {
		c.assets[a.ID] = a
	}
	for _, p := range pairs {
		c.pairs[p.ID] = p
	}
	for _, m := range merchants {
		c.merchants[m.ID] = m
	}
	return c
}

func (c *StaticCatalog) GetAsset(_ context.Context, id string) (Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return a, nil
}

func (c *StaticCatalog) GetAssetPair(_ context.Context, id string) (AssetPair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pairs[id]
	if !ok {
		return AssetPair{}, fmt.Errorf("%w: %s", ErrAssetPairNotFound, id)
	}
	return p, nil
}

func (c *StaticCatalog) FindAssetPair(_ context.Context, a, b string) (AssetPair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.pairs {
		if (p.BaseAssetID == a && p.QuotingAssetID == b) || (p.BaseAssetID == b && p.QuotingAssetID == a) {
			return p, nil
		}
	}
	return AssetPair{}, fmt.Errorf("%w: %s/%s", ErrAssetPairNotFound, a, b)
}

func (c *StaticCatalog) GetMerchant(_ context.Context, id string) (Merchant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.merchants[id]
	if !ok {
		return Merchant{}, fmt.Errorf("%w: %s", ErrMerchantNotFound, id)
	}
	return m, nil
}
