package meilisearch

import (
	"context"

	"github.com/meilisearch/meilisearch-go"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
)

// SupportsAtomicSwap implements search.Adapter
func (a *Adapter) SupportsAtomicSwap() bool { return true }

// BuildSwapHandle implements search.Adapter. Swapped indexes exchange
// their contents, so production always keeps its own name.
func (a *Adapter) BuildSwapHandle(_ context.Context, idx *search.Index) (*search.Index, error) {
	return idx.WithPhysicalName(search.NextSwapName(idx.PhysicalName(), "")), nil
}

// SwapIndex implements search.Adapter. After the swap the swap index holds
// the previous production documents and is deleted.
func (a *Adapter) SwapIndex(ctx context.Context, idx, swapIdx *search.Index) error {
	exists, err := a.IndexExists(ctx, idx)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.CreateIndex(ctx, idx); err != nil {
			return err
		}
	}

	info, err := a.client.SwapIndexesWithContext(ctx, []*meilisearch.SwapIndexesParams{
		{Indexes: []string{idx.PhysicalName(), swapIdx.PhysicalName()}},
	})
	if err := a.run(ctx, "swap", info, err); err != nil {
		return err
	}

	if err := a.DeleteIndex(ctx, swapIdx); err != nil {
		logger.Warnf(ctx, "meilisearch: failed to delete previous store %s: %v", swapIdx.PhysicalName(), err)
	}
	return nil
}
