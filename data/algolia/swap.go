package algolia

import (
	"context"
	"net/http"

	"github.com/ncobase/nsearch/data/algolia/client"
	"github.com/ncobase/nsearch/data/search"
)

// SupportsAtomicSwap implements search.Adapter; moving an index over
// another replaces it in one step
func (a *Adapter) SupportsAtomicSwap() bool { return true }

// BuildSwapHandle implements search.Adapter. Production always keeps its
// own name since the rebuilt index is moved over it.
func (a *Adapter) BuildSwapHandle(_ context.Context, idx *search.Index) (*search.Index, error) {
	return idx.WithPhysicalName(search.NextSwapName(idx.PhysicalName(), "")), nil
}

// SwapIndex implements search.Adapter. The move keeps the replicas of the
// destination, so production settings are applied again afterwards to
// carry the rebuilt configuration over to them.
func (a *Adapter) SwapIndex(ctx context.Context, idx, swapIdx *search.Index) error {
	source := swapIdx.PhysicalName()
	err := a.write(ctx, "swap", source, http.MethodPost, client.Path("indexes", source, "operation"), nil, map[string]any{
		"operation":   "move",
		"destination": idx.PhysicalName(),
	})
	if err != nil {
		return err
	}
	return a.UpdateIndexSettings(ctx, idx)
}
