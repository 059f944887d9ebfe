package typesense

import (
	"context"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/utils/convert"
	"github.com/typesense/typesense-go/typesense/api"
)

// SupportsAtomicSwap implements search.Adapter
func (a *Adapter) SupportsAtomicSwap() bool { return true }

// resolveAlias returns the collection name points to, empty when name is
// not an alias
func (a *Adapter) resolveAlias(ctx context.Context, name string) (string, error) {
	resp, err := a.client.Alias(name).Retrieve(ctx)
	if err != nil {
		if err = backendError("resolve_alias", err); search.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	var alias struct {
		CollectionName string `json:"collection_name"`
	}
	if err := convert.Remarshal(resp, &alias); err != nil {
		return "", search.NewBackendError(search.Typesense, "resolve_alias", 0, "", err)
	}
	return alias.CollectionName, nil
}

// BuildSwapHandle implements search.Adapter
func (a *Adapter) BuildSwapHandle(ctx context.Context, idx *search.Index) (*search.Index, error) {
	prod := idx.PhysicalName()
	current, err := a.resolveAlias(ctx, prod)
	if err != nil {
		return nil, err
	}
	return idx.WithPhysicalName(search.NextSwapName(prod, current)), nil
}

// SwapIndex implements search.Adapter by pointing the production alias
// at swapIdx. A collection still holding the production name is deleted
// first since an alias cannot shadow it.
func (a *Adapter) SwapIndex(ctx context.Context, idx, swapIdx *search.Index) error {
	prod, next := idx.PhysicalName(), swapIdx.PhysicalName()
	current, err := a.resolveAlias(ctx, prod)
	if err != nil {
		return err
	}
	if current == "" {
		exists, err := a.IndexExists(ctx, idx)
		if err != nil {
			return err
		}
		if exists {
			logger.Warnf(ctx, "typesense: replacing collection %s with an alias, it is unavailable until the alias exists", prod)
			if _, err := a.client.Collection(prod).Delete(ctx); err != nil {
				if err = backendError("swap", err); !search.IsNotFound(err) {
					return err
				}
			}
		}
	}

	var schema api.CollectionAliasSchema
	if err := convert.Remarshal(map[string]any{"collection_name": next}, &schema); err != nil {
		return search.NewBackendError(search.Typesense, "swap", 0, "", err)
	}
	if _, err := a.client.Aliases().Upsert(ctx, prod, &schema); err != nil {
		return backendError("swap", err)
	}

	if current != "" && current != next {
		if _, err := a.client.Collection(current).Delete(ctx); err != nil {
			logger.Warnf(ctx, "typesense: failed to delete previous collection %s: %v", current, err)
		}
	}
	return nil
}
