package elasticsearch

import (
	"context"
	"net/http"
	"sort"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/utils/convert"
)

// SupportsAtomicSwap implements search.Adapter; aliases are repointed in
// a single _aliases request
func (a *Adapter) SupportsAtomicSwap() bool { return true }

// resolveAlias returns the store behind the alias name, or "" when name
// is not an alias
func (a *Adapter) resolveAlias(ctx context.Context, name string) (string, error) {
	raw, status, err := a.perform(ctx, "get_alias", esapi.IndicesGetAliasRequest{Name: []string{name}})
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status >= http.StatusMultipleChoices {
		return "", a.statusError("get_alias", status, raw)
	}
	var resp map[string]any
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return "", search.NewBackendError(a.flavor.Engine, "get_alias", 0, string(raw), err)
	}
	return firstKey(resp), nil
}

// concreteIndexes returns the stores addressed by name
func (a *Adapter) concreteIndexes(ctx context.Context, name string) ([]string, error) {
	raw, status, err := a.perform(ctx, "get_alias", esapi.IndicesGetAliasRequest{Name: []string{name}})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return []string{name}, nil
	}
	var resp map[string]any
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return nil, search.NewBackendError(a.flavor.Engine, "get_alias", 0, string(raw), err)
	}
	out := make([]string, 0, len(resp))
	for k := range resp {
		out = append(out, k)
	}
	if len(out) == 0 {
		return []string{name}, nil
	}
	sort.Strings(out)
	return out, nil
}

// BuildSwapHandle implements search.Adapter
func (a *Adapter) BuildSwapHandle(ctx context.Context, idx *search.Index) (*search.Index, error) {
	current, err := a.resolveAlias(ctx, idx.PhysicalName())
	if err != nil {
		return nil, err
	}
	return idx.WithPhysicalName(search.NextSwapName(idx.PhysicalName(), current)), nil
}

func (a *Adapter) updateAliases(ctx context.Context, actions ...map[string]any) error {
	body, err := jsonBody(map[string]any{"actions": actions})
	if err != nil {
		return err
	}
	_, err = a.call(ctx, "swap", esapi.IndicesUpdateAliasesRequest{Body: body})
	return err
}

// SwapIndex implements search.Adapter. The production name becomes an
// alias of the swap store; a production store holding the name directly
// is removed in the same request.
func (a *Adapter) SwapIndex(ctx context.Context, idx, swapIdx *search.Index) error {
	prod, next := idx.PhysicalName(), swapIdx.PhysicalName()
	current, err := a.resolveAlias(ctx, prod)
	if err != nil {
		return err
	}
	add := map[string]any{"add": map[string]any{"index": next, "alias": prod}}

	if current != "" {
		if current == next {
			return nil
		}
		remove := map[string]any{"remove": map[string]any{"index": current, "alias": prod}}
		if err := a.updateAliases(ctx, remove, add); err != nil {
			return err
		}
		if _, err := a.call(ctx, "delete_index", esapi.IndicesDeleteRequest{Index: []string{current}}); err != nil && !search.IsNotFound(err) {
			logger.Warnf(ctx, "failed to delete stale index %s: %v", current, err)
		}
		a.suggest.Delete(idx.Handle)
		return nil
	}

	exists, err := a.exists(ctx, prod)
	if err != nil {
		return err
	}
	if !exists {
		return a.updateAliases(ctx, add)
	}

	removeIndex := map[string]any{"remove_index": map[string]any{"index": prod}}
	if err := a.updateAliases(ctx, add, removeIndex); err == nil {
		a.suggest.Delete(idx.Handle)
		return nil
	} else if search.StatusOf(err) != http.StatusBadRequest {
		return err
	}

	logger.Warnf(ctx, "%s rejected remove_index, %s is unavailable until the alias is created", a.flavor.DisplayName, prod)
	if _, err := a.call(ctx, "delete_index", esapi.IndicesDeleteRequest{Index: []string{prod}}); err != nil && !search.IsNotFound(err) {
		return err
	}
	a.suggest.Delete(idx.Handle)
	return a.updateAliases(ctx, add)
}
