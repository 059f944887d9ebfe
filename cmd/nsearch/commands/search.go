package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
	"github.com/spf13/cobra"
)

type searchFlags struct {
	page    int
	perPage int
	facets  []string
	filters []string
	sort    []string
	options string
}

func newSearchCommand(a *app) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search [handle] [query]",
		Short: "Search an index",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.build()
			if err != nil {
				return err
			}
			query := ""
			if len(args) > 1 {
				query = args[1]
			}
			res, err := a.client.Search(cmd.Context(), args[0], query, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVar(&f.page, "page", 0, "1-based result page")
	cmd.Flags().IntVar(&f.perPage, "per-page", 0, "hits per page")
	cmd.Flags().StringSliceVar(&f.facets, "facet", nil, "facet field, repeatable")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "filter as field=value or field=min..max, repeatable")
	cmd.Flags().StringArrayVar(&f.sort, "sort", nil, "sort as field or field:desc, repeatable")
	cmd.Flags().StringVar(&f.options, "options", "", "extra options as a JSON object, passed through to the engine")
	return cmd
}

// build merges flags over the JSON option bag
func (f searchFlags) build() (search.Options, error) {
	opts := search.Options{}
	if f.options != "" {
		if err := convert.DecodeJSON([]byte(f.options), &opts); err != nil {
			return nil, fmt.Errorf("invalid --options: %w", err)
		}
	}
	if f.page > 0 {
		opts[search.OptPage] = f.page
	}
	if f.perPage > 0 {
		opts[search.OptPerPage] = f.perPage
	}
	if len(f.facets) > 0 {
		opts[search.OptFacets] = f.facets
	}
	if len(f.filters) > 0 {
		filters, err := parseFilters(f.filters)
		if err != nil {
			return nil, err
		}
		opts[search.OptFilters] = filters
	}
	if len(f.sort) > 0 {
		sort := make(map[string]any, len(f.sort))
		for _, s := range f.sort {
			field, dir, _ := strings.Cut(s, ":")
			if dir == "" {
				dir = "asc"
			}
			sort[field] = dir
		}
		opts[search.OptSort] = sort
	}
	return opts, nil
}

// parseFilters reads field=value pairs. Repeated fields accumulate values;
// a min..max value with either bound omitted becomes a range.
func parseFilters(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		field, value, ok := strings.Cut(pair, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q, expected field=value", pair)
		}
		if lo, hi, isRange := strings.Cut(value, ".."); isRange {
			r, err := parseRange(lo, hi)
			if err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", pair, err)
			}
			out[field] = r
			continue
		}
		switch prev := out[field].(type) {
		case nil:
			out[field] = value
		case string:
			out[field] = []any{prev, value}
		case []any:
			out[field] = append(prev, value)
		default:
			return nil, fmt.Errorf("filter %q mixes a range and values", field)
		}
	}
	return out, nil
}

func parseRange(lo, hi string) (map[string]any, error) {
	r := make(map[string]any, 2)
	if lo != "" {
		v, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return nil, err
		}
		r["min"] = v
	}
	if hi != "" {
		v, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return nil, err
		}
		r["max"] = v
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("range without bounds")
	}
	return r, nil
}
