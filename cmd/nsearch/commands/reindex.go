package commands

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
	"github.com/spf13/cobra"
)

// maxLineSize bounds one NDJSON document
const maxLineSize = 16 << 20

// fileSource serves documents read from an NDJSON stream, in file order
type fileSource struct {
	ids  []string
	docs map[string]search.Document
}

// readDocuments parses one JSON object per line. idField, when set, is
// copied to objectID. A later line with the same id replaces the earlier one.
func readDocuments(r io.Reader, idField string) (*fileSource, error) {
	src := &fileSource{docs: make(map[string]search.Document)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var doc search.Document
		if err := convert.DecodeJSON(raw, &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if idField != "" {
			if v, ok := doc[idField]; ok {
				doc["objectID"] = convert.ToString(v)
			}
		}
		id := doc.ID()
		if id == "" {
			return nil, fmt.Errorf("line %d: document has no objectID", line)
		}
		if _, seen := src.docs[id]; !seen {
			src.ids = append(src.ids, id)
		}
		src.docs[id] = doc
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *fileSource) SourceIDs(context.Context, *search.Index) ([]string, error) {
	return s.ids, nil
}

func (s *fileSource) Document(_ context.Context, _ *search.Index, id string) (search.Document, error) {
	return s.docs[id], nil
}

func newReindexCommand(a *app) *cobra.Command {
	var (
		from    string
		idField string
	)

	cmd := &cobra.Command{
		Use:   "reindex [handle]",
		Short: "Rebuild an index from an NDJSON file without downtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(from)
			if err != nil {
				return err
			}
			defer f.Close()

			src, err := readDocuments(f, idField)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", from, err)
			}
			report, err := a.client.Rebuild(cmd.Context(), args[0], src)
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "NDJSON file with one document per line")
	cmd.Flags().StringVar(&idField, "id-field", "", "document field used as objectID")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
