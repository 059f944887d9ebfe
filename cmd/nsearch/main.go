package main

import (
	"fmt"
	"os"

	"github.com/ncobase/nsearch/cmd/nsearch/commands"

	_ "github.com/ncobase/nsearch/data/algolia"
	_ "github.com/ncobase/nsearch/data/elasticsearch"
	_ "github.com/ncobase/nsearch/data/meilisearch"
	_ "github.com/ncobase/nsearch/data/opensearch"
	_ "github.com/ncobase/nsearch/data/typesense"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
