package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test the backend of every configured index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := a.client.Ping(cmd.Context())
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HANDLE\tENGINE\tNAME\tSTATUS")
			down := 0
			for _, idx := range a.client.Indexes() {
				state := "ok"
				if !status[idx.Handle] {
					state = "unreachable"
					down++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", idx.Handle, idx.Engine, idx.PhysicalName(), state)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if down > 0 {
				return fmt.Errorf("%d of %d indexes unreachable", down, len(status))
			}
			return nil
		},
	}
}

func newSchemaCommand(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "schema [handle]",
		Short: "Show the schema of an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if raw {
				schema, err := a.client.GetIndexSchema(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), schema)
			}
			fields, err := a.client.GetSchemaFields(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tTYPE")
			for _, f := range fields {
				fmt.Fprintf(w, "%s\t%s\n", f.Name, f.Type)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the native schema reported by the engine")
	return cmd
}

func newIDsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ids [handle]",
		Short: "List every document id of an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.client.GetAllDocumentIDs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newCountCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count [handle]",
		Short: "Count the documents of an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client.GetDocumentCount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
