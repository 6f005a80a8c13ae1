package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agrobuddy/backend/internal/knowledge"
)

func diseasesCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diseases",
		Short: "List the diseases in the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := knowledge.Load(opts.cfg.Knowledge.Path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(kb.Plants())
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPLANT\tDISEASE\tSEVERITY")
			for _, r := range kb.Records() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Plant, r.Disease, r.Severity)
			}
			fmt.Fprintf(w, "\n%d diseases across %d plants (knowledge base %s)\n", kb.Len(), len(kb.Plants()), kb.Version())
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print plants and their diseases as JSON")
	return cmd
}
