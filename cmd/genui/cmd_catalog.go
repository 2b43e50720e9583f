package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genui/internal/catalog"
)

var catalogJSON bool

// catalogCmd prints the component vocabulary
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the globals generated components may reference",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := catalog.Default()
		if catalogJSON {
			return writeJSON(cmd.OutOrStdout(), catalogListing(cat))
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, titleStyle.Render("catalog "+catalog.Version))
		for _, k := range catalogKinds {
			names := cat.Names(k)
			if len(names) == 0 {
				continue
			}
			fmt.Fprintln(w, field(k.String(), strings.Join(names, ", ")))
		}
		return nil
	},
}

var catalogKinds = []catalog.Kind{
	catalog.KindComponent,
	catalog.KindChart,
	catalog.KindNamespace,
	catalog.KindHook,
	catalog.KindHelper,
	catalog.KindTimer,
	catalog.KindGlobal,
	catalog.KindData,
}

func init() {
	catalogCmd.Flags().BoolVar(&catalogJSON, "json", false, "Print the catalog as JSON")
}

type catalogEntry struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Members []string `json:"members,omitempty"`
}

type catalogDoc struct {
	Version string         `json:"version"`
	Entries []catalogEntry `json:"entries"`
	Prompt  string         `json:"prompt"`
}

func catalogListing(cat *catalog.Catalog) catalogDoc {
	doc := catalogDoc{Version: catalog.Version, Prompt: cat.Describe()}
	for _, e := range cat.Entries() {
		doc.Entries = append(doc.Entries, catalogEntry{Name: e.Name, Kind: e.Kind.String(), Members: e.Members})
	}
	return doc
}
