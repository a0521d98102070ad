package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/job-listing-crawler/internal/server"
)

// newSchemasCmd creates the 'schemas' subcommand, which validates the schema
// directory and lists the sites a run would crawl.
func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "Validates site schemas and lists the selected sites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			sites, err := server.LoadSites(rt.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, site := range sites {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n",
					site.Name, site.Pagination, site.BaseURL, strings.Join(site.URLs, ","))
			}
			return nil
		},
	}
}
