package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Runs the scrape once and writes the output file",
		RunE:  runScrapeCommand,
	}
}

func runScrapeCommand(cmd *cobra.Command, _ []string) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(cmd.Context()); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()

	doc, err := appInstance.Scrape(cmd.Context())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d lists written\n", doc.NumberOfLists)
	return err
}
