package main

import (
	"fmt"

	"github.com/abdulachik/aipulse/internal/config"
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List tracked repositories and feeds",
	Long:  `Print the source catalog: the built-in list, or SOURCES_PATH when set.`,
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	catalog, err := config.LoadCatalog(cfg.SourcesPath)
	if err != nil {
		return err
	}

	fmt.Printf("GitHub repositories (%d):\n", len(catalog.Repos))
	for _, r := range catalog.Repos {
		fmt.Printf("  %-32s %s\n", r.FullName(), r.Company)
	}
	fmt.Println()

	fmt.Printf("RSS feeds (%d):\n", len(catalog.Feeds))
	for _, f := range catalog.Feeds {
		filter := ""
		if f.FilterRequired {
			filter = " (filtered)"
		}
		fmt.Printf("  %-28s %-10s %s%s\n", f.Name, f.Company, f.URL, filter)
	}
	return nil
}
