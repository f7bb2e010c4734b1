package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/abdulachik/aipulse/internal/app"
	"github.com/abdulachik/aipulse/internal/config"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/store"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Long:  `Display item counts per source and company and the latest trend snapshot.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Println("=== AIPulse Statistics ===")
	fmt.Println()
	fmt.Printf("Store: %s\n", cfg.StoreBackend)
	if cfg.StoreBackend == config.BackendSQLite {
		fmt.Printf("Database: %s\n", cfg.DatabasePath)
	}
	fmt.Println()

	total := 0
	fmt.Println("Items by source:")
	for _, src := range model.AllSources() {
		n, err := st.GetCount(ctx, store.Filter{Source: src})
		if err != nil {
			return fmt.Errorf("count %s: %w", src, err)
		}
		total += n
		fmt.Printf("  %s: %d\n", src, n)
	}
	fmt.Printf("  Total: %d\n", total)
	fmt.Println()

	fmt.Println("Items by company:")
	for _, company := range []model.Company{model.CompanyAnthropic, model.CompanyOpenAI, model.CompanyGoogle, model.CompanyBoth, model.CompanyOther} {
		n, err := st.GetCount(ctx, store.Filter{Company: company})
		if err != nil {
			return fmt.Errorf("count %s: %w", company, err)
		}
		fmt.Printf("  %s: %d\n", company, n)
	}
	fmt.Println()

	snap, err := st.GetLatestSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("No trend snapshot yet. Run `aipulse refresh`.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read latest snapshot: %w", err)
	}

	fmt.Println("Latest snapshot:")
	fmt.Printf("  Taken: %s\n", snap.Timestamp.Format("2006-01-02 15:04:05 MST"))

	companies := make([]string, 0, len(snap.CompanyCounts))
	for c := range snap.CompanyCounts {
		companies = append(companies, string(c))
	}
	sort.Strings(companies)
	for _, c := range companies {
		fmt.Printf("  %s: %d\n", c, snap.CompanyCounts[model.Company(c)])
	}

	if len(snap.TrendingTopics) > 0 {
		fmt.Println("  Trending topics:")
		for _, t := range snap.TrendingTopics {
			fmt.Printf("    %s: %d\n", t.Topic, t.MentionCount)
		}
	}
	return nil
}
