package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/abdulachik/aipulse/internal/app"
	"github.com/abdulachik/aipulse/internal/model"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch all sources once and store a trend snapshot",
	Long: `Run a single refresh cycle: fetch Hacker News, GitHub releases and RSS
feeds concurrently, store the items and write a new trend snapshot.

With --repo only the releases of that repository are fetched and stored.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().String("repo", "", "Fetch releases of a single owner/repo only")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	repo, _ := cmd.Flags().GetString("repo")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.ValidateForRefresh(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Close()

	if repo != "" {
		return refreshRepo(ctx, a, repo)
	}

	result, err := a.Aggregator.RefreshAllSources(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	fmt.Println("=== Refresh complete ===")
	fmt.Println()
	for _, src := range model.AllSources() {
		if srcErr, failed := result.Errors[src]; failed {
			fmt.Printf("  %-14s FAILED: %v\n", src, srcErr)
			continue
		}
		fmt.Printf("  %-14s %d items\n", src, result.Fetched[src])
	}
	fmt.Println()
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))

	if snap := result.Snapshot; snap != nil && len(snap.TrendingTopics) > 0 {
		topics := make([]string, 0, len(snap.TrendingTopics))
		for _, t := range snap.TrendingTopics {
			topics = append(topics, fmt.Sprintf("%s (%d)", t.Topic, t.MentionCount))
		}
		fmt.Printf("Trending: %s\n", strings.Join(topics, ", "))
	}
	return nil
}

func refreshRepo(ctx context.Context, a *app.App, fullName string) error {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("invalid --repo %q: expected owner/repo", fullName)
	}

	items, err := a.GitHub.FetchReleasesForRepo(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("fetch releases of %s: %w", fullName, err)
	}

	if err := a.Store.UpsertMany(ctx, items); err != nil {
		return fmt.Errorf("store releases: %w", err)
	}

	slog.Info("stored releases", "repo", fullName, "count", len(items))

	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	for _, item := range items {
		fmt.Printf("  %s  %-12s %s\n", item.PublishedAt.Format("2006-01-02"), item.Metadata["version"], item.Title)
	}
	return nil
}
