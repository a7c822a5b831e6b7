package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ent0n29/curator/internal/app"
	"github.com/ent0n29/curator/internal/catalog"
	"github.com/ent0n29/curator/internal/persona"
)

var catalogJSON bool

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the book catalog",
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print catalog counters",
	Long: `Load the configured catalog once and print the book counters.

An unreadable or empty catalog prints the empty-catalog notice.`,
	RunE: runCatalogStats,
}

func init() {
	catalogStatsCmd.Flags().BoolVar(&catalogJSON, "json", false, "print counters as JSON")
}

func runCatalogStats(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime(true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	source, closeSource, err := app.NewCatalogSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeSource() }()

	c, cond := catalog.NewLoader(source, 0, logger).Load(ctx)
	if catalogJSON {
		return writeStatsJSON(cmd.OutOrStdout(), c, cond)
	}
	writeStats(cmd.OutOrStdout(), c, cond)
	return nil
}

func writeStats(out io.Writer, c catalog.Catalog, cond catalog.Condition) {
	if !cond.OK() {
		fmt.Fprintf(out, "%s (%s: %s)\n", persona.EmptyCatalogNotice, cond.Kind, cond.Detail)
		return
	}
	if c.Empty() {
		fmt.Fprintln(out, persona.EmptyCatalogNotice)
		return
	}
	stats := c.Stats()
	fmt.Fprintf(out, "Tổng số sách: %d\n", stats.Total)
	fmt.Fprintf(out, "Sách tiếng Việt: %d\n", stats.Vietnamese)
	fmt.Fprintf(out, "Sách tiếng Anh: %d\n", stats.English)
	if stats.Other > 0 {
		fmt.Fprintf(out, "Khác: %d\n", stats.Other)
	}

	categories := make([]string, 0, len(stats.Categories))
	for name := range stats.Categories {
		categories = append(categories, name)
	}
	sort.Strings(categories)
	for _, name := range categories {
		fmt.Fprintf(out, "  %s: %d\n", name, stats.Categories[name])
	}
}

func writeStatsJSON(out io.Writer, c catalog.Catalog, cond catalog.Condition) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		catalog.Stats
		Condition catalog.Condition `json:"condition"`
	}{Stats: c.Stats(), Condition: cond})
}
