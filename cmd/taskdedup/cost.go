package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Auriora/admin-assistant-sub002/internal/cost"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show the token budget and usage",
	Long: `Display the token budget status and usage recorded by previous runs.
Budgeting is configured through DEDUP_COST_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cost.LoadFromEnv()
		if err != nil {
			return err
		}
		if !cfg.Enabled {
			fmt.Println("Token budgeting is disabled")
			fmt.Println("Set DEDUP_COST_ENABLED=true to enable it")
			return nil
		}

		tracker, err := cost.NewTracker(cfg, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize cost tracker: %w", err)
		}
		printBudget(os.Stdout, cfg, tracker.GetStats())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(costCmd)
}

func printBudget(w io.Writer, cfg *cost.Config, stats cost.BudgetStats) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Token Budget ==="))

	statusColor := color.New(color.FgGreen)
	switch stats.Status {
	case cost.BudgetWarning:
		statusColor = color.New(color.FgYellow)
	case cost.BudgetExceeded:
		statusColor = color.New(color.FgRed, color.Bold)
	}
	fmt.Fprintf(w, "Status: %s\n\n", statusColor.Sprint(stats.Status.String()))

	fmt.Fprintf(w, "%s\n", yellow("Current Window:"))
	if cfg.MaxTokensPerHour > 0 {
		percent := float64(stats.HourlyTokensUsed) / float64(cfg.MaxTokensPerHour) * 100
		fmt.Fprintf(w, "  Tokens:  %s / %s (%.1f%%)\n", formatTokens(stats.HourlyTokensUsed), formatTokens(cfg.MaxTokensPerHour), percent)
		fmt.Fprintf(w, "           %s\n", renderProgressBar(percent, 40))
	} else {
		fmt.Fprintf(w, "  Tokens:  %s (unlimited)\n", formatTokens(stats.HourlyTokensUsed))
	}
	if cfg.MaxCostPerHour > 0 {
		fmt.Fprintf(w, "  Cost:    $%.4f / $%.2f\n", stats.HourlyCostUsed, cfg.MaxCostPerHour)
	} else {
		fmt.Fprintf(w, "  Cost:    $%.4f (unlimited)\n", stats.HourlyCostUsed)
	}
	fmt.Fprintf(w, "  Window:  %s → %s\n\n",
		stats.WindowStartTime.Format("15:04:05"),
		stats.WindowStartTime.Add(cfg.BudgetResetInterval).Format("15:04:05"))

	fmt.Fprintf(w, "%s\n", yellow("All-Time Usage:"))
	fmt.Fprintf(w, "  Tokens:  %s\n", formatTokens(stats.TotalTokensUsed))
	fmt.Fprintf(w, "  Cost:    $%.2f\n", stats.TotalCostUsed)

	if len(stats.JobTokensUsed) > 0 {
		ids := make([]string, 0, len(stats.JobTokensUsed))
		for id := range stats.JobTokensUsed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintf(w, "\n%s\n", yellow("By Prompt Job:"))
		for _, id := range ids {
			fmt.Fprintf(w, "  %-12s %s\n", id, formatTokens(stats.JobTokensUsed[id]))
		}
	}
	fmt.Fprintln(w)
}

// formatTokens formats a token count for display
func formatTokens(tokens int64) string {
	switch {
	case tokens < 1000:
		return fmt.Sprintf("%d", tokens)
	case tokens < 1_000_000:
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	default:
		return fmt.Sprintf("%.2fM", float64(tokens)/1_000_000)
	}
}

// renderProgressBar renders a text-based progress bar
func renderProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	barColor := color.New(color.FgGreen)
	if percent >= 100 {
		barColor = color.New(color.FgRed, color.Bold)
	} else if percent >= 80 {
		barColor = color.New(color.FgYellow)
	}

	filled := int(percent / 100.0 * float64(width))
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += barColor.Sprint("█")
		} else {
			bar += color.New(color.FgHiBlack).Sprint("░")
		}
	}
	return fmt.Sprintf("[%s]", bar)
}
