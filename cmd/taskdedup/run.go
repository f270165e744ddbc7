package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Auriora/admin-assistant-sub002/internal/clustering"
	"github.com/Auriora/admin-assistant-sub002/internal/cost"
	"github.com/Auriora/admin-assistant-sub002/internal/deduplication"
	"github.com/Auriora/admin-assistant-sub002/internal/tasksource"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Decide what to do with every duplicate task",
	Long: `Cluster the tasks in FILE, resolve exact duplicates and ask the configured
model about the remaining ambiguous clusters. Decisions are printed, not applied.

Examples:
  # Use every list in the file as a move target
  taskdedup run tasks.json

  # Restrict move targets and emit JSON for another tool
  taskdedup run tasks.json --lists Work,Home --json

  # Process clusters four at a time
  taskdedup run tasks.json --workers 4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tasks, err := tasksource.LoadFile(args[0])
		if err != nil {
			return err
		}

		lists, _ := cmd.Flags().GetStringSlice("lists")
		if len(lists) == 0 {
			lists = tasksource.AvailableLists(tasks)
		}
		workers, _ := cmd.Flags().GetInt("workers")
		asJSON, _ := cmd.Flags().GetBool("json")

		tracker, err := loadTracker()
		if err != nil {
			return err
		}
		var opts []deduplication.Option
		if tracker != nil {
			opts = append(opts, deduplication.WithBudget(tracker))
		}
		svc, err := deduplication.NewService(cfg, opts...)
		if err != nil {
			return err
		}

		records := types.FromTasks(tasks)
		clusters := clustering.ClusterTasks(records, clustering.OptionsFromConfig(cfg))

		ctx := context.Background()
		var result *deduplication.Result
		if workers > 1 {
			result, err = deduplication.ProcessSharded(ctx, svc, records, clusters, lists, workers)
		} else {
			result, err = svc.Process(ctx, records, clusters, lists)
		}
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printResult(os.Stdout, tasks, result)
		if tracker != nil {
			stats := tracker.GetStats()
			fmt.Printf("Budget: %s, %s tokens this window ($%.4f)\n\n",
				stats.Status, formatTokens(stats.HourlyTokensUsed), stats.HourlyCostUsed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSlice("lists", nil, "Lists the model may move tasks to (default: every list in the file)")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
	runCmd.Flags().Int("workers", 1, "Clusters processed in parallel")
	rootCmd.AddCommand(runCmd)
}

// loadTracker returns nil when budgeting is disabled
func loadTracker() (*cost.Tracker, error) {
	budgetCfg, err := cost.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if !budgetCfg.Enabled {
		return nil, nil
	}
	return cost.NewTracker(budgetCfg, nil)
}

func printResult(w io.Writer, tasks []*types.Task, result *deduplication.Result) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Deduplication Result ==="))

	// Decisions in task order
	decisions := make([]*types.DedupDecision, 0, len(result.Decisions))
	for _, d := range result.Decisions {
		decisions = append(decisions, d)
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].ClusterIndex < decisions[j].ClusterIndex })

	for _, d := range decisions {
		title := d.TaskKey
		if d.ClusterIndex >= 0 && d.ClusterIndex < len(tasks) {
			title = tasks[d.ClusterIndex].Title
		}
		fmt.Fprintf(w, "%s %s %s\n", actionLabel(d), title, gray("["+string(d.Source)+"]"))
		if detail := decisionDetail(d); detail != "" {
			fmt.Fprintf(w, "    %s\n", detail)
		}
		if d.Rationale != "" {
			fmt.Fprintf(w, "    %s\n", gray(d.Rationale))
		}
	}

	if len(result.Diagnostics) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Diagnostics:"))
		for _, diag := range result.Diagnostics {
			fmt.Fprintf(w, "  ⚠ %s\n", diag)
		}
	}

	counts := result.ActionCounts()
	s := result.Stats
	fmt.Fprintf(w, "\n%s\n", yellow("Summary:"))
	fmt.Fprintf(w, "  Clusters:    %d (%d resolved without the model)\n", s.Clusters, s.AutoResolvedClusters)
	fmt.Fprintf(w, "  Model calls: %d\n", s.ModelCalls)
	fmt.Fprintf(w, "  Actions:     keep %d, delete %d, merge %d, move %d\n",
		counts[types.ActionKeep], counts[types.ActionDelete], counts[types.ActionMerge], counts[types.ActionMove])
	fmt.Fprintf(w, "  Time:        %dms\n\n", s.ProcessingTimeMs)
}

func actionLabel(d *types.DedupDecision) string {
	label := strings.ToUpper(string(d.Action()))
	switch d.Action() {
	case types.ActionDelete:
		return color.New(color.FgRed).Sprintf("%-6s", label)
	case types.ActionMerge, types.ActionMove:
		return color.New(color.FgYellow).Sprintf("%-6s", label)
	default:
		return color.New(color.FgGreen).Sprintf("%-6s", label)
	}
}

func decisionDetail(d *types.DedupDecision) string {
	switch d.Action() {
	case types.ActionMerge:
		return fmt.Sprintf("→ %q", d.MergedTitle)
	case types.ActionMove:
		return "→ " + d.TargetList
	}
	if d.CanonicalClusterIndex != nil {
		return fmt.Sprintf("duplicate of #%d in %s", *d.CanonicalClusterIndex, d.CanonicalList)
	}
	return ""
}
