package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Auriora/admin-assistant-sub002/internal/clustering"
	"github.com/Auriora/admin-assistant-sub002/internal/tasksource"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster FILE",
	Short: "Group likely duplicate tasks without calling a model",
	Long: `Load an exported task file and print the clusters of likely duplicates.

Examples:
  # Cluster with the configured threshold
  taskdedup cluster tasks.json

  # Stricter grouping, titles only, hide tasks with no match
  taskdedup cluster tasks.json --threshold 95 --no-body --no-singletons`,
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

		opts := clustering.OptionsFromConfig(cfg)
		if cmd.Flags().Changed("threshold") {
			opts.Threshold, _ = cmd.Flags().GetInt("threshold")
		}
		if noSingletons, _ := cmd.Flags().GetBool("no-singletons"); noSingletons {
			opts.IncludeSingletons = false
		}
		if noBody, _ := cmd.Flags().GetBool("no-body"); noBody {
			opts.UseBody = false
		}

		clusters := clustering.ClusterTasks(types.FromTasks(tasks), opts)
		printClusters(os.Stdout, tasks, clusters)
		return nil
	},
}

func init() {
	clusterCmd.Flags().Int("threshold", clustering.DefaultThreshold, "Minimum similarity (0-100) to group tasks")
	clusterCmd.Flags().Bool("no-singletons", false, "Omit tasks that matched nothing")
	clusterCmd.Flags().Bool("no-body", false, "Compare titles only")
	rootCmd.AddCommand(clusterCmd)
}

func printClusters(w io.Writer, tasks []*types.Task, clusters []types.TaskCluster) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	multi := 0
	for _, c := range clusters {
		if !c.IsSingleton() {
			multi++
		}
	}
	fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== %d tasks, %d clusters (%d with duplicates) ===", len(tasks), len(clusters), multi)))

	for _, c := range clusters {
		fmt.Fprintf(w, "\nCluster %d (%d)\n", c.ClusterID, c.Size())
		for _, idx := range c.Indices {
			t := tasks[idx]
			fmt.Fprintf(w, "  [%d] %s %s\n", idx, t.Title, gray("("+t.ListName+")"))
		}
	}
	fmt.Fprintln(w)
}
