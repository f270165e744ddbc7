package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Auriora/admin-assistant-sub002/internal/ai"
	"github.com/Auriora/admin-assistant-sub002/internal/config"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect batch jobs submitted by run",
	Long: `Inspect batch jobs created when batch mode is enabled (DEDUP_BATCH_ENABLED=true).
State files live in the configured batch directory.`,
}

var batchStatusCmd = &cobra.Command{
	Use:   "status BATCH_ID",
	Short: "Show the recorded and remote status of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, api, manager, err := batchManager()
		if err != nil {
			return err
		}
		state, err := manager.LoadState(args[0])
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		record, err := api.RetrieveBatch(context.Background(), args[0])
		if err != nil {
			return err
		}
		printBatchStatus(os.Stdout, state, record)
		return nil
	},
}

var batchWaitCmd = &cobra.Command{
	Use:   "wait BATCH_ID",
	Short: "Wait for a batch to finish and summarize its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, manager, err := batchManager()
		if err != nil {
			return err
		}
		ctx := context.Background()
		record, err := manager.WaitForCompletion(ctx, args[0], cfg.PollInterval(), cfg.CompletionTimeout())
		if err != nil {
			return err
		}
		var results map[string]ai.BatchResult
		if record.Status == ai.BatchStatusCompleted {
			if results, err = manager.DownloadResults(ctx, record); err != nil {
				return err
			}
		}
		printBatchResults(os.Stdout, record, results)
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchWaitCmd)
	rootCmd.AddCommand(batchCmd)
}

func batchManager() (config.Config, ai.BatchAPI, *ai.BatchJobManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, nil, err
	}
	if cfg.Provider != config.ProviderOpenAI {
		return cfg, nil, nil, fmt.Errorf("batch jobs need the openai provider, got %s: %w", cfg.Provider, ai.ErrUnsupportedProvider)
	}
	api, err := ai.NewOpenAIBatchAPI(cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, api, ai.NewBatchJobManager(api, cfg.BatchDir, log.WithField("component", "batch")), nil
}

func printBatchStatus(w io.Writer, state *ai.BatchState, record *ai.BatchRecord) {
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", statusLabel(record.Status), record.ID)
	fmt.Fprintf(w, "  Endpoint: %s\n", record.Endpoint)
	if record.OutputFileID != "" {
		fmt.Fprintf(w, "  Output:   %s\n", record.OutputFileID)
	}
	if record.ErrorFileID != "" {
		fmt.Fprintf(w, "  Errors:   %s\n", record.ErrorFileID)
	}
	if state == nil {
		fmt.Fprintf(w, "  %s\n", gray("No local state file"))
		return
	}
	fmt.Fprintf(w, "%s\n", yellow("Local state:"))
	fmt.Fprintf(w, "  Status:      %s\n", state.Status)
	fmt.Fprintf(w, "  Input:       %s (%s)\n", state.InputFilePath, state.InputFileID)
	if state.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", state.Description)
	}
}

func printBatchResults(w io.Writer, record *ai.BatchRecord, results map[string]ai.BatchResult) {
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", statusLabel(record.Status), record.ID)
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	failed := 0
	for _, id := range ids {
		res := results[id]
		if res.Error != "" {
			failed++
			fmt.Fprintf(w, "  %s %s: %s\n", red("✗"), id, res.Error)
			continue
		}
		fmt.Fprintf(w, "  ✓ %s (%d bytes)\n", id, len(res.Content))
	}
	fmt.Fprintf(w, "  Total: %d results, %d failed\n", len(results), failed)
}

func statusLabel(status string) string {
	switch status {
	case ai.BatchStatusCompleted:
		return color.New(color.FgGreen).Sprint("●")
	case ai.BatchStatusFailed, ai.BatchStatusCancelled, ai.BatchStatusExpired:
		return color.New(color.FgRed).Sprint("✗")
	default:
		return color.New(color.FgYellow).Sprint("○")
	}
}
