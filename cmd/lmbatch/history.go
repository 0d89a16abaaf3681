package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sevigo/lmbatch/batch"
	"github.com/sevigo/lmbatch/runlog"
)

func runHistory(cmd *cobra.Command, args []string) error {
	if flagHistoryDB == "" {
		return errors.New("no history database configured, pass --history-db")
	}

	logger := newLogger()
	log, err := runlog.Open(flagHistoryDB, logger)
	if err != nil {
		return fmt.Errorf("error opening history database: %w", err)
	}
	defer log.Close()

	ctx := context.Background()
	runs, err := log.Recent(ctx, flagHistoryLimit)
	if err != nil {
		return fmt.Errorf("error reading run history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, run := range runs {
		printer.Printf("%s  %s/%s  %d/%d files",
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Backend, run.Model,
			run.ProcessedFiles, run.TotalFiles)
		if run.FailedFiles > 0 {
			fmt.Printf("  (%d failed)", run.FailedFiles)
		}
		printer.Printf("  %d tokens  strategy=%s\n", run.TotalTokens, run.Strategy)

		if !flagVerbose {
			continue
		}
		fmt.Printf("    run %s, prompt %s\n", run.ID, run.PromptFile)
		files, err := log.Files(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("error reading files for run %s: %w", run.ID, err)
		}
		for _, f := range files {
			mark := "✓"
			if f.State != batch.StateCompleted {
				mark = "✗"
			}
			printer.Printf("    %s %s: %d chunk(s), %d tokens", mark, f.Name, f.Chunks, f.Tokens)
			if f.Err != "" {
				fmt.Printf(", %s", f.Err)
			}
			fmt.Println()
		}
	}
	return nil
}
