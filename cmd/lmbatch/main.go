// Command lmbatch processes text files in batch through a local or
// remote LLM backend: one shared prompt file, many input documents,
// one output file per document (or per chunk when content is split).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is injected at build time via ldflags.
var Version = "dev"

var (
	flagPrompt       string
	flagInput        string
	flagOutput       string
	flagServer       string
	flagBackend      string
	flagModel        string
	flagTemperature  float64
	flagMaxTokens    int
	flagConcurrent   int
	flagMaxContext   int
	flagStrategy     string
	flagAutoDetect   bool
	flagOverlap      int
	flagSafetyMargin int
	flagConfig       string
	flagVerbose      bool
	flagDryRun       bool
	flagOverwrite    bool
	flagHistoryDB    string
	flagHistoryLimit int
)

var rootCmd = &cobra.Command{
	Use:   "lmbatch",
	Short: "Batch process text files through an LLM server",
	Long: `lmbatch takes a prompt file and processes one or more text files,
sending each combined prompt+text to an LLM backend and saving the
responses. Oversized inputs are handled by a configurable strategy:
fail, truncate, split, or force.

Example usage:

  lmbatch --prompt prompts/analyze.txt --input txtfiles/

  lmbatch -p prompts/summarize.txt -i document.txt -o results/`,
	SilenceUsage: true,
	RunE:         runBatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lmbatch %s\n", Version)
		fmt.Printf("Go version: %s\n", runtime.Version())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent batch runs from the history database",
	RunE:  runHistory,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&flagPrompt, "prompt", "p", "", "path to prompt file (required)")
	flags.StringVarP(&flagInput, "input", "i", "", "path to text file(s), directory, or git URL (required)")
	flags.StringVarP(&flagOutput, "output", "o", "output", "output directory")
	flags.StringVar(&flagServer, "server", "http://localhost:1234", "backend server URL")
	flags.StringVar(&flagBackend, "backend", "lmstudio", "completion backend (lmstudio, ollama, gemini)")
	flags.StringVar(&flagModel, "model", "gpt-oss-20b", "model name to use")
	flags.Float64Var(&flagTemperature, "temperature", 0.1, "sampling temperature (0.0-2.0)")
	flags.IntVar(&flagMaxTokens, "max-tokens", 32000, "maximum response tokens")
	flags.IntVar(&flagConcurrent, "concurrent", 3, "number of concurrent requests")
	flags.IntVar(&flagMaxContext, "max-context", 16384, "maximum context length in tokens (0 = auto-detect)")
	flags.StringVar(&flagStrategy, "strategy", "force", "how to handle oversized content (fail, truncate, split, force)")
	flags.BoolVar(&flagAutoDetect, "auto-detect-context", false, "auto-detect model context length from presets")
	flags.IntVar(&flagOverlap, "overlap-tokens", 300, "overlap tokens for chunking")
	flags.IntVar(&flagSafetyMargin, "safety-margin", 500, "safety margin tokens")
	flags.StringVar(&flagConfig, "config", "", "configuration file path (default: config.yaml)")
	flags.BoolVar(&flagDryRun, "dry-run", false, "show what would be processed without making completion calls")
	flags.BoolVar(&flagOverwrite, "overwrite", false, "overwrite existing output files")

	cobra.CheckErr(rootCmd.MarkFlagRequired("prompt"))
	cobra.CheckErr(rootCmd.MarkFlagRequired("input"))

	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagHistoryDB, "history-db", "", "SQLite file for run history (empty = disabled)")

	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 10, "number of runs to show")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(historyCmd)
}

// newLogger builds the CLI logger. Progress and summaries go to stdout
// as plain text; structured logs go to stderr, quiet unless verbose.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
