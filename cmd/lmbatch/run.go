package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sevigo/lmbatch/batch"
	"github.com/sevigo/lmbatch/budget"
	"github.com/sevigo/lmbatch/config"
	"github.com/sevigo/lmbatch/documentloaders"
	"github.com/sevigo/lmbatch/gitutil"
	"github.com/sevigo/lmbatch/llms"
	"github.com/sevigo/lmbatch/llms/gemini"
	"github.com/sevigo/lmbatch/llms/lmstudio"
	"github.com/sevigo/lmbatch/llms/ollama"
	"github.com/sevigo/lmbatch/outputs"
	"github.com/sevigo/lmbatch/runlog"
)

// printer groups thousands in token and context counts.
var printer = message.NewPrinter(language.English)

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	applyFlags(cfg, cmd)

	contextLimit, detected := resolveContextLimit(cfg)
	cfg.Processing.MaxContextLength = contextLimit

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("error initializing %s backend: %w", cfg.Server.Backend, err)
	}

	if flagVerbose {
		fmt.Println("Validating setup...")
	}
	if v, ok := completer.(llms.Verifier); ok {
		info, err := v.Verify(ctx)
		if err != nil {
			return fmt.Errorf("setup validation failed: %w", err)
		}
		if flagVerbose {
			fmt.Printf("✓ Connected to %s at %s\n", cfg.Server.Backend, info.URL)
			if len(info.Models) > 0 {
				fmt.Printf("  Available models: %s\n", strings.Join(info.Models, ", "))
			}
			fmt.Printf("✓ Output directory ready: %s\n", cfg.Output.Directory)
		}
	}

	prompt, err := documentloaders.ReadPrompt(flagPrompt)
	if err != nil {
		return err
	}

	loader, cleanup, err := selectLoader(flagInput, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sources, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("error finding input files: %w", err)
	}
	printDiscoveredFiles(sources)

	writer := outputs.NewWriter(cfg.Output.Directory,
		outputs.WithOverwrite(cfg.Output.Overwrite),
		outputs.WithMetadata(cfg.Output.IncludeMetadata),
		outputs.WithLogger(logger),
	)

	strategy, err := budget.ParseStrategy(cfg.Context.Strategy)
	if err != nil {
		return err
	}

	processorOpts := []batch.Option{
		batch.WithConcurrency(cfg.Processing.Concurrency),
		batch.WithTemperature(cfg.Processing.Temperature),
		batch.WithMaxTokens(cfg.Processing.MaxTokens),
		batch.WithContextLimit(contextLimit),
		batch.WithSafetyMargin(cfg.Context.SafetyMargin),
		batch.WithOverlapTokens(cfg.Context.OverlapTokens),
		batch.WithStrategy(strategy),
		batch.WithTruncationWarnings(cfg.Context.WarnOnTruncation),
		batch.WithLogger(logger),
	}
	if flagVerbose {
		processorOpts = append(processorOpts, batch.WithProgress(printProgress))
	}

	processor, err := batch.New(completer, writer, processorOpts...)
	if err != nil {
		return err
	}

	req := batch.Request{
		Prompt:     prompt,
		PromptPath: flagPrompt,
		Sources:    sources,
	}

	if flagDryRun {
		return dryRun(ctx, processor, cfg, req, contextLimit, detected)
	}

	printer.Printf("\nProcessing %d files... (context: %d, strategy: %s)\n",
		len(sources), contextLimit, cfg.Context.Strategy)

	sum, err := processor.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	printSummary(sum, writer.Summary())
	recordRun(logger, cfg, sum)

	if ctx.Err() != nil {
		return errors.New("processing interrupted")
	}
	if sum.FailedFiles > 0 {
		return fmt.Errorf("%d of %d files failed", sum.FailedFiles, sum.TotalFiles)
	}
	return nil
}

// applyFlags overlays explicitly set flags onto the configuration.
// Unset flags never clobber file or environment values.
func applyFlags(cfg *config.Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server.URL = flagServer
	}
	if flags.Changed("backend") {
		cfg.Server.Backend = flagBackend
	}
	if flags.Changed("model") {
		cfg.Server.Model = flagModel
	}
	if flags.Changed("temperature") {
		cfg.Processing.Temperature = flagTemperature
	}
	if flags.Changed("max-tokens") {
		cfg.Processing.MaxTokens = flagMaxTokens
	}
	if flags.Changed("concurrent") {
		cfg.Processing.Concurrency = flagConcurrent
	}
	if flags.Changed("max-context") {
		cfg.Processing.MaxContextLength = flagMaxContext
	}
	if flags.Changed("strategy") {
		cfg.Context.Strategy = flagStrategy
	}
	if flags.Changed("auto-detect-context") {
		cfg.Context.AutoDetect = flagAutoDetect
	}
	if flags.Changed("overlap-tokens") {
		cfg.Context.OverlapTokens = flagOverlap
	}
	if flags.Changed("safety-margin") {
		cfg.Context.SafetyMargin = flagSafetyMargin
	}
	if flags.Changed("output") {
		cfg.Output.Directory = flagOutput
	}
	if flags.Changed("overwrite") {
		cfg.Output.Overwrite = flagOverwrite
	}
}

// resolveContextLimit picks the effective context window. A limit of
// zero or the auto-detect setting resolves the window from the model
// presets table.
func resolveContextLimit(cfg *config.Config) (limit int, detected bool) {
	limit = cfg.Processing.MaxContextLength
	if limit == 0 || cfg.Context.AutoDetect {
		return cfg.ContextLengthFor(cfg.Server.Model), true
	}
	return limit, false
}

// buildBackend constructs the configured completion backend.
func buildBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llms.Completer, error) {
	switch cfg.Server.Backend {
	case config.BackendLMStudio:
		return lmstudio.New(
			lmstudio.WithServerURL(cfg.Server.URL),
			lmstudio.WithModel(cfg.Server.Model),
			lmstudio.WithTimeout(cfg.Server.Timeout()),
			lmstudio.WithRetry(cfg.Server.RetryAttempts, cfg.Server.RetryDelay()),
			lmstudio.WithLogger(logger),
		)
	case config.BackendOllama:
		return ollama.New(
			ollama.WithServerURL(cfg.Server.URL),
			ollama.WithModel(cfg.Server.Model),
			ollama.WithLogger(logger),
		)
	case config.BackendGemini:
		return gemini.New(ctx,
			gemini.WithModel(cfg.Server.Model),
			gemini.WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Server.Backend)
	}
}

// selectLoader picks the input loader: git URL, directory, or single
// file. The returned cleanup releases any temporary checkout.
func selectLoader(input string, logger *slog.Logger) (documentloaders.Loader, func(), error) {
	if gitutil.IsRepoURL(input) {
		git := documentloaders.NewGit(input, documentloaders.WithGitLogger(logger))
		return git, git.Close, nil
	}

	info, err := os.Stat(input)
	if err != nil {
		return nil, nil, fmt.Errorf("input path not accessible: %w", err)
	}
	if info.IsDir() {
		return documentloaders.NewDir(input, documentloaders.WithDirLogger(logger)), func() {}, nil
	}
	return documentloaders.NewFile(input), func() {}, nil
}

func printDiscoveredFiles(sources []documentloaders.Source) {
	if !flagVerbose {
		return
	}

	fmt.Printf("Found %d text file(s) to process\n", len(sources))
	if len(sources) <= 10 {
		for _, src := range sources {
			fmt.Printf("  • %s\n", src.Name)
		}
		return
	}
	for _, src := range sources[:5] {
		fmt.Printf("  • %s\n", src.Name)
	}
	fmt.Printf("  ... and %d more files\n", len(sources)-5)
}

func printProgress(ev batch.Event) {
	if ev.Kind != batch.EventFileDone {
		return
	}
	if ev.Err != nil {
		fmt.Printf("  ✗ %s\n", ev.File)
		return
	}
	fmt.Printf("  ✓ %s\n", ev.File)
}

// dryRun prints the effective settings and the per-file processing
// plan without sending anything to the backend.
func dryRun(ctx context.Context, processor *batch.Processor, cfg *config.Config, req batch.Request, contextLimit int, detected bool) error {
	fmt.Println("\n=== DRY RUN MODE ===")
	fmt.Printf("Would process %d files with prompt: %s\n", len(req.Sources), req.PromptPath)
	fmt.Printf("Output would go to: %s\n", cfg.Output.Directory)
	fmt.Printf("Server: %s\n", cfg.Server.URL)
	fmt.Printf("Backend: %s\n", cfg.Server.Backend)
	fmt.Printf("Model: %s\n", cfg.Server.Model)
	fmt.Printf("Temperature: %g\n", cfg.Processing.Temperature)
	fmt.Printf("Max tokens: %d\n", cfg.Processing.MaxTokens)
	if detected {
		printer.Printf("Context length: %d tokens (auto-detected)\n", contextLimit)
	} else {
		printer.Printf("Context length: %d tokens\n", contextLimit)
	}
	fmt.Printf("Strategy: %s\n", cfg.Context.Strategy)
	if cfg.Context.Strategy == string(budget.StrategySplit) {
		fmt.Printf("Overlap tokens: %d\n", cfg.Context.OverlapTokens)
	}
	fmt.Printf("Safety margin: %d tokens\n", cfg.Context.SafetyMargin)

	jobs, err := processor.Plan(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println("\nProcessing plan:")
	for i := range jobs {
		job := &jobs[i]
		if job.State == batch.StateFailed {
			fmt.Printf("  ✗ %s: %v\n", job.Source.Name, job.Err)
			continue
		}
		printer.Printf("  • %s: %d chunk(s), %s, ~%d body tokens\n",
			job.Source.Name, len(job.Chunks), job.Outcome, bodyTokens(job))
	}

	fmt.Println("\nNo files will be processed in dry run mode.")
	fmt.Println("✓ Dry run completed successfully")
	return nil
}

func bodyTokens(job *batch.Job) int {
	total := 0
	for _, chunk := range job.Chunks {
		total += chunk.Tokens
	}
	return total
}

func printSummary(sum *batch.Summary, ws outputs.Summary) {
	fmt.Println("\n=== Processing Complete ===")
	fmt.Printf("Files processed: %d/%d\n", sum.ProcessedFiles, sum.TotalFiles)
	fmt.Printf("Success rate: %.1f%%\n", sum.SuccessRate())
	if sum.FailedFiles > 0 {
		fmt.Printf("Failed files: %d\n", sum.FailedFiles)
	}
	printer.Printf("Total tokens used: %d\n", sum.TotalTokens)
	fmt.Printf("Processing time: %.1fs\n", sum.Elapsed().Seconds())
	fmt.Printf("Average per file: %.1fs\n", sum.AveragePerFile().Seconds())

	if ws.Files > 0 {
		fmt.Printf("\nOutput files created in: %s\n", ws.Directory)
		fmt.Printf("Total output files: %d\n", ws.Files)

		totalChunks := 0
		for _, fs := range sum.Files {
			if fs.State == batch.StateCompleted {
				totalChunks += fs.Chunks
			}
		}
		if totalChunks > sum.ProcessedFiles {
			fmt.Printf("Files were chunked: %d total chunks processed\n", totalChunks)
		}
	}

	if len(sum.Errors) > 0 {
		fmt.Println("\nErrors encountered:")
		shown := sum.Errors
		if !flagVerbose && len(shown) > 5 {
			shown = shown[:5]
		}
		for _, msg := range shown {
			fmt.Printf("  • %s\n", msg)
		}
		if rest := len(sum.Errors) - len(shown); rest > 0 {
			fmt.Printf("  ... and %d more errors\n", rest)
		}
	}
}

// recordRun appends the run to the history database when one is
// configured. History problems are logged, never fatal. Interrupted
// runs are recorded too, so the write uses a fresh context.
func recordRun(logger *slog.Logger, cfg *config.Config, sum *batch.Summary) {
	if flagHistoryDB == "" {
		return
	}

	log, err := runlog.Open(flagHistoryDB, logger)
	if err != nil {
		logger.Warn("failed to open history database", "error", err)
		return
	}
	defer log.Close()

	info := runlog.RunInfo{
		PromptFile: flagPrompt,
		Backend:    cfg.Server.Backend,
		Model:      cfg.Server.Model,
		Strategy:   cfg.Context.Strategy,
	}
	if err := log.Record(context.Background(), info, sum); err != nil {
		logger.Warn("failed to record run history", "error", err)
	}
}
