package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qaforge/qaforge/pkg/config"
	"github.com/qaforge/qaforge/pkg/dispatch"
	"github.com/qaforge/qaforge/pkg/runner"
	"github.com/qaforge/qaforge/pkg/store"
)

var (
	runFile  string
	runCases []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one test file immediately",
	Long: `Run the active cases of a single catalog file through its tool and
print the per-case outcomes. The run is recorded like any other.`,
	RunE:         runOnce,
	SilenceUsage: true,
}

func init() {
	runCmd.Flags().StringVar(&runFile, "file", "",
		"catalog file to run (id or path)")
	runCmd.Flags().StringSliceVar(&runCases, "case", nil,
		"restrict to specific case titles (repeatable; default all active)")
	_ = runCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database, loc)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Store stop error")
		}
	}()

	if cfg.Catalog.ManifestPath != "" {
		manifest, err := store.LoadCatalogManifest(cfg.Catalog.ManifestPath)
		if err != nil {
			return fmt.Errorf("loading catalog manifest: %w", err)
		}

		if err := st.SeedCatalog(ctx, manifest); err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
	}

	file, err := resolveFile(ctx, st, runFile)
	if err != nil {
		return err
	}

	cases, err := st.ListActiveCasesByFile(ctx, file.ID)
	if err != nil {
		return fmt.Errorf("listing cases: %w", err)
	}

	if len(runCases) > 0 {
		cases, err = filterCases(cases, runCases)
		if err != nil {
			return err
		}
	}

	if len(cases) == 0 {
		return fmt.Errorf("file %s has no active cases", file.Path)
	}

	caseIDs := make([]string, 0, len(cases))
	for _, c := range cases {
		caseIDs = append(caseIDs, c.ID)
	}

	run := &store.TestRun{
		Token: fmt.Sprintf("cli-%s", time.Now().UTC().Format("20060102-150405")),
	}

	if err := st.CreateRun(ctx, run, caseIDs); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	registry := runner.NewDefaultRegistry(log,
		runner.ToolConfig(cfg.Runners.Unit),
		runner.ToolConfig(cfg.Runners.Load),
		runner.ToolConfig(cfg.Runners.Browser),
	)

	dispatcher := dispatch.NewDispatcher(log, st, registry, &dispatch.Config{
		GroupConcurrency: cfg.Runners.GroupConcurrency,
	})

	if err := dispatcher.ExecuteRun(ctx, run.ID, caseIDs); err != nil {
		return fmt.Errorf("executing run: %w", err)
	}

	final, err := st.GetRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reading run: %w", err)
	}

	results, err := st.ListResultsByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reading results: %w", err)
	}

	titles := make(map[string]string, len(cases))
	for _, c := range cases {
		titles[c.ID] = c.Title
	}

	fmt.Printf("\n%s (%s)\n", file.Path, file.Runner)

	for _, r := range results {
		fmt.Printf("  [%s] %s (%dms)\n", r.Status, titles[r.CaseID], r.DurationMS)

		if r.ErrorMessage != "" {
			fmt.Printf("         %s\n", r.ErrorMessage)
		}
	}

	fmt.Printf("\n%s: %d passed, %d failed (%dms)\n",
		final.Status, final.TestsPassed, final.TestsFailed, final.DurationMS)

	if final.Status != store.RunStatusPassed {
		// Returned rather than os.Exit so the deferred store shutdown
		// still runs; cobra turns the error into a non-zero exit.
		return fmt.Errorf("run %s completed with status %s", run.Token, final.Status)
	}

	return nil
}

// resolveFile accepts either a catalog file id or its path.
func resolveFile(
	ctx context.Context, st store.Store, ref string,
) (*store.TestFile, error) {
	if file, err := st.GetFile(ctx, ref); err == nil {
		return file, nil
	}

	files, err := st.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	for i := range files {
		if files[i].Path == ref {
			return &files[i], nil
		}
	}

	return nil, fmt.Errorf("no catalog file matches %q", ref)
}

// filterCases keeps only the cases whose titles were requested,
// erroring on titles the file does not have.
func filterCases(
	cases []store.TestCase, titles []string,
) ([]store.TestCase, error) {
	byTitle := make(map[string]store.TestCase, len(cases))
	for _, c := range cases {
		byTitle[c.Title] = c
	}

	selected := make([]store.TestCase, 0, len(titles))

	for _, title := range titles {
		c, ok := byTitle[title]
		if !ok {
			return nil, fmt.Errorf("no active case titled %q", title)
		}

		selected = append(selected, c)
	}

	return selected, nil
}
