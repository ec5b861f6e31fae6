package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaforge/qaforge/pkg/config"
	"github.com/qaforge/qaforge/pkg/store"
)

// writeRunFixture lays out a config file, a two-case catalog manifest
// and a fake unit tool that prints the given JSON report and exits with
// the given code. Returns the config path.
func writeRunFixture(t *testing.T, report string, exitCode int) string {
	t.Helper()

	dir := t.TempDir()

	reportPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(reportPath, []byte(report), 0o644))

	tool := filepath.Join(dir, "fake-unit-tool")
	script := fmt.Sprintf("#!/bin/sh\ncat %q\nexit %d\n", reportPath, exitCode)
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	manifest := filepath.Join(dir, "catalog.yaml")
	manifestYAML := `files:
  - path: tests/unit/example.test.js
    runner: unit
    cases:
      - title: first
      - title: second
`
	require.NoError(t, os.WriteFile(manifest, []byte(manifestYAML), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := fmt.Sprintf(`global:
  log_level: error
database:
  driver: sqlite
  sqlite:
    path: %s
runners:
  unit:
    binary: %s
catalog:
  manifest_path: %s
`, filepath.Join(dir, "qaforge.db"), tool, manifest)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	return cfgPath
}

// setRunGlobals points the command's package globals at the fixture and
// restores them when the test ends.
func setRunGlobals(t *testing.T, cfgPath string) {
	t.Helper()

	prevCfg, prevFile, prevCases, prevLog := cfgFiles, runFile, runCases, log
	t.Cleanup(func() {
		cfgFiles, runFile, runCases, log = prevCfg, prevFile, prevCases, prevLog
	})

	cfgFiles = []string{cfgPath}
	runFile = "tests/unit/example.test.js"
	runCases = nil

	log = logrus.New()
	log.SetLevel(logrus.ErrorLevel)
}

func TestRunOnce_FailedRunReturnsError(t *testing.T) {
	report := `{"testResults":[{"assertionResults":[` +
		`{"title":"first","status":"failed","duration":3,"failureMessages":["boom"]},` +
		`{"title":"second","status":"passed","duration":2}]}]}`

	cfgPath := writeRunFixture(t, report, 1)
	setRunGlobals(t, cfgPath)

	// A failed run surfaces as an error return, never a process exit,
	// so the deferred store shutdown gets to run.
	err := runOnce(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed with status failed")

	// The run and its results made it to disk and read back cleanly
	// through a fresh store over the same database file.
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	st := store.NewStore(log, &cfg.Database, time.UTC)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].TestsPassed)
	assert.Equal(t, 1, runs[0].TestsFailed)
}

func TestRunOnce_PassedRunReturnsNil(t *testing.T) {
	report := `{"testResults":[{"assertionResults":[` +
		`{"title":"first","status":"passed","duration":3},` +
		`{"title":"second","status":"passed","duration":2}]}]}`

	cfgPath := writeRunFixture(t, report, 0)
	setRunGlobals(t, cfgPath)

	require.NoError(t, runOnce(runCmd, nil))
}
