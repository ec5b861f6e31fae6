package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaforge/qaforge/pkg/config"
	"github.com/qaforge/qaforge/pkg/dispatch"
	"github.com/qaforge/qaforge/pkg/runner"
	"github.com/qaforge/qaforge/pkg/scanner"
	"github.com/qaforge/qaforge/pkg/store"
)

type passingAdapter struct {
	category runner.Category
}

func (a *passingAdapter) Category() runner.Category { return a.category }

func (a *passingAdapter) Run(
	_ context.Context, _ string, cases []runner.Case,
) ([]runner.CaseResult, error) {
	results := make([]runner.CaseResult, 0, len(cases))
	for _, c := range cases {
		results = append(results, runner.CaseResult{
			CaseID: c.ID, Status: runner.StatusPassed, DurationMS: 1,
		})
	}

	return results, nil
}

type apiFixture struct {
	ts    *httptest.Server
	store store.Store
	file  store.TestFile
	cases []store.TestCase
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}, time.UTC)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	manifest := &store.CatalogManifest{
		Files: []store.CatalogFile{{
			Path:   "tests/unit/login.test.js",
			Runner: "unit",
			Cases: []store.CatalogCase{
				{Title: "logs in"},
				{Title: "logs out"},
			},
		}},
	}
	require.NoError(t, st.SeedCatalog(context.Background(), manifest))

	registry := runner.NewRegistry()
	registry.Register(&passingAdapter{category: runner.CategoryUnit})

	d := dispatch.NewDispatcher(log, st, registry, nil)
	sc := scanner.New(log, st, d, time.Hour)

	srv := &server{
		log: log,
		cfg: &config.ServerConfig{
			Listen: ":0",
		},
		store:      st,
		dispatcher: d,
		scanner:    sc,
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	files, err := st.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	cases, err := st.ListActiveCasesByFile(context.Background(), files[0].ID)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	return &apiFixture{ts: ts, store: st, file: files[0], cases: cases}
}

func (f *apiFixture) request(
	t *testing.T, method, path string, body any,
) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp, out.Bytes()
}

func TestHandleHealth(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.request(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHandleListFilesAndCases(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.request(t, http.MethodGet, "/api/v1/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var files []store.TestFile
	require.NoError(t, json.Unmarshal(body, &files))
	require.Len(t, files, 1)
	assert.Equal(t, "tests/unit/login.test.js", files[0].Path)

	resp, body = f.request(t,
		http.MethodGet, "/api/v1/files/"+f.file.ID+"/cases", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cases []store.TestCase
	require.NoError(t, json.Unmarshal(body, &cases))
	assert.Len(t, cases, 2)

	resp, _ = f.request(t, http.MethodGet, "/api/v1/files/nope/cases", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleCreateSchedule(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.request(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"test_file_id":   f.file.ID,
		"schedule_type":  "daily",
		"scheduled_time": "08:30",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sched store.ScheduledTest
	require.NoError(t, json.Unmarshal(body, &sched))
	assert.True(t, sched.Enabled)
	assert.NotNil(t, sched.NextRunAt)

	// Validation errors map to 400.
	resp, _ = f.request(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"schedule_type":  "daily",
		"scheduled_time": "08:30",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"test_file_id":   f.file.ID,
		"schedule_type":  "weekly",
		"scheduled_time": "08:30",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleScheduleLifecycle(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.request(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"test_case_id":   f.cases[0].ID,
		"schedule_type":  "weekly",
		"scheduled_time": "06:00",
		"week_days":      []int{1, 3},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sched store.ScheduledTest
	require.NoError(t, json.Unmarshal(body, &sched))

	// Toggle disables it.
	resp, body = f.request(t,
		http.MethodPost, "/api/v1/schedules/"+sched.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sched))
	assert.False(t, sched.Enabled)

	// Filtered list only returns enabled ones.
	resp, body = f.request(t,
		http.MethodGet, "/api/v1/schedules/?enabled=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var schedules []store.ScheduledTest
	require.NoError(t, json.Unmarshal(body, &schedules))
	assert.Empty(t, schedules)

	// Update the time of day.
	resp, body = f.request(t,
		http.MethodPut, "/api/v1/schedules/"+sched.ID, map[string]any{
			"scheduled_time": "07:15",
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sched))
	assert.Equal(t, "07:15", sched.ScheduledTime)

	// Delete, then 404.
	resp, _ = f.request(t,
		http.MethodDelete, "/api/v1/schedules/"+sched.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.request(t,
		http.MethodGet, "/api/v1/schedules/"+sched.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleTriggerRun(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.request(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"test_file_id": f.file.ID,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var run store.TestRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, 2, run.TestsTotal)

	// The stub adapter passes everything; the run settles quickly.
	require.Eventually(t, func() bool {
		got, err := f.store.GetRun(context.Background(), run.ID)

		return err == nil && got.Status == store.RunStatusPassed
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = f.request(t,
		http.MethodGet, "/api/v1/runs/"+run.ID+"/results", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []store.TestResult
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 2)

	for _, r := range results {
		assert.Equal(t, store.ResultStatusPassed, r.Status)
	}
}

func TestHandleTriggerRun_Validation(t *testing.T) {
	f := setupAPI(t)

	// Neither target.
	resp, _ := f.request(t, http.MethodPost, "/api/v1/runs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Both targets.
	resp, _ = f.request(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"test_file_id": f.file.ID,
		"case_ids":     []string{f.cases[0].ID},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown case id.
	resp, _ = f.request(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"case_ids": []string{"does-not-exist"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleStopRun(t *testing.T) {
	f := setupAPI(t)

	// Create a pending run directly, bypassing the dispatcher.
	run := &store.TestRun{Token: "manual-test-stop"}
	require.NoError(t, f.store.CreateRun(
		context.Background(), run, []string{f.cases[0].ID, f.cases[1].ID}))

	resp, body := f.request(t,
		http.MethodPost, "/api/v1/runs/"+run.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stopped store.TestRun
	require.NoError(t, json.Unmarshal(body, &stopped))
	assert.Equal(t, store.RunStatusFailed, stopped.Status)

	// Stopping again conflicts.
	resp, _ = f.request(t,
		http.MethodPost, "/api/v1/runs/"+run.ID+"/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleListRuns(t *testing.T) {
	f := setupAPI(t)

	for i := 0; i < 3; i++ {
		run := &store.TestRun{Token: "manual-list-" + string(rune('a'+i))}
		require.NoError(t, f.store.CreateRun(
			context.Background(), run, []string{f.cases[0].ID}))
	}

	resp, body := f.request(t, http.MethodGet, "/api/v1/runs/?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []store.TestRun
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Len(t, runs, 2)

	resp, _ = f.request(t, http.MethodGet, "/api/v1/runs/?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleSchedulerStatus(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.request(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status scanner.Status
	require.NoError(t, json.Unmarshal(body, &status))
	assert.False(t, status.Running)
}
