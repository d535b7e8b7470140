package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kamilpajak/guardian/internal/patch"
	"github.com/kamilpajak/guardian/internal/pipeline"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/kamilpajak/guardian/internal/seeds"
	"github.com/kamilpajak/guardian/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

const model = `select * from source
-- PATCH_AREA_START
patched as (select * from source)
-- PATCH_AREA_END
`

const notNullFailure = `{"results":[{"unique_id":"test.shop.not_null_stg_orders_amount","status":"fail","message":"Got 1 result"}]}`

// stubRunner exits with a fixed code per stage. When block is set, Run
// signals started and waits for block to close.
type stubRunner struct {
	exits   map[models.Stage]int
	started chan struct{}
	block   chan struct{}
}

func (s *stubRunner) Command(stage models.Stage) (string, error) {
	return "dbt " + string(stage), nil
}

func (s *stubRunner) Run(ctx context.Context, stage models.Stage, onLine func(string)) (*models.StageResult, error) {
	if s.block != nil {
		s.started <- struct{}{}
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	onLine("running " + string(stage))
	return &models.StageResult{Stage: stage, Command: "dbt " + string(stage), ExitCode: s.exits[stage]}, nil
}

type fixture struct {
	dir     string
	results string
	model   string
	runner  *stubRunner
	server  *httptest.Server
}

func newFixture(t *testing.T, limiter *rate.Limiter) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		results: filepath.Join(dir, "target", "run_results.json"),
		model:   filepath.Join(dir, "stg_orders.sql"),
		runner:  &stubRunner{exits: map[models.Stage]int{}},
	}
	require.NoError(t, os.WriteFile(f.model, []byte(model), 0o644))

	logger := zaptest.NewLogger(t)
	g, err := pipeline.New(pipeline.Params{
		Runner:      f.runner,
		ResultsPath: f.results,
		PatchTarget: f.model,
		Logger:      logger,
	})
	require.NoError(t, err)

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	f.server = httptest.NewServer(NewHandler(Config{
		Guardian:       g,
		Seeds:          seeds.NewStore(filepath.Join(dir, "seeds"), 1024),
		MaxUploadBytes: 1024,
		Limiter:        limiter,
		Logger:         logger,
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) writeResults(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.results), 0o755))
	require.NoError(t, os.WriteFile(f.results, []byte(body), 0o644))
}

func readEvents(t *testing.T, resp *http.Response) []progress.Event {
	t.Helper()
	var events []progress.Event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev progress.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []progress.Event) []progress.EventType {
	types := make([]progress.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestStaticFileServing(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Diagnose &amp; Patch")
}

func TestStage_MissingName(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/api/stage")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStage_InvalidName(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/api/stage?name=compile")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStage_StreamsEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.exits[models.StageTest] = 1

	resp, err := http.Get(f.server.URL + "/api/stage?name=test")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	assert.Equal(t, []progress.EventType{
		progress.EventStageStart,
		progress.EventLine,
		progress.EventStageEnd,
		progress.EventWarn,
		progress.EventDone,
	}, eventTypes(events))
	assert.Equal(t, "dbt test", events[0].Command)
	assert.Equal(t, "Some tests failed", events[3].Message)
	require.NotNil(t, events[4].ExitCode)
	assert.Equal(t, 1, *events[4].ExitCode)
}

func TestStage_RateLimited(t *testing.T) {
	f := newFixture(t, rate.NewLimiter(rate.Every(time.Hour), 1))

	first, err := http.Get(f.server.URL + "/api/stage?name=deps")
	require.NoError(t, err)
	readEvents(t, first)
	first.Body.Close()

	second, err := http.Get(f.server.URL + "/api/stage?name=deps")
	require.NoError(t, err)
	defer second.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestStage_BusyReturnsConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.started = make(chan struct{}, 1)
	f.runner.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Get(f.server.URL + "/api/stage?name=run")
		if err == nil {
			_, _ = bytes.NewBuffer(nil).ReadFrom(resp.Body)
			resp.Body.Close()
		}
	}()

	select {
	case <-f.runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first stage never started")
	}

	resp, err := http.Get(f.server.URL + "/api/stage?name=test")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(f.runner.block)
	<-done
}

func TestPipeline_StreamsReport(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/api/pipeline")
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, resp)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventDone, last.Type)
	require.NotNil(t, last.Report)
	assert.True(t, last.Report.InitialPassed)
	assert.Equal(t, "tests passed", last.Report.StopReason)
}

func TestDiagnose_MissingArtifact(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/api/diagnose")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "No run_results.json found. Run tests first.", decodeBody(t, resp)["error"])
}

func TestDiagnose_MalformedArtifact(t *testing.T) {
	f := newFixture(t, nil)
	f.writeResults(t, "{not json")

	resp, err := http.Get(f.server.URL + "/api/diagnose")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDiagnose_ReportsRootCause(t *testing.T) {
	f := newFixture(t, nil)
	f.writeResults(t, notNullFailure)

	resp, err := http.Get(f.server.URL + "/api/diagnose")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "NULL amount", body["root_cause"])
	assert.Equal(t, false, body["unclassified"])
	assert.Equal(t, []any{"null-value"}, body["categories"])
	assert.Contains(t, body["suggested_patch"], "amount is not null")
}

func TestPatch_FromDiagnosis(t *testing.T) {
	f := newFixture(t, nil)
	f.writeResults(t, notNullFailure)

	resp, err := http.Post(f.server.URL+"/api/patch", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["changed"])

	data, err := os.ReadFile(f.model)
	require.NoError(t, err)
	assert.Contains(t, string(data), "amount is not null")
	assert.Contains(t, string(data), patch.StartMarker)
}

func TestPatch_ExplicitCategories(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.server.URL+"/api/patch", "application/json",
		strings.NewReader(`{"categories":["duplicate-key"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := os.ReadFile(f.model)
	require.NoError(t, err)
	assert.Contains(t, string(data), patch.DedupClause)
	assert.NotContains(t, string(data), "amount is not null")
}

func TestPatch_UnknownCategory(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.server.URL+"/api/patch", "application/json",
		strings.NewReader(`{"categories":["typo"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPatch_NoFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.writeResults(t, `{"results":[{"unique_id":"test.a","status":"pass"}]}`)

	resp, err := http.Post(f.server.URL+"/api/patch", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPatch_MissingRegion(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(f.model, []byte("select 1\n"), 0o644))

	resp, err := http.Post(f.server.URL+"/api/patch", "application/json",
		strings.NewReader(`{"categories":["null-value"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func uploadSeed(t *testing.T, url, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/seeds", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestSeeds_UploadAndList(t *testing.T) {
	f := newFixture(t, nil)

	resp := uploadSeed(t, f.server.URL, "raw_orders.csv", "order_id,amount\n1,10\n")
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.FileExists(t, filepath.Join(f.dir, "seeds", "raw_orders.csv"))

	list, err := http.Get(f.server.URL + "/api/seeds")
	require.NoError(t, err)
	defer list.Body.Close()

	var files []seeds.File
	require.NoError(t, json.NewDecoder(list.Body).Decode(&files))
	require.Len(t, files, 1)
	assert.Equal(t, "raw_orders.csv", files[0].Name)
}

func TestSeeds_ListEmpty(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/api/seeds")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []seeds.File
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	assert.Empty(t, files)
}

func TestSeeds_RejectsBadUploads(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		status   int
	}{
		{"not csv extension", "orders.txt", "a,b\n1,2\n", http.StatusBadRequest},
		{"ragged rows", "orders.csv", "a,b\n1,2,3\n", http.StatusBadRequest},
		{"too large", "orders.csv", "a\n" + strings.Repeat("1\n", 600), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			resp := uploadSeed(t, f.server.URL, tt.filename, tt.content)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSeeds_MissingFileField(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.server.URL+"/api/seeds", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
