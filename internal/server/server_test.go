package server

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lamim/classforge/internal/config"
	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/internal/generation"
	"github.com/lamim/classforge/internal/orchestrator"
	"github.com/lamim/classforge/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// echoGenerator answers every call immediately
type echoGenerator struct{}

func (echoGenerator) Stream(ctx context.Context, req generation.Request) (*generation.Stream, error) {
	return generation.NewStream(ctx, func(emit func(string)) (generation.Result, error) {
		emit("Spec: ")
		emit(req.BasePrompt)
		return generation.Result{Text: "Spec: " + req.BasePrompt}, nil
	}), nil
}

func (echoGenerator) Generate(_ context.Context, req generation.Request) (generation.Result, error) {
	switch req.Role {
	case config.RoleCode:
		return generation.Result{Text: "<html></html>"}, nil
	case config.RoleMaterials:
		if strings.HasPrefix(req.BasePrompt, "QUIZ") {
			return generation.Result{Text: `[{"question":"Q?","options":["a","b"],"correctAnswer":"a"}]`}, nil
		}
		return generation.Result{Text: "# Material"}, nil
	}
	return generation.Result{Text: `{"spec":"Refined"}`}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		PromptTemplates: config.PromptTemplates{
			SpecFromVideo:      "VIDEO",
			SpecFromTopic:      "TOPIC {{.Topic}}",
			SpecAddendum:       "ADDENDUM",
			RefineSpec:         "REFINE {{.Spec}} {{.Instructions}}",
			LessonPlan:         "LESSON {{.Spec}}",
			Handout:            "HANDOUT {{.Spec}}",
			Quiz:               "QUIZ {{.Spec}}",
			ComplexityStandard: "standard",
		},
	}
}

type fixture struct {
	server  *Server
	orch    *orchestrator.Orchestrator
	account *credits.Account
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()
	account := credits.NewAccount(credits.GateConfig{Enabled: true}, credits.DefaultSchedule(), credits.NewMemoryLedger(balance), "", nil, testLogger())
	orch := orchestrator.New(testConfig(), echoGenerator{}, account, nil, nil, testLogger())
	t.Cleanup(orch.Close)
	srv := New(Config{EventBuffer: 16, Heartbeat: time.Hour}, orch, account, testLogger())
	return &fixture{server: srv, orch: orch, account: account}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var env ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("body %q is not an error envelope: %v", w.Body.String(), err)
	}
	return env.Error
}

func TestSubmitAndSnapshot(t *testing.T) {
	f := newFixture(t, 200)

	w := f.do(t, http.MethodPost, "/api/run", `{"topic_or_details":"tides","materials":{"quiz":true}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/run = %d %s", w.Code, w.Body.String())
	}
	f.orch.Wait()

	w = f.do(t, http.MethodGet, "/api/run", "")
	var run models.GenerationRun
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Stage != models.StageReady || run.Result(models.MaterialQuiz).Status != models.MaterialReady {
		t.Errorf("run = stage %s quiz %+v", run.Stage, run.Result(models.MaterialQuiz))
	}
	if run.Basis.Complexity != models.ComplexityStandard {
		t.Errorf("complexity = %d, want default standard", run.Basis.Complexity)
	}
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name       string
		balance    int
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", 200, `{"topic_or_details":`, http.StatusBadRequest, "invalid_request"},
		{"complexity out of range", 200, `{"topic_or_details":"x","complexity":5}`, http.StatusBadRequest, "invalid_request"},
		{"empty basis", 200, `{"topic_or_details":"  "}`, http.StatusBadRequest, "invalid_request"},
		{"bad video url", 200, `{"video_url":"nope"}`, http.StatusBadRequest, "invalid_request"},
		{"insufficient credit", 30, `{"topic_or_details":"x"}`, http.StatusPaymentRequired, "insufficient_credit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.balance)
			w := f.do(t, http.MethodPost, "/api/run", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeError(t, w); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestInsufficientCreditBody(t *testing.T) {
	f := newFixture(t, 30)

	w := f.do(t, http.MethodPost, "/api/run", `{"topic_or_details":"x"}`)
	apiErr := decodeError(t, w)
	if apiErr.Required != 40 || apiErr.Balance == nil || *apiErr.Balance != 30 {
		t.Errorf("error = %+v, want required 40 balance 30", apiErr)
	}
}

func TestEditRoutes(t *testing.T) {
	f := newFixture(t, 200)

	if w := f.do(t, http.MethodPost, "/api/edit", ""); w.Code != http.StatusConflict {
		t.Errorf("POST /api/edit while idle = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/edit", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /api/edit without session = %d", w.Code)
	}

	f.do(t, http.MethodPost, "/api/run", `{"topic_or_details":"tides"}`)
	f.orch.Wait()

	if w := f.do(t, http.MethodPost, "/api/edit", ""); w.Code != http.StatusOK {
		t.Fatalf("POST /api/edit = %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPut, "/api/edit", `{"draft":"Edited"}`); w.Code != http.StatusOK {
		t.Fatalf("PUT /api/edit = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/edit/save", ""); w.Code != http.StatusOK {
		t.Fatalf("POST /api/edit/save = %d %s", w.Code, w.Body.String())
	}
	f.orch.Wait()

	if got := f.orch.Snapshot(); got.Spec != "Edited" || got.Stage != models.StageReady {
		t.Errorf("run = stage %s spec %q", got.Stage, got.Spec)
	}
	// 40 for the run, 25 for the edit
	if balance, _ := f.account.Balance(context.Background()); balance != 135 {
		t.Errorf("balance = %d, want 135", balance)
	}
	if w := f.do(t, http.MethodDelete, "/api/edit", ""); w.Code != http.StatusConflict {
		t.Errorf("DELETE /api/edit without session = %d", w.Code)
	}
}

func TestRefineRoute(t *testing.T) {
	f := newFixture(t, 200)

	if w := f.do(t, http.MethodPost, "/api/run/refine", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("refine without instructions = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/run/refine", `{"instructions":"more"}`); w.Code != http.StatusConflict {
		t.Errorf("refine while idle = %d", w.Code)
	}

	f.do(t, http.MethodPost, "/api/run", `{"topic_or_details":"tides"}`)
	f.orch.Wait()
	if w := f.do(t, http.MethodPost, "/api/run/refine", `{"instructions":"more"}`); w.Code != http.StatusAccepted {
		t.Fatalf("refine = %d %s", w.Code, w.Body.String())
	}
	f.orch.Wait()
	if got := f.orch.Snapshot(); got.Spec != "Refined\n\nADDENDUM" {
		t.Errorf("Spec = %q", got.Spec)
	}
}

func TestCreditRoutes(t *testing.T) {
	f := newFixture(t, 200)

	w := f.do(t, http.MethodGet, "/api/credits", "")
	var bal balanceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != 200 || bal.Identity != credits.AnonymousIdentity || !bal.Enabled {
		t.Errorf("balance = %+v", bal)
	}

	if w := f.do(t, http.MethodPost, "/api/credits/topup", `{"amount":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("zero top-up = %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/credits/topup", `{"amount":50}`)
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil || bal.Balance != 250 {
		t.Errorf("top-up = %s, %v", w.Body.String(), err)
	}

	w = f.do(t, http.MethodPost, "/api/credits/quote", `{"video_url":"https://youtu.be/x","complexity":3,"materials":{"lesson_plan":true,"quiz":true}}`)
	var q quoteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	// high main run (75) plus two medium materials (25 each)
	if q.Total != 125 || len(q.Items) != 3 || !q.Allowed {
		t.Errorf("quote = %+v", q)
	}

	w = f.do(t, http.MethodGet, "/api/credits/history?limit=1", "")
	var history []transactionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil || len(history) != 1 || history[0].Amount != 50 {
		t.Errorf("history = %s, %v", w.Body.String(), err)
	}
	if w := f.do(t, http.MethodGet, "/api/credits/history?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, 200)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	if name, _ := readEvent(); name != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", name)
	}

	if err := f.orch.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	name, data := readEvent()
	if name != string(orchestrator.EventStageChanged) {
		t.Fatalf("event = %q, want stage_changed", name)
	}
	var ev orchestrator.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil || ev.Stage != models.StageIdle || ev.Epoch != 1 {
		t.Errorf("event = %s, %v", data, err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, 200)

	if w := f.do(t, http.MethodGet, "/healthcheck", ""); w.Code != http.StatusOK {
		t.Errorf("healthcheck = %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", w.Code)
	}
}
