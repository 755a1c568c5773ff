package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/export"
	"github.com/joseph-ayodele/essay-grader/internal/pipeline"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
	"github.com/joseph-ayodele/essay-grader/internal/storage"
)

const (
	testToken  = "s3cret-token"
	sampleText = "A gente precisa cuidar da escola. Portanto, a educação é o caminho."
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type stubExtractor struct{ err error }

func (stubExtractor) Name() string { return "stub-ocr" }

func (s stubExtractor) Extract(context.Context, []byte) (provider.ExtractResult, error) {
	if s.err != nil {
		return provider.ExtractResult{}, s.err
	}
	return provider.ExtractResult{Text: sampleText, Confidence: 0.9}, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Name() string { return "stub-llm" }

func (stubAnalyzer) Analyze(_ context.Context, text string) (provider.AnalyzeResult, error) {
	return provider.AnalyzeResult{
		CorrectedText: strings.Replace(text, "A gente", "Nós", 1),
		Corrections:   []entity.Correction{{Original: "A gente", Suggested: "Nós", Reason: "registro formal"}},
		Breakdown:     entity.Breakdown{Tese: 8, Argumentos: 7, Coesao: 6, Repertorio: 5, Norma: 9},
		Strengths:     []string{"tese clara"},
		Model:         "stub-model",
	}, nil
}

type failingCheck struct{}

func (failingCheck) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, ex provider.Extractor, cfg Config) http.Handler {
	t.Helper()
	logger := quietLogger()
	policy := common.CallPolicy{Timeout: 5 * time.Second, MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	client := provider.NewClient(ex, stubAnalyzer{}, common.ProvidersConfig{
		Extract: common.ExtractProviderConfig{MaxImageBytes: 1 << 20, Policy: policy},
		Analyze: common.AnalyzeProviderConfig{Policy: policy},
	}, logger)
	store := repository.NewMemoryStore(logger)
	images := storage.NewMemory()
	orch := pipeline.NewOrchestrator(store, images,
		pipeline.NewExtractionStage(client, logger),
		pipeline.NewCorrectionScoringStage(client, logger),
		logger,
	)
	if cfg.Tokens == nil {
		cfg.Tokens = []string{testToken}
	}
	checks := map[string]HealthChecker{"images": images}
	return New(orch, export.NewService(store, logger), checks, cfg, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createJSON(t *testing.T, h http.Handler) entity.Essay {
	t.Helper()
	body := fmt.Sprintf(`{"titulo":"Minha redação","imagemUrl":"data:image/png;base64,%s"}`,
		base64.StdEncoding.EncodeToString(pngBytes(t)))
	rec := do(t, h, http.MethodPost, "/api/redacoes", "application/json", strings.NewReader(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body)
	}
	return decode[entity.Essay](t, rec)
}

func TestCreateThenAnalyze(t *testing.T) {
	h := newTestServer(t, stubExtractor{}, Config{})
	e := createJSON(t, h)
	if e.Status != "EXTRACTED" || e.Text() != sampleText {
		t.Fatalf("created essay = %s %q", e.Status, e.Text())
	}

	rec := do(t, h, http.MethodGet, "/api/redacoes/"+e.ID.String()+"/analise-enem", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analise-enem status %d: %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Analise struct {
			RedacaoID *string `json:"redacaoId"`
			NotaGeral float64 `json:"notaGeral"`
		} `json:"analise"`
		Correcoes []entity.Correction `json:"correcoes"`
	}](t, rec)
	if got.Analise.NotaGeral != 7 || len(got.Correcoes) != 1 {
		t.Errorf("analysis = %+v", got)
	}
	if got.Analise.RedacaoID == nil || *got.Analise.RedacaoID != e.ID.String() {
		t.Errorf("redacaoId = %v", got.Analise.RedacaoID)
	}

	rec = do(t, h, http.MethodGet, "/api/redacoes/"+e.ID.String(), "", nil)
	if decode[entity.Essay](t, rec).Status != "SCORED" {
		t.Errorf("essay not SCORED after analysis: %s", rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/redacoes/"+e.ID.String()+"/analises", "", nil)
	if n := len(decode[[]json.RawMessage](t, rec)); n != 1 {
		t.Errorf("history has %d entries", n)
	}

	rec = do(t, h, http.MethodGet, "/api/redacoes/"+e.ID.String()+"/analises.xlsx", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxContentType {
		t.Errorf("xlsx export = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = do(t, h, http.MethodGet, "/api/redacoes/"+e.ID.String()+"/analise", "", nil)
	report := decode[textReport](t, rec)
	if report.Estatisticas == nil || report.QualidadeOCR == nil || report.Estatisticas.Words == 0 {
		t.Errorf("text report = %s", rec.Body)
	}
}

func TestCreateMultipart(t *testing.T) {
	h := newTestServer(t, stubExtractor{}, Config{})
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("titulo", "Upload")
	part, err := mw.CreateFormFile("file", "redacao.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write(pngBytes(t))
	_ = mw.Close()

	rec := do(t, h, http.MethodPost, "/api/redacoes", mw.FormDataContentType(), &buf)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	e := decode[entity.Essay](t, rec)
	if e.Title != "Upload" || e.ImageMime != "image/png" {
		t.Errorf("essay = %+v", e)
	}

	img := do(t, h, http.MethodGet, "/api/redacoes/"+e.ID.String()+"/imagem", "", nil)
	if img.Code != http.StatusOK || img.Header().Get("Content-Type") != "image/png" {
		t.Errorf("image = %d %q", img.Code, img.Header().Get("Content-Type"))
	}
}

func TestErrorResponses(t *testing.T) {
	h := newTestServer(t, stubExtractor{}, Config{})
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"bad id", http.MethodGet, "/api/redacoes/not-a-uuid", "", http.StatusBadRequest, common.KindInvalidInput},
		{"unknown essay", http.MethodGet, "/api/redacoes/" + uuid.NewString(), "", http.StatusNotFound, common.KindNotFound},
		{"bad status filter", http.MethodGet, "/api/redacoes?status=PENDING", "", http.StatusBadRequest, common.KindInvalidInput},
		{"not a data url", http.MethodPost, "/api/redacoes", `{"titulo":"x","imagemUrl":"http://example.com/a.png"}`, http.StatusBadRequest, common.KindInvalidInput},
		{"not an image", http.MethodPost, "/api/redacoes", `{"titulo":"x","imagemUrl":"data:image/png;base64,aGVsbG8="}`, http.StatusBadRequest, common.KindInvalidInput},
		{"empty text", http.MethodPost, "/api/redacoes/reanalyze", `{"texto":"  "}`, http.StatusBadRequest, common.KindInvalidInput},
		{"malformed json", http.MethodPost, "/api/redacoes/reanalisar", `{"texto":`, http.StatusBadRequest, common.KindInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			rec := do(t, h, tc.method, tc.path, "application/json", body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.status, rec.Body)
			}
			if got := decode[errorBody](t, rec); got.Error != tc.kind || got.Message == "" {
				t.Errorf("body = %+v", got)
			}
		})
	}
}

func TestExtractionFailureIsBadGateway(t *testing.T) {
	h := newTestServer(t, stubExtractor{err: provider.Permanent(errors.New("ocr crashed"))}, Config{})
	body := fmt.Sprintf(`{"titulo":"x","imagemUrl":"data:image/png;base64,%s"}`, base64.StdEncoding.EncodeToString(pngBytes(t)))
	rec := do(t, h, http.MethodPost, "/api/redacoes", "application/json", strings.NewReader(body))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if decode[errorBody](t, rec).Error != common.KindExtractionFailed {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestReanalyzeStandaloneText(t *testing.T) {
	h := newTestServer(t, stubExtractor{}, Config{})
	rec := do(t, h, http.MethodPost, "/api/redacoes/reanalyze", "application/json", strings.NewReader(`{"texto":"A gente estuda muito."}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Analise        map[string]any `json:"analise"`
		TextoCorrigido string         `json:"textoCorrigido"`
	}](t, rec)
	if got.Analise["redacaoId"] != nil {
		t.Errorf("standalone redacaoId = %v", got.Analise["redacaoId"])
	}
	if got.TextoCorrigido != "Nós estuda muito." {
		t.Errorf("textoCorrigido = %q", got.TextoCorrigido)
	}

	rec = do(t, h, http.MethodGet, "/api/redacoes", "", nil)
	if n := len(decode[[]entity.Essay](t, rec)); n != 0 {
		t.Errorf("standalone reanalysis created %d essays", n)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	h := newTestServer(t, stubExtractor{}, Config{})
	e := createJSON(t, h)
	path := "/api/redacoes/" + e.ID.String()

	rec := do(t, h, http.MethodPut, path, "application/json", strings.NewReader(`{"titulo":"Novo título"}`))
	if rec.Code != http.StatusOK || decode[entity.Essay](t, rec).Title != "Novo título" {
		t.Fatalf("update = %d %s", rec.Code, rec.Body)
	}
	if rec = do(t, h, http.MethodDelete, path, "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	h := newTestServer(t, stubExtractor{}, Config{})
	for name, header := range map[string]string{
		"missing": "",
		"wrong":   "Bearer nope",
		"scheme":  "Basic " + testToken,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/redacoes", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status %d", name, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz without token = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing X-Request-ID")
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, stubExtractor{}, Config{RateLimitEvery: time.Hour, RateLimitBurst: 1})
	if rec := do(t, h, http.MethodGet, "/api/redacoes", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/redacoes", "", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("second request = %d", rec.Code)
	}
}

// busyService answers every analysis with a held claim and panics elsewhere.
type busyService struct{ EssayService }

func (busyService) CurrentAnalysis(context.Context, uuid.UUID) (*entity.Analysis, error) {
	return nil, fmt.Errorf("essay: %w", common.ErrAlreadyProcessing)
}

func TestConflictAndPanic(t *testing.T) {
	srv := New(busyService{}, nil, nil, Config{RetryAfter: 3 * time.Second}, quietLogger())
	h := srv.Handler()
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/api/redacoes/"+id+"/analise-enem", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict || rec.Header().Get("Retry-After") != "3" {
		t.Errorf("conflict = %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/redacoes/"+id, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panic status = %d", rec.Code)
	}
	if got := decode[errorBody](t, rec); got.Message != "internal error" {
		t.Errorf("panic body leaked detail: %+v", got)
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := New(nil, nil, map[string]HealthChecker{"db": failingCheck{}}, Config{}, quietLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[healthResponse](t, rec)
	if got.Status != "unhealthy" || got.Checks["db"].Status != "unhealthy" {
		t.Errorf("health = %+v", got)
	}
}

func TestParseDataURL(t *testing.T) {
	mt, data, err := parseDataURL("data:image/JPG;base64,aGk=")
	if err != nil || mt != "image/jpeg" || string(data) != "hi" {
		t.Errorf("parseDataURL = %q %q %v", mt, data, err)
	}
	for _, bad := range []string{"image/png;base64,aGk=", "data:image/png,hi", "data:image/png;base64", "data:image/png;base64,***"} {
		if _, _, err := parseDataURL(bad); !errors.Is(err, common.ErrInvalidInput) {
			t.Errorf("parseDataURL(%q) err = %v", bad, err)
		}
	}
}

func TestUploadMime(t *testing.T) {
	img := pngBytes(t)
	if got := uploadMime("image/png; charset=binary", "x", img); got != "image/png" {
		t.Errorf("declared = %q", got)
	}
	if got := uploadMime("application/octet-stream", "scan.JPEG", img); got != "image/jpeg" {
		t.Errorf("by extension = %q", got)
	}
	if got := uploadMime("", "scan", img); got != "image/png" {
		t.Errorf("sniffed = %q", got)
	}
}
