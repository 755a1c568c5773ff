package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func completion(content string) string {
	b, _ := json.Marshal(content)
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
	"choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],
	"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`, b)
}

const modelJSON = `{"textoCorrigido":"Nós vamos.","correcoes":[{"original":"A gente vai","sugerido":"Nós vamos"}],
"breakdown":{"tese":8,"argumentos":7,"coesao":6,"repertorio":5,"norma":4},"notaGeral":9.9,
"pontosFavoraveis":["clareza"],"pontosMelhoria":[],"sugestoes":[],"comentarios":["bom"]}`

func TestAnalyzePublicAPI(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("auth = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion(modelJSON))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Deployment: "gpt-4o-mini", Temperature: 0.2}, quiet())
	res, err := c.Analyze(context.Background(), "A gente vai.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Breakdown.Tese != 8 || res.Breakdown.Norma != 4 || res.Model != "gpt-4o-mini" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Corrections) != 1 || res.CorrectedText != "Nós vamos." {
		t.Errorf("corrections = %+v", res.Corrections)
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
	if _, ok := body["max_tokens"]; !ok {
		t.Errorf("max_tokens not sent for a chat model")
	}
}

func TestAnalyzeAzureRouting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/corretor/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-08-01-preview" {
			t.Errorf("api-version = %s", r.URL.RawQuery)
		}
		if r.Header.Get("api-key") != "k" {
			t.Errorf("missing api-key header")
		}
		_, _ = io.WriteString(w, completion("Aqui está:\n```json\n"+modelJSON+"\n```"))
	}))
	defer srv.Close()

	c := NewClient(Config{
		Endpoint:   srv.URL + "/openai/deployments/old/chat/completions",
		APIKey:     "k",
		Deployment: "corretor",
		APIVersion: "2024-08-01-preview",
	}, quiet())
	if _, err := c.Analyze(context.Background(), "texto"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
}

func TestAnalyzeLenientSanitize(t *testing.T) {
	deviant := strings.NewReplacer(`"tese":8`, `"Tese":"8,0"`, `"pontosMelhoria":[]`, `"pontosMelhoria":null`).Replace(modelJSON)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion(deviant))
	}))
	defer srv.Close()

	strict := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, quiet())
	_, err := strict.Analyze(context.Background(), "texto")
	if err == nil || provider.IsTransient(err) {
		t.Fatalf("strict mode err = %v, want permanent failure", err)
	}

	lenient := NewClient(Config{APIKey: "k", BaseURL: srv.URL, LenientOptional: true}, quiet())
	res, err := lenient.Analyze(context.Background(), "texto")
	if err != nil {
		t.Fatalf("lenient Analyze: %v", err)
	}
	if res.Breakdown.Tese != 8 {
		t.Errorf("tese = %v", res.Breakdown.Tese)
	}
}

func TestAnalyzeMapsHTTPErrors(t *testing.T) {
	for _, tc := range []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"x"}}`)
		}))
		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, quiet())
		_, err := c.Analyze(context.Background(), "texto")
		srv.Close()

		var se *provider.StatusError
		if !errors.As(err, &se) || se.StatusCode != tc.status {
			t.Fatalf("status %d: err = %v", tc.status, err)
		}
		if provider.IsTransient(err) != tc.transient {
			t.Errorf("status %d: transient mismatch", tc.status)
		}
	}
}

func TestPermanentFailureSurvivesClientWrapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion("não consegui avaliar"))
	}))
	defer srv.Close()

	an := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, quiet())
	cfg := common.DefaultConfig().Providers
	cfg.Analyze.Policy.BaseDelay = 0
	pc := provider.NewClient(nil, an, cfg, quiet())
	_, err := pc.Analyze(context.Background(), "texto")
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Attempts != 1 {
		t.Fatalf("err = %v, want a single attempt", err)
	}
}

func TestAzureOrigin(t *testing.T) {
	cases := [][2]string{
		{"https://x.openai.azure.com/", "https://x.openai.azure.com"},
		{"https://x.openai.azure.com/openai/deployments/d/chat/completions", "https://x.openai.azure.com"},
		{"not a url", "not a url"},
	}
	for _, tc := range cases {
		if got := azureOrigin(tc[0]); got != tc[1] {
			t.Errorf("azureOrigin(%q) = %q, want %q", tc[0], got, tc[1])
		}
	}
}
