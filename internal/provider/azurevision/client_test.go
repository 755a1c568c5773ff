package azurevision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

const readBody = `{
  "readResult": {
    "blocks": [{
      "lines": [
        {"text": "TEMA: Educação", "words": [
          {"text": "TEMA:", "confidence": 0.99, "style": {"name": "printed", "confidence": 0.9}},
          {"text": "Educação", "confidence": 0.97}
        ]},
        {"text": "A educação transforma", "words": [
          {"text": "A", "confidence": 0.8, "style": {"name": "handwritten", "confidence": 0.95}},
          {"text": "educação", "confidence": 0.9},
          {"text": "transforma", "confidence": 1.0}
        ]},
        {"text": "a sociedade.", "words": [
          {"text": "a", "confidence": 0.7, "style": {"name": "handwritten", "confidence": 0.9}},
          {"text": "sociedade.", "confidence": 0.9}
        ]}
      ]
    }]
  }
}`

func newTestClient(url string) *Client {
	return New(Config{Endpoint: url + "/", APIKey: "secret"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractPrefersHandwrittenLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/computervision/imageanalysis:analyze" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("features") != "read" || q.Get("language") != "pt" || q.Get("api-version") != defaultAPIVersion {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "secret" {
			t.Errorf("missing subscription key")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("content type = %s", ct)
		}
		_, _ = io.WriteString(w, readBody)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Extract(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "A educação transforma\na sociedade." {
		t.Errorf("text = %q", res.Text)
	}
	// line means are 0.9 and 0.8
	if res.Confidence < 0.849 || res.Confidence > 0.851 {
		t.Errorf("confidence = %v, want 0.85", res.Confidence)
	}
	if res.Method != "azure-vision" || len(res.Warnings) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestExtractEmptyReadResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"readResult": {"blocks": []}}`)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Extract(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "" || res.Confidence != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestExtractStatusErrors(t *testing.T) {
	for _, tc := range []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"code":"x"}}`, tc.status)
		}))
		_, err := newTestClient(srv.URL).Extract(context.Background(), []byte("img"))
		srv.Close()

		var se *provider.StatusError
		if !errors.As(err, &se) || se.StatusCode != tc.status {
			t.Fatalf("status %d: err = %v", tc.status, err)
		}
		if provider.IsTransient(err) != tc.transient {
			t.Errorf("status %d: transient = %v, want %v", tc.status, !tc.transient, tc.transient)
		}
	}
}
