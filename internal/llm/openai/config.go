package openai

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// Config for the chat completion client. When Endpoint is set the client talks
// to an Azure OpenAI resource and Deployment names the deployment; otherwise it
// uses the public API and Deployment is the model id.
type Config struct {
	Endpoint        string
	APIKey          string
	Deployment      string
	APIVersion      string
	Temperature     float32 // 0..2
	MaxTokens       int
	LenientOptional bool
	BaseURL         string // overrides the public API base; used by tests
	HTTPClient      *http.Client
}

type Client struct {
	cfg    Config
	api    *goopenai.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Deployment == "" {
		cfg.Deployment = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}

	var cc goopenai.ClientConfig
	if cfg.Endpoint != "" {
		cc = goopenai.DefaultAzureConfig(cfg.APIKey, azureOrigin(cfg.Endpoint))
		if cfg.APIVersion != "" {
			cc.APIVersion = cfg.APIVersion
		}
		deployment := cfg.Deployment
		cc.AzureModelMapperFunc = func(string) string { return deployment }
	} else {
		cc = goopenai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			cc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
	}
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}

	return &Client{cfg: cfg, api: goopenai.NewClientWithConfig(cc), logger: logger}
}

// azureOrigin strips any /openai/... path a user pasted along with the resource URL.
func azureOrigin(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return endpoint
	}
	if strings.Contains(u.Path, "/openai") {
		return u.Scheme + "://" + u.Host
	}
	return endpoint
}

// reasoningModel reports models that reject max_tokens and a custom temperature.
func reasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
