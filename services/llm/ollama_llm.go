package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/faultlineio/faultline/services/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("faultline.llm.ollama")

// OllamaClient talks to a local Ollama server. Useful for running the
// pipeline fully offline against a local model.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	embedModel string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewOllamaClient(cfg config.LLMConfig) (*OllamaClient, error) {
	baseURL := cfg.OllamaURL
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base URL not configured")
	}
	model := cfg.Model
	if model == "" {
		slog.Warn("llm model not configured, defaulting to llama3.1")
		model = "llama3.1"
	}
	embedModel := cfg.EmbeddingModel
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
	}, nil
}

// Generate implements the LLMClient interface.
func (o *OllamaClient) Generate(ctx context.Context, system, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	options := make(map[string]any)
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	payload := ollamaGenerateRequest{
		Model:   o.model,
		System:  system,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	}

	var out ollamaGenerateResponse
	if err := o.post(ctx, "/api/generate", payload, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Embed implements the Embedder interface.
func (o *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var out ollamaEmbedResponse
	if err := o.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: o.embedModel, Prompt: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, NewTransient("ollama.embeddings", fmt.Errorf("empty embedding"))
	}
	return out.Embedding, nil
}

func (o *OllamaClient) post(ctx context.Context, path string, payload, out any) error {
	op := "ollama" + strings.ReplaceAll(path, "/api/", ".")
	body, err := json.Marshal(payload)
	if err != nil {
		return NewPermanent(op, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return NewPermanent(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return NewTransient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if classifyHTTPStatus(resp.StatusCode) {
			return NewTransient(op, err)
		}
		return NewPermanent(op, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewTransient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
