package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

const defaultLocalBaseURL = "http://localhost:11434"

// LocalConfig configures the local (Ollama-compatible) backend.
type LocalConfig struct {
	BaseURL string
	ModelID string
	Timeout time.Duration
}

// LocalProvider implements Port over a local Ollama-compatible HTTP server,
// grounded directly on the teacher's pkg/llm.OllamaProvider.
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewLocalProvider constructs a LocalProvider. Unlike the hosted backends,
// no API key is required — a local server is assumed reachable or the
// caller would not have selected it.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultLocalBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "codellama"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &LocalProvider{
		baseURL: cfg.BaseURL,
		model:   cfg.ModelID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (p *LocalProvider) Info() Info {
	return Info{
		Name:  "local",
		Model: p.model,
		Capabilities: []string{
			string(TaskSchemaExtraction), string(TaskCodeGeneration),
			string(TaskCodeReview), string(TaskDocumentation),
		},
	}
}

type localChatRequest struct {
	Model    string            `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResponse struct {
	Message localChatMessage `json:"message"`
	Done    bool             `json:"done"`
}

func (p *LocalProvider) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := localChatRequest{
		Model: p.model,
		Messages: []localChatMessage{
			{Role: "user", Content: prompt},
		},
		Stream: false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", orcherr.Wrap(orcherr.Internal, "provider.local", "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", orcherr.Wrap(orcherr.Internal, "provider.local", "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", orcherr.Wrap(orcherr.Transient, "provider.local", "send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", orcherr.Wrap(orcherr.Transient, "provider.local", "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", orcherr.New(orcherr.ProviderUnavailable, "provider.local", fmt.Sprintf("http %d: %s", resp.StatusCode, string(respBody)))
	}

	var chatResp localChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", orcherr.New(orcherr.MalformedOutput, "provider.local", "unparseable response")
	}
	return chatResp.Message.Content, nil
}

func (p *LocalProvider) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (Schema, error) {
	var out Schema
	err := WithMalformedOutputRetry(
		func() error {
			raw, err := p.complete(ctx, schemaExtractionPrompt(prompt, genCtx, false))
			if err != nil {
				return err
			}
			s, err := parseSchema(raw, "provider.local")
			if err != nil {
				return err
			}
			out = s
			return nil
		},
		func() error {
			raw, err := p.complete(ctx, schemaExtractionPrompt(prompt, genCtx, true))
			if err != nil {
				return err
			}
			s, err := parseSchema(raw, "provider.local")
			if err != nil {
				return err
			}
			out = s
			return nil
		},
	)
	return out, err
}

func (p *LocalProvider) GenerateCode(ctx context.Context, prompt string, schema Schema, genCtx map[string]any, sink EventSink) (Files, error) {
	if sink != nil {
		sink.Emit("provider_call", 0, fmt.Sprintf("requesting code generation from %s", p.model), nil)
	}
	var out Files
	err := WithTransientRetry(ctx, func() error {
		return WithMalformedOutputRetry(
			func() error {
				raw, err := p.complete(ctx, codeGenerationPrompt(prompt, schema, genCtx, false))
				if err != nil {
					return err
				}
				f, err := parseFiles(raw, "provider.local")
				if err != nil {
					return err
				}
				out = f
				return nil
			},
			func() error {
				raw, err := p.complete(ctx, codeGenerationPrompt(prompt, schema, genCtx, true))
				if err != nil {
					return err
				}
				f, err := parseFiles(raw, "provider.local")
				if err != nil {
					return err
				}
				out = f
				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}
	if sink != nil {
		sink.Emit("provider_call", 0, fmt.Sprintf("received %d files", len(out)), nil)
	}
	return out, nil
}

func (p *LocalProvider) ReviewCode(ctx context.Context, files Files) (ReviewReport, error) {
	if len(files) == 0 {
		return ReviewReport{}, nil
	}
	raw, err := p.complete(ctx, reviewPrompt(files))
	if err != nil {
		return ReviewReport{}, nil
	}
	return parseReview(raw), nil
}

func (p *LocalProvider) GenerateDocumentation(ctx context.Context, files Files, schema Schema, genCtx map[string]any) (DocFiles, error) {
	raw, err := p.complete(ctx, documentationPrompt(files, schema))
	if err != nil {
		return nil, err
	}
	return parseDocFiles(raw, "provider.local")
}
