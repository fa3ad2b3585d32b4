package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

const defaultHuggingFaceEndpoint = "https://api-inference.huggingface.co/models"

// HuggingFaceConfig configures the HuggingFace Inference API backend.
type HuggingFaceConfig struct {
	APIKey   string
	Endpoint string
	ModelID  string
	Timeout  time.Duration
}

// HuggingFaceProvider implements Port over the HuggingFace text-generation
// Inference API, grounded on the teacher's pkg/llm.AnthropicProvider
// (marshal request → POST with bearer header → classify non-200 → unmarshal).
type HuggingFaceProvider struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewHuggingFaceProvider constructs a HuggingFaceProvider.
func NewHuggingFaceProvider(cfg HuggingFaceConfig) (*HuggingFaceProvider, error) {
	if cfg.APIKey == "" {
		return nil, orcherr.New(orcherr.ProviderUnavailable, "provider.huggingface", "no API key configured")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultHuggingFaceEndpoint
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "bigcode/starcoder2-15b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &HuggingFaceProvider{
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		model:    cfg.ModelID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (p *HuggingFaceProvider) Info() Info {
	return Info{
		Name:  "huggingface",
		Model: p.model,
		Capabilities: []string{
			string(TaskSchemaExtraction), string(TaskCodeGeneration),
			string(TaskCodeReview), string(TaskDocumentation),
		},
	}
}

type hfRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters hfParameters  `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	ReturnFull   bool    `json:"return_full_text"`
}

type hfResponseItem struct {
	GeneratedText string `json:"generated_text"`
}

type hfErrorResponse struct {
	Error string `json:"error"`
}

func (p *HuggingFaceProvider) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			MaxNewTokens: 4096,
			Temperature:  0.2,
			ReturnFull:   false,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", orcherr.Wrap(orcherr.Internal, "provider.huggingface", "marshal request", err)
	}

	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(p.endpoint, "/"), p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", orcherr.Wrap(orcherr.Internal, "provider.huggingface", "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", orcherr.Wrap(orcherr.Transient, "provider.huggingface", "send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", orcherr.Wrap(orcherr.Transient, "provider.huggingface", "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", p.parseError(resp.StatusCode, respBody)
	}

	var items []hfResponseItem
	if err := json.Unmarshal(respBody, &items); err != nil || len(items) == 0 {
		return "", orcherr.New(orcherr.MalformedOutput, "provider.huggingface", "unparseable or empty response")
	}
	return items[0].GeneratedText, nil
}

func (p *HuggingFaceProvider) parseError(statusCode int, body []byte) error {
	var errResp hfErrorResponse
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Error
	if msg == "" {
		msg = string(body)
	}
	switch statusCode {
	case http.StatusTooManyRequests:
		return orcherr.New(orcherr.RateLimited, "provider.huggingface", msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return orcherr.New(orcherr.ProviderUnavailable, "provider.huggingface", msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return orcherr.New(orcherr.Transient, "provider.huggingface", msg)
	default:
		return orcherr.New(orcherr.ProviderUnavailable, "provider.huggingface", fmt.Sprintf("http %d: %s", statusCode, msg))
	}
}

func (p *HuggingFaceProvider) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (Schema, error) {
	var out Schema
	err := WithMalformedOutputRetry(
		func() error {
			raw, err := p.complete(ctx, schemaExtractionPrompt(prompt, genCtx, false))
			if err != nil {
				return err
			}
			s, err := parseSchema(raw, "provider.huggingface")
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
			s, err := parseSchema(raw, "provider.huggingface")
			if err != nil {
				return err
			}
			out = s
			return nil
		},
	)
	return out, err
}

func (p *HuggingFaceProvider) GenerateCode(ctx context.Context, prompt string, schema Schema, genCtx map[string]any, sink EventSink) (Files, error) {
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
				f, err := parseFiles(raw, "provider.huggingface")
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
				f, err := parseFiles(raw, "provider.huggingface")
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

func (p *HuggingFaceProvider) ReviewCode(ctx context.Context, files Files) (ReviewReport, error) {
	if len(files) == 0 {
		return ReviewReport{}, nil
	}
	raw, err := p.complete(ctx, reviewPrompt(files))
	if err != nil {
		return ReviewReport{}, nil
	}
	return parseReview(raw), nil
}

func (p *HuggingFaceProvider) GenerateDocumentation(ctx context.Context, files Files, schema Schema, genCtx map[string]any) (DocFiles, error) {
	raw, err := p.complete(ctx, documentationPrompt(files, schema))
	if err != nil {
		return nil, err
	}
	return parseDocFiles(raw, "provider.huggingface")
}
