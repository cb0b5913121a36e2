package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"promptsynth/internal/genome"
	"promptsynth/internal/logging"
	"promptsynth/internal/pool"
)

// GeminiConfig configures the Gemini evaluator.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-2.5-flash",
		Timeout: 2 * time.Minute,
	}
}

// Gemini evaluates genomes with the Gemini generateContent API: the
// genome's rendered prompt produces an answer, then a judge call scores the
// answer 0-10 as structured JSON.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	pool       *pool.Pool

	mu          sync.Mutex
	lastRequest time.Time

	count atomic.Int64
}

// NewGemini creates a Gemini evaluator for the given gene pool.
func NewGemini(cfg GeminiConfig, p *pool.Pool) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Gemini{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pool:       p,
	}, nil
}

const judgeSystemPrompt = `You are a strict evaluator of LLM answers.
Given a task and an answer, rate how well the answer solves the task.
Respond with JSON: {"score": <number between 0 and 10>}.`

// Evaluate renders the genome's prompt, obtains an answer, and has the
// model judge it on a 0-10 scale.
func (c *Gemini) Evaluate(ctx context.Context, g *genome.Genome, task string) (float64, error) {
	c.count.Add(1)

	prompt := g.RenderPrompt(c.pool, task)
	answer, err := c.complete(ctx, "", prompt, g.Temperature, false)
	if err != nil {
		return 0, fmt.Errorf("answer generation failed: %w", err)
	}

	judgePrompt := fmt.Sprintf("Task: %s\n\nAnswer:\n%s", task, answer)
	raw, err := c.complete(ctx, judgeSystemPrompt, judgePrompt, 0, true)
	if err != nil {
		return 0, fmt.Errorf("judging failed: %w", err)
	}

	var verdict struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return 0, fmt.Errorf("failed to parse judge verdict %q: %w", raw, err)
	}

	score := clampScore(verdict.Score)
	logging.Evaluator("[Gemini] genome %s scored %.2f", g.Key(), score)
	return score, nil
}

// Stats reports evaluation counters.
func (c *Gemini) Stats() Stats {
	return Stats{Evaluations: int(c.count.Load()), Mode: "gemini"}
}

// =============================================================================
// GEMINI WIRE TYPES
// =============================================================================

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete sends a prompt and returns the text completion. The genome's
// temperature drives answer sampling; judging runs at zero. Retries with
// exponential backoff on rate limits and transient failures.
func (c *Gemini) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, jsonOutput bool) (string, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[Gemini] complete: model=%s system_len=%d user_len=%d json=%t",
		c.model, len(systemPrompt), len(userPrompt), jsonOutput)

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature: temperature,
		},
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		}
	}
	if jsonOutput {
		reqBody.GenerationConfig.ResponseMimeType = "application/json"
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var geminiResp geminiResponse
		if err := json.Unmarshal(body, &geminiResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if geminiResp.Error != nil {
			return "", fmt.Errorf("API error: %s", geminiResp.Error.Message)
		}
		if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("no completion returned")
		}

		var result strings.Builder
		for _, part := range geminiResp.Candidates[0].Content.Parts {
			result.WriteString(part.Text)
		}
		response := strings.TrimSpace(result.String())

		logging.API("[Gemini] complete: finished in %v response_len=%d",
			time.Since(startTime), len(response))
		return response, nil
	}

	logging.APIError("[Gemini] complete: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
