// Package llm implements the model-facing half of Component C: building
// the nlp-pack prompt, calling the OpenAI-compatible vLLM endpoint with
// retry, and running the one-shot repair round-trip against
// internal/schema. Grounded on the source worker's qwen_client.py,
// adapted to this codebase's existing langchaingo-based LLM client
// shape (internal/llm/client.go in the narration build).
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
	"github.com/chapterbridge/nlp-pack-worker/internal/schema"
)

const (
	defaultMaxTokens  = 16000
	defaultTemperature = 0.3
	repairTemperature  = 0.1
	repairSystemPrompt = "You are a JSON repair assistant. Fix the invalid JSON to match the schema."
)

// Client wraps an OpenAI-compatible chat model (a vLLM server serving
// Qwen in production) with the retry and repair policy
// require.
type Client struct {
	llm        llms.Model
	model      string
	timeout    time.Duration
	maxRetries int
}

// NewClient dials the configured vLLM base URL. The server need not be
// reachable yet; errors surface on first call.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, maxRetries int) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}

	log.Info().Str("base_url", baseURL).Str("model", model).Dur("timeout", timeout).Msg("LLM client initialized")

	return &Client{llm: llm, model: model, timeout: timeout, maxRetries: maxRetries}, nil
}

// Result is the outcome of a successful Process call: the normalized
// document plus the processing stats document in the
// job's output.
type Result struct {
	Normalized *schema.Normalized
	Stats      models.Stats
}

// Process runs the full model round-trip for one segment: builds the
// prompt, calls the model with retry, parses and validates/normalizes
// the JSON response, and on a parse or schema failure makes a single
// repair call whose output is validated once more. It returns the
// normalized document with processing stats attached.
//
// A failed model call (after retries) is returned wrapped as "model
// call failed"; output that is still invalid after the one repair
// attempt, or a failed repair call, is reported via a nil Result and a
// wrapped ErrOutputInvalid, which the caller treats as a model-output
// error (no further retry).
func (c *Client) Process(ctx context.Context, sourceText string, mediaType models.MediaType, workTitle string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stats := models.Stats{
		MediaType:      mediaType,
		InputChars:     len(sourceText),
		InputTokensEst: len(sourceText) / 4,
	}

	systemPrompt := buildSystemPrompt(mediaType, workTitle)
	userPrompt := buildUserPrompt(sourceText, mediaType)

	log.Info().
		Str("media_type", string(mediaType)).
		Int("input_chars", stats.InputChars).
		Int("input_tokens_est", stats.InputTokensEst).
		Msg("sending segment to model")

	content, latency, retries, err := c.callWithRetry(ctx, systemPrompt, userPrompt, defaultTemperature)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	stats.ModelLatencyMS = latency
	stats.RetriesCount = retries
	stats.OutputChars = len(content)

	ok, normalized, errMsg := schema.ValidateAndNormalize([]byte(content))
	if !ok {
		stats.RepairAttempted = true
		log.Warn().Str("error", errMsg).Msg("model output invalid, attempting repair")

		repaired, repairErr := c.repair(ctx, content, errMsg)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: %s (repair call failed: %v)", ErrOutputInvalid, errMsg, repairErr)
		}
		ok, normalized, errMsg = schema.ValidateAndNormalize([]byte(repaired))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOutputInvalid, errMsg)
		}
		stats.RepairSucceeded = true
		stats.OutputChars = len(repaired)
		log.Info().Msg("schema repair succeeded")
	}

	log.Info().
		Int64("latency_ms", stats.ModelLatencyMS).
		Int("retries", stats.RetriesCount).
		Bool("repaired", stats.RepairSucceeded).
		Msg("model processing complete")

	return &Result{Normalized: normalized, Stats: stats}, nil
}

// callWithRetry calls the model, retrying errors that shouldRetry
// accepts up to maxRetries times with backoffDelay between attempts.
// It does not inspect the response content; parsing and repair happen
// in Process.
func (c *Client) callWithRetry(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (content string, latencyMS int64, retries int, err error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		start := time.Now()
		resp, callErr := c.llm.GenerateContent(ctx, messages,
			llms.WithModel(c.model),
			llms.WithTemperature(temperature),
			llms.WithMaxTokens(defaultMaxTokens),
			llms.WithJSONMode(),
		)
		elapsed := time.Since(start)

		if callErr == nil {
			text := ""
			if len(resp.Choices) > 0 {
				text = resp.Choices[0].Content
			}
			return text, elapsed.Milliseconds(), retries, nil
		}

		lastErr = callErr
		if !shouldRetry(callErr) || attempt == c.maxRetries {
			log.Error().Err(callErr).Int("attempt", attempt+1).Msg("model call failed")
			break
		}

		retries++
		wait := backoffDelay(attempt)
		log.Warn().Err(callErr).Int("attempt", attempt+1).Dur("wait", wait).Msg("model call failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", elapsed.Milliseconds(), retries, ctx.Err()
		}
	}
	return "", 0, retries, lastErr
}

// repair sends the invalid content and the validation/parse error back
// to the model for a single corrective pass,
// one-repair-round-trip policy.
func (c *Client) repair(ctx context.Context, invalidContent, errMsg string) (string, error) {
	prompt := schema.BuildRepairPrompt(invalidContent, errMsg)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, repairSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithModel(c.model),
		llms.WithTemperature(repairTemperature),
		llms.WithMaxTokens(defaultMaxTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("repair call returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// backoffDelay matches the source client's min(2**attempt * 2, 30)
// seconds schedule.
func backoffDelay(attempt int) time.Duration {
	seconds := 2
	for i := 0; i < attempt; i++ {
		seconds *= 2
		if seconds >= 30 {
			return 30 * time.Second
		}
	}
	return time.Duration(seconds) * time.Second
}
