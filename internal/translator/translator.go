// Package translator sends one page of text, framed by the tail of the page
// before it and the head of the page after it, to an OpenAI-compatible chat
// completion service and returns the cleaned translation of that page.
package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"pdf-page-translator/internal/logger"
	"pdf-page-translator/internal/pdf"
	"pdf-page-translator/internal/types"
)

const (
	// DefaultModel is the chat model used when none is configured
	DefaultModel = "gpt-3.5-turbo"
	// DefaultTimeout bounds a single completion call
	DefaultTimeout = 120 * time.Second
	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 2
	// BaseRetryDelay is the base delay between retries (exponential backoff)
	BaseRetryDelay = 2 * time.Second
	// MaxRetryDelay caps the backoff
	MaxRetryDelay = 30 * time.Second
	// DefaultTargetLanguage matches the language the tool was first written for
	DefaultTargetLanguage = "Simplified Chinese"
	// DefaultSourceLanguage is the language of the source documents
	DefaultSourceLanguage = "English"
)

// ChatModel is the part of eino's chat model the engine needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Config configures a TranslationEngine.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	SourceLanguage string
	TargetLanguage string
	Timeout        time.Duration
	// MaxRetries is the number of retries for transient failures; negative disables retrying.
	MaxRetries int
	// RateLimit is the maximum number of requests per second, 0 for no limit.
	RateLimit float64
	// RetryDelay overrides BaseRetryDelay.
	RetryDelay time.Duration
}

// ConfigFromApp builds an engine config from the application config.
func ConfigFromApp(cfg *types.Config) Config {
	return Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.OpenAIModel,
		SourceLanguage: cfg.SourceLanguage,
		TargetLanguage: cfg.TargetLanguage,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RateLimit:      cfg.RateLimit,
	}
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.SourceLanguage == "" {
		c.SourceLanguage = DefaultSourceLanguage
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = DefaultTargetLanguage
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = BaseRetryDelay
	}
}

// Result is the outcome of translating one page.
type Result struct {
	// Page is the 1-based page number, 0 when translating free text.
	Page     int
	Text     string
	Attempts int
	Tokens   int
}

// TranslationEngine translates pages through a chat completion model.
type TranslationEngine struct {
	chat    ChatModel
	cfg     Config
	limiter *rate.Limiter
}

// NewTranslationEngine creates an engine backed by an OpenAI-compatible chat model.
// The API key must be supplied by configuration; a missing key fails here,
// before any request is made.
func NewTranslationEngine(ctx context.Context, cfg Config) (*TranslationEngine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, types.NewAppErrorWithDetails(types.ErrConfig, "API key is not configured",
			"set OPENAI_API_KEY or openai_api_key in the config file", nil)
	}
	cfg.applyDefaults()

	chatModelConfig := &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	}
	if cfg.BaseURL != "" {
		chatModelConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	chatModel, err := openai.NewChatModel(ctx, chatModelConfig)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create chat model", err)
	}
	return NewTranslationEngineWithModel(chatModel, cfg), nil
}

// NewTranslationEngineWithModel creates an engine around an existing chat model.
func NewTranslationEngineWithModel(chat ChatModel, cfg Config) *TranslationEngine {
	cfg.applyDefaults()
	e := &TranslationEngine{chat: chat, cfg: cfg}
	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return e
}

// TranslatePage translates the current segment of w. The neighbouring
// snippets are sent as context only. A page without text is returned as
// empty without calling the service.
func (e *TranslationEngine) TranslatePage(ctx context.Context, w pdf.ContextWindow) (*Result, error) {
	page := w.PageNumber()
	if strings.TrimSpace(w.Current) == "" {
		logger.Debug("page has no text, skipping translation", logger.Page(page))
		return &Result{Page: page}, nil
	}
	return e.translate(ctx, page, w)
}

// Translate translates free text with no neighbouring context.
func (e *TranslationEngine) Translate(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return &Result{}, nil
	}
	return e.translate(ctx, 0, pdf.ContextWindow{Current: text})
}

func (e *TranslationEngine) translate(ctx context.Context, page int, w pdf.ContextWindow) (*Result, error) {
	messages := []*schema.Message{
		schema.SystemMessage(buildSystemPrompt(e.cfg.SourceLanguage, e.cfg.TargetLanguage)),
		schema.UserMessage(buildUserPrompt(w.Format())),
	}

	maxAttempts := e.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, tokens, err := e.generate(ctx, page, messages, w.Previous, w.Next)
		if err == nil {
			return &Result{Page: page, Text: text, Attempts: attempt, Tokens: tokens}, nil
		}
		lastErr = err
		logger.Warn("translation attempt failed", logger.Page(page), logger.Int("attempt", attempt), logger.Err(err))

		if !isRetryableError(err) {
			return nil, err
		}
		if attempt < maxAttempts {
			delay := calculateBackoffDelay(e.cfg.RetryDelay, attempt)
			logger.Debug("retrying after delay", logger.Page(page), logger.Duration("delay", delay))
			if err := sleepContext(ctx, delay); err != nil {
				return nil, cancelled(page, err)
			}
		}
	}

	logger.Error("translation failed after all retries", lastErr, logger.Page(page), logger.Int("attempts", maxAttempts))
	return nil, &pdf.PDFError{
		Code:    pdf.ErrTranslateFailed,
		Message: "translation failed after retries",
		Details: fmt.Sprintf("attempted %d times", maxAttempts),
		Page:    page,
		Cause:   lastErr,
	}
}

// generate performs a single completion call and cleans its result. snippets
// are the context excerpts sent along, which the model may echo back.
func (e *TranslationEngine) generate(ctx context.Context, page int, messages []*schema.Message, snippets ...string) (string, int, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", 0, cancelled(page, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.chat.Generate(callCtx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, cancelled(page, ctx.Err())
		}
		return "", 0, classifyAPIError(page, err)
	}
	if resp == nil {
		return "", 0, pdf.NewPDFErrorWithPage(pdf.ErrTranslateFailed, "malformed response: no message", page, nil)
	}

	tokens := 0
	if resp.ResponseMeta != nil {
		if resp.ResponseMeta.Usage != nil {
			tokens = resp.ResponseMeta.Usage.TotalTokens
		}
		if resp.ResponseMeta.FinishReason == "length" {
			logger.Warn("translation was cut off by the model's token limit", logger.Page(page))
		}
	}

	text := Sanitize(resp.Content, snippets...)
	if text == "" {
		return "", tokens, pdf.NewPDFErrorWithPage(pdf.ErrTranslateFailed, "response has no translated content", page, nil)
	}

	logger.Debug("page translated",
		logger.Page(page),
		logger.Int("tokens", tokens),
		logger.Duration("took", time.Since(start)))
	return text, tokens, nil
}

// classifyAPIError maps a chat model error onto the translation error codes.
// Responses that could not be decoded are TRANSLATE_FAILED; everything else
// the service or transport reports is API_FAILED.
func classifyAPIError(page int, err error) error {
	msg := err.Error()
	if isMalformedResponse(msg) {
		return &pdf.PDFError{Code: pdf.ErrTranslateFailed, Message: "malformed response", Page: page, Cause: err}
	}

	switch {
	case strings.Contains(msg, "status code: 401"), strings.Contains(msg, "status code: 403"):
		return &pdf.PDFError{Code: pdf.ErrAPIFailed, Message: "API authentication failed",
			Details: "invalid API key or unauthorized access", Page: page, Cause: err}
	case strings.Contains(msg, "status code: 429"):
		return &pdf.PDFError{Code: pdf.ErrAPIFailed, Message: "API rate limit exceeded", Page: page, Cause: err}
	case strings.Contains(msg, "status code: 400"):
		return &pdf.PDFError{Code: pdf.ErrAPIFailed, Message: "invalid API request", Page: page, Cause: err}
	case strings.Contains(msg, "status code: 5"):
		return &pdf.PDFError{Code: pdf.ErrAPIFailed, Message: "API server error", Page: page, Cause: err}
	}
	return &pdf.PDFError{Code: pdf.ErrAPIFailed, Message: "API request failed", Page: page, Cause: err}
}

func isMalformedResponse(msg string) bool {
	for _, s := range []string{
		"invalid character",
		"cannot unmarshal",
		"unexpected end of JSON input",
		"empty choices",
		"no choices",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isRetryableError determines if an error should trigger a retry.
// Retryable: rate limits (429), server errors (5xx) and network failures.
// Not retryable: authentication, invalid requests, malformed responses, cancellation.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pdfErr *pdf.PDFError
	if errors.As(err, &pdfErr) {
		switch pdfErr.Code {
		case pdf.ErrCancelled, pdf.ErrTranslateFailed:
			return false
		case pdf.ErrAPIFailed:
			switch pdfErr.Message {
			case "API rate limit exceeded", "API server error":
				return true
			case "API authentication failed", "invalid API request":
				return false
			}
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "reset by peer")
}

// calculateBackoffDelay doubles base with each attempt, capped at MaxRetryDelay.
func calculateBackoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > MaxRetryDelay || delay <= 0 {
		delay = MaxRetryDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cancelled(page int, err error) error {
	return pdf.NewPDFErrorWithPage(pdf.ErrCancelled, "translation cancelled", page, err)
}
