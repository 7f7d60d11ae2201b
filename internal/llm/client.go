package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/emberhq/companion/internal/catalog"
)

const maxAttempts = 5

type CompleteRequest struct {
	Messages  []Message
	MaxTokens int

	// ModelKey is the explicit per-turn model; empty means "use preference".
	ModelKey       string
	PreferredModel string
	Premium        bool
}

type Client struct {
	catalog *catalog.Repo
	httpc   *http.Client

	// lookupEnv is swappable in tests.
	lookupEnv func(string) string

	// retryBase is the unit for 429 backoff (2^attempt * retryBase).
	retryBase time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewClient(cat *catalog.Repo) *Client {
	return &Client{
		catalog:   cat,
		httpc:     &http.Client{Timeout: 90 * time.Second},
		lookupEnv: os.Getenv,
		retryBase: time.Second,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Client) breakerFor(provider string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[provider]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    provider,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})
	c.breakers[provider] = b
	return b
}

// resolveModel picks the model for this request. A missing or ineligible key
// falls back to the first eligible OpenAI model, then to any eligible model.
func (c *Client) resolveModel(ctx context.Context, req CompleteRequest) (*catalog.Model, error) {
	key := strings.TrimSpace(req.ModelKey)
	if key == "" {
		key = strings.TrimSpace(req.PreferredModel)
	}

	if key == "" {
		m, err := c.catalog.FirstActiveModelForTier(ctx, req.Premium)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, ErrNoModel
		}
		return m, nil
	}

	m, err := c.catalog.GetModelByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if m != nil && m.Active && m.EligibleFor(req.Premium) {
		return m, nil
	}

	m, err = c.catalog.FirstActiveModelForProvider(ctx, "openai", req.Premium)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m, err = c.catalog.FirstActiveModelForTier(ctx, req.Premium)
		if err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, ErrNoModel
	}
	return m, nil
}

// Complete dispatches a chat completion with bounded retries. HTTP 429 backs
// off exponentially between attempts; all other failures retry immediately up
// to the attempt limit.
func (c *Client) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	model, err := c.resolveModel(ctx, req)
	if err != nil {
		return "", err
	}

	provider, err := c.catalog.GetProviderByName(ctx, model.ProviderName)
	if err != nil {
		return "", err
	}
	if provider == nil || !provider.Active {
		return "", ErrNoProvider
	}

	apiKey := c.lookupEnv(provider.EnvKeyName)
	if apiKey == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAPIKey, provider.EnvKeyName)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > model.MaxTokens {
		maxTokens = model.MaxTokens
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * c.retryBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, status, err := c.dispatch(ctx, provider, model.Key, req.Messages, maxTokens, apiKey)
		if err == nil {
			content = strings.TrimSpace(content)
			if content != "" {
				return content, nil
			}
			lastErr = ErrEmptyCompletion
			continue
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if status == http.StatusTooManyRequests {
			wait := bo.NextBackOff()
			log.Warn().Str("provider", provider.Name).Str("model", model.Key).
				Int("attempt", attempt).Dur("wait", wait).Msg("rate limited, backing off")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	log.Error().Err(lastErr).Str("provider", provider.Name).Str("model", model.Key).
		Msg("completion failed after all attempts")
	if lastErr == nil {
		lastErr = ErrEmptyCompletion
	}
	return "", lastErr
}

type chatReq struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// dispatch performs a single OpenAI-compatible chat call through the
// provider's circuit breaker. status is non-zero for HTTP-level failures.
func (c *Client) dispatch(ctx context.Context, provider *catalog.Provider, modelKey string, messages []Message, maxTokens int, apiKey string) (string, int, error) {
	body, err := json.Marshal(chatReq{Model: modelKey, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", 0, err
	}

	type result struct {
		content string
		status  int
	}

	out, err := c.breakerFor(provider.Name).Execute(func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.APIURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := c.httpc.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := extractErrorMessage(raw)
			if msg == "" {
				msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
			}
			return result{status: resp.StatusCode}, fmt.Errorf("%s: %s", provider.Name, msg)
		}

		var decoded chatResp
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, err
		}
		if decoded.Error != nil && decoded.Error.Message != "" {
			return result{}, fmt.Errorf("%s: %s", provider.Name, decoded.Error.Message)
		}
		if len(decoded.Choices) == 0 {
			return result{}, nil
		}
		return result{content: decoded.Choices[0].Message.Content}, nil
	})

	res, _ := out.(result)
	if err != nil {
		return "", res.status, err
	}
	return res.content, 0, nil
}

func extractErrorMessage(raw []byte) string {
	var decoded struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ""
	}
	if decoded.Error == nil {
		return ""
	}
	return strings.TrimSpace(decoded.Error.Message)
}
