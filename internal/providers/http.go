package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/models"
)

// HTTPProvider reads market data from a REST market-data service:
//
//	GET {base}/v1/candles/{symbol}?lookback=N
//	GET {base}/v1/fundamentals/{symbol}
//	GET {base}/v1/sentiment/{symbol}?window_hours=H
//
// A 404 maps to ErrNotFound.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider for baseURL.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("market data base URL is required: %w", apperrors.ErrConfigInvalid)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (h *HTTPProvider) Candles(ctx context.Context, symbol string, lookback int) ([]models.Candle, error) {
	q := url.Values{}
	if lookback > 0 {
		q.Set("lookback", strconv.Itoa(lookback))
	}
	var resp struct {
		Candles []models.Candle `json:"candles"`
	}
	if err := h.get(ctx, "candles", symbol, q, &resp); err != nil {
		return nil, err
	}
	if lookback > 0 && len(resp.Candles) > lookback {
		resp.Candles = resp.Candles[len(resp.Candles)-lookback:]
	}
	return resp.Candles, nil
}

func (h *HTTPProvider) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	var f models.Fundamentals
	if err := h.get(ctx, "fundamentals", symbol, nil, &f); err != nil {
		return nil, err
	}
	f.Symbol = NormalizeSymbol(symbol)
	return &f, nil
}

func (h *HTTPProvider) Sentiment(ctx context.Context, symbol string, window time.Duration) (*models.Sentiment, error) {
	q := url.Values{}
	if window > 0 {
		q.Set("window_hours", strconv.Itoa(int(window.Hours())))
	}
	var s models.Sentiment
	if err := h.get(ctx, "sentiment", symbol, q, &s); err != nil {
		return nil, err
	}
	s.Symbol = NormalizeSymbol(symbol)
	s.Score = clampScore(s.Score)
	return &s, nil
}

func (h *HTTPProvider) get(ctx context.Context, resource, symbol string, query url.Values, dest interface{}) error {
	u := fmt.Sprintf("%s/v1/%s/%s", h.baseURL, resource, url.PathEscape(NormalizeSymbol(symbol)))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("X-API-Key", h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s for %s: %w", resource, symbol, apperrors.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", resource, err)
	}
	return nil
}
