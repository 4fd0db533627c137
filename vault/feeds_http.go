package vault

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// HTTPSource fetches quotes from a JSON endpoint returning
// {"price":"<integer>","decimals":<n>,"timestamp":<unix>}. The price is the
// integer value of one whole asset unit at the reported decimal precision.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource constructs a source with a bounded request timeout.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    strings.TrimSpace(url),
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type httpQuotePayload struct {
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
}

// LatestPrice implements the PriceSource interface.
func (s *HTTPSource) LatestPrice() (PriceQuote, error) {
	if s == nil || s.URL == "" {
		return PriceQuote{}, fmt.Errorf("vault: http source not configured")
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Get(s.URL)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("vault: fetch price: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, fmt.Errorf("vault: price endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return PriceQuote{}, fmt.Errorf("vault: read price response: %w", err)
	}
	var payload httpQuotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return PriceQuote{}, fmt.Errorf("vault: decode price response: %w", err)
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok {
		return PriceQuote{}, fmt.Errorf("vault: invalid price %q", payload.Price)
	}
	quote := PriceQuote{Price: price, Decimals: payload.Decimals}
	if payload.Timestamp > 0 {
		quote.Timestamp = time.Unix(payload.Timestamp, 0).UTC()
	} else {
		quote.Timestamp = time.Now().UTC()
	}
	return quote, nil
}
