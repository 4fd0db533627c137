// Package settlement implements the external transfer capability consumed by
// the vault engine. Movements are delegated to a custody bridge endpoint; the
// engine only observes success or failure.
package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"tokenvault/vault"
)

// HTTPAdapter forwards pull and push instructions to a custody bridge over
// HTTP. Any non-2xx response is reported as a transfer failure.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAdapter constructs an adapter against the bridge base URL.
func NewHTTPAdapter(baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type transferInstruction struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Pull implements the vault TransferAdapter interface.
func (a *HTTPAdapter) Pull(asset vault.Asset, from [20]byte, amount *big.Int) error {
	return a.post("/transfers/pull", asset, from, amount)
}

// Push implements the vault TransferAdapter interface.
func (a *HTTPAdapter) Push(asset vault.Asset, to [20]byte, amount *big.Int) error {
	return a.post("/transfers/push", asset, to, amount)
}

func (a *HTTPAdapter) post(path string, asset vault.Asset, account [20]byte, amount *big.Int) error {
	if a == nil || a.baseURL == "" {
		return fmt.Errorf("settlement: bridge endpoint not configured")
	}
	if amount == nil {
		return fmt.Errorf("settlement: amount required")
	}
	payload, err := json.Marshal(transferInstruction{
		Asset:   string(asset),
		Account: ethcommon.Address(account).Hex(),
		Amount:  amount.String(),
	})
	if err != nil {
		return err
	}
	resp, err := a.client.Post(a.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("settlement: bridge request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("settlement: bridge returned %d", resp.StatusCode)
	}
	return nil
}

// NoopAdapter acknowledges every movement without side effects. It backs
// deployments where custody transfers settle out of band.
type NoopAdapter struct{}

// Pull implements the vault TransferAdapter interface.
func (NoopAdapter) Pull(vault.Asset, [20]byte, *big.Int) error { return nil }

// Push implements the vault TransferAdapter interface.
func (NoopAdapter) Push(vault.Asset, [20]byte, *big.Int) error { return nil }
