// Package node is a minimal Aptos fullnode REST client for fetching module
// bytecode and ABIs.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// Network presets.
const (
	Mainnet = "mainnet"
	Testnet = "testnet"
	Devnet  = "devnet"
	Local   = "local"
)

// NetworkURLs maps network names to fullnode REST endpoints.
var NetworkURLs = map[string]string{
	Mainnet: "https://api.mainnet.aptoslabs.com/v1",
	Testnet: "https://api.testnet.aptoslabs.com/v1",
	Devnet:  "https://api.devnet.aptoslabs.com/v1",
	Local:   "http://127.0.0.1:8080/v1",
}

// DefaultTimeout bounds each request when no HTTPClient is supplied.
const DefaultTimeout = 30 * time.Second

// ErrUnknownNetwork is returned by ResolveURL for names that are neither a
// preset nor a URL.
var ErrUnknownNetwork = errors.New("unknown network")

// ResolveURL maps a network name or URL to a base URL.
func ResolveURL(networkOrURL string) (string, error) {
	if u, ok := NetworkURLs[strings.ToLower(networkOrURL)]; ok {
		return u, nil
	}
	u, err := url.Parse(networkOrURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w %q", ErrUnknownNetwork, networkOrURL)
	}
	return strings.TrimSuffix(networkOrURL, "/"), nil
}

// APIError is a non-2xx response from the fullnode.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("fullnode returned %d (%s): %s", e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("fullnode returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the fullnode.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to one fullnode.
type Client struct {
	// BaseURL is the REST root, e.g. https://api.mainnet.aptoslabs.com/v1.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
	// Logger defaults to no-op.
	Logger *zap.Logger
}

// NewClient creates a client for a network preset or URL.
func NewClient(networkOrURL, apiKey string) (*Client, error) {
	base, err := ResolveURL(networkOrURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		BaseURL:    base,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return &http.Client{Timeout: DefaultTimeout}
	}
	return c.HTTPClient
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// get decodes the JSON response of GET path into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if len(query) != 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("fullnode request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logger().Debug("fullnode request",
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetModule fetches a module's bytecode and ABI. ledgerVersion 0 means the
// latest version.
func (c *Client) GetModule(ctx context.Context, address movetype.Address, name string, ledgerVersion uint64) (*moveabi.MoveModuleBytecode, error) {
	if name == "" {
		return nil, errors.New("module name is empty")
	}
	var query url.Values
	if ledgerVersion != 0 {
		query = url.Values{"ledger_version": {strconv.FormatUint(ledgerVersion, 10)}}
	}
	path := "/accounts/" + address.StringLong() + "/module/" + url.PathEscape(name)

	var mod moveabi.MoveModuleBytecode
	if err := c.get(ctx, path, query, &mod); err != nil {
		return nil, fmt.Errorf("get module %s::%s: %w", address, name, err)
	}
	if mod.ABI == nil {
		return nil, fmt.Errorf("get module %s::%s: response has no ABI", address, name)
	}
	return &mod, nil
}

// FetchModuleABI returns the ABI of the module with id "address::name".
func (c *Client) FetchModuleABI(ctx context.Context, moduleID string) (*moveabi.MoveModule, error) {
	addr, name, err := SplitModuleID(moduleID)
	if err != nil {
		return nil, err
	}
	mod, err := c.GetModule(ctx, addr, name, 0)
	if err != nil {
		return nil, err
	}
	return mod.ABI, nil
}

// SplitModuleID parses "address::name".
func SplitModuleID(moduleID string) (movetype.Address, string, error) {
	addrStr, name, ok := strings.Cut(moduleID, "::")
	if !ok || name == "" || strings.Contains(name, "::") {
		return movetype.Address{}, "", fmt.Errorf("invalid module id %q, expected address::name", moduleID)
	}
	addr, err := movetype.ParseAddress(addrStr)
	if err != nil {
		return movetype.Address{}, "", err
	}
	return addr, name, nil
}
