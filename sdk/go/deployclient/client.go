// Package deployclient is a small Go client for the deployctl HTTP API.
package deployclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Deployments block until the transaction is mined, so it is generous.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with a deployctl server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// DeployRequest is the payload of POST /api/v1/deployments. ABI may be the
// raw JSON array of the contract interface. Args are constructor arguments in
// declaration order; strings are parsed against the constructor input types
// by the server.
type DeployRequest struct {
	Chain    string          `json:"chain,omitempty"`
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
	Args     []any           `json:"args,omitempty"`
}

// Deployment is the result of a confirmed contract creation.
type Deployment struct {
	ID              string `json:"id"`
	Chain           string `json:"chain,omitempty"`
	ChainID         string `json:"chain_id"`
	ContractAddress string `json:"contract_address"`
	TransactionHash string `json:"transaction_hash"`
	Sender          string `json:"sender"`
	GasLimit        uint64 `json:"gas_limit"`
	GasUsed         uint64 `json:"gas_used"`
	BlockNumber     uint64 `json:"block_number"`
}

// Chain is a chain the server can deploy to.
type Chain struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	WaitTimeout time.Duration `json:"wait_timeout,omitempty"`
}

// MarshalJSON encodes WaitTimeout as a duration string, as the server does.
func (c Chain) MarshalJSON() ([]byte, error) {
	type plain Chain
	out := struct {
		plain
		WaitTimeout string `json:"wait_timeout,omitempty"`
	}{plain: plain(c)}
	if c.WaitTimeout > 0 {
		out.WaitTimeout = c.WaitTimeout.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the duration string sent by the server.
func (c *Chain) UnmarshalJSON(data []byte) error {
	type plain Chain
	aux := struct {
		*plain
		WaitTimeout string `json:"wait_timeout,omitempty"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.WaitTimeout = 0
	if aux.WaitTimeout == "" {
		return nil
	}
	d, err := time.ParseDuration(aux.WaitTimeout)
	if err != nil {
		return fmt.Errorf("deployclient: invalid wait_timeout %q: %w", aux.WaitTimeout, err)
	}
	c.WaitTimeout = d
	return nil
}

// ChainList is the response of GET /api/v1/chains.
type ChainList struct {
	Default string  `json:"default"`
	Chains  []Chain `json:"chains"`
}

// ChainSnapshot is the live state of a chain as reported by its node.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// APIError represents a failed request. Code carries the server's error
// category such as GAS_ESTIMATION or TIMEOUT when one was returned.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("deployer api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("deployer api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the given base URL. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Deploy submits a contract creation and waits for the server to report it
// mined.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (Deployment, error) {
	if len(req.ABI) == 0 {
		return Deployment{}, errors.New("deployclient: abi is required")
	}
	var deployment Deployment
	if err := c.post(ctx, "/api/v1/deployments", req, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// Chains lists the configured chains.
func (c *Client) Chains(ctx context.Context) (ChainList, error) {
	var list ChainList
	if err := c.get(ctx, "/api/v1/chains", &list); err != nil {
		return ChainList{}, err
	}
	return list, nil
}

// Chain fetches a live snapshot of the named chain.
func (c *Client) Chain(ctx context.Context, name string) (ChainSnapshot, error) {
	var snapshot ChainSnapshot
	if err := c.get(ctx, "/api/v1/chains/"+url.PathEscape(name), &snapshot); err != nil {
		return ChainSnapshot{}, err
	}
	return snapshot, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with every request. An empty
// token disables the Authorization header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		// auth failures come back as plain text
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		apiErr.StatusCode = resp.StatusCode
		if apiErr.RequestID == "" {
			apiErr.RequestID = resp.Header.Get("X-Request-ID")
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
