// Package directory looks up account owners in the external client service.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"
	"accounts-ledger/pkg/resilience"

	"go.uber.org/zap"
)

// ErrUnavailable wraps every failure to reach or understand the directory.
var ErrUnavailable = errors.New("directory: unavailable")

// Owner is a client record returned by the directory.
type Owner struct {
	ID             string  `json:"id"`
	FullName       string  `json:"fullName"`
	AccountNumbers []int64 `json:"accountsNumbers"`
}

// Directory resolves owner ids. An empty result for known-bad ids is not an error.
type Directory interface {
	GetOwners(ctx context.Context, ids []string) ([]Owner, error)
}

// ClientConfig configures the HTTP directory client.
type ClientConfig struct {
	// BaseURL of the client service, e.g. http://clients:3000
	BaseURL string

	// Resilience guards each lookup
	Resilience resilience.Config

	// HTTPClient overrides the transport, used by tests
	HTTPClient *http.Client
}

// Client calls GET {BaseURL}/clients?ids=a,b.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
	logger  *logging.Logger
}

// NewClient creates an HTTP directory client.
func NewClient(config ClientConfig, collector metrics.Collector) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("directory: base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("directory: invalid base URL: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    httpClient,
		breaker: resilience.NewBreaker("directory", config.Resilience, collector, nil),
		logger:  logging.Global().Named("directory"),
	}, nil
}

// GetOwners fetches the owner records for ids.
func (c *Client) GetOwners(ctx context.Context, ids []string) ([]Owner, error) {
	result, err := c.breaker.Execute(ctx, "get_owners", func(ctx context.Context) (interface{}, error) {
		return c.fetch(ctx, ids)
	})
	if err != nil {
		c.logger.Error("error on getting clients",
			zap.Strings("ids", ids),
			zap.Error(err),
		)
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.([]Owner), nil
}

func (c *Client) fetch(ctx context.Context, ids []string) ([]Owner, error) {
	endpoint := c.baseURL + "/clients?ids=" + url.QueryEscape(strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var owners []Owner
	if err := json.NewDecoder(resp.Body).Decode(&owners); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if owners == nil {
		owners = []Owner{}
	}
	return owners, nil
}

// Static is an in-process directory backed by a fixed owner set.
type Static struct {
	mu     sync.RWMutex
	owners map[string]Owner
}

// NewStatic creates a directory that knows the given owners.
func NewStatic(owners ...Owner) *Static {
	s := &Static{owners: make(map[string]Owner, len(owners))}
	for _, o := range owners {
		s.owners[o.ID] = o
	}
	return s
}

// Add registers an owner.
func (s *Static) Add(o Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[o.ID] = o
}

// GetOwners returns the known owners among ids.
func (s *Static) GetOwners(ctx context.Context, ids []string) ([]Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Owner, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.owners[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// Func adapts a function to the Directory interface.
type Func func(ctx context.Context, ids []string) ([]Owner, error)

// GetOwners calls f.
func (f Func) GetOwners(ctx context.Context, ids []string) ([]Owner, error) {
	return f(ctx, ids)
}
