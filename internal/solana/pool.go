package solana

import (
	"github.com/puzpuzpuz/xsync/v2"
)

// ClientSource resolves an RPC client for an endpoint.
type ClientSource interface {
	Client(endpoint string) RPCClient
}

// Pool lazily creates and reuses one HTTPClient per endpoint.
type Pool struct {
	opts    []ClientOption
	clients *xsync.MapOf[string, *HTTPClient]
}

// NewPool creates a pool whose clients are built with opts.
func NewPool(opts ...ClientOption) *Pool {
	return &Pool{
		opts:    opts,
		clients: xsync.NewMapOf[*HTTPClient](),
	}
}

// Client returns the client for endpoint, creating it on first use.
func (p *Pool) Client(endpoint string) RPCClient {
	c, _ := p.clients.LoadOrCompute(endpoint, func() *HTTPClient {
		return NewHTTPClient(endpoint, p.opts...)
	})
	return c
}

// Close releases all clients.
func (p *Pool) Close() error {
	var firstErr error
	p.clients.Range(func(_ string, c *HTTPClient) bool {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Static serves a single client regardless of endpoint. Used by tests and
// single-chain tools.
type Static struct {
	RPC RPCClient
}

// Client implements ClientSource.
func (s Static) Client(string) RPCClient { return s.RPC }
