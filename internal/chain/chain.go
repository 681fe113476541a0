// Package chain describes the networks the console can act on.
package chain

import (
	"strings"

	"multisig-console/internal/solana"
)

// DefaultProgramID is the multisig program deployed under the same address on
// every supported network.
var DefaultProgramID = solana.MustPublicKey("SQDS4ep65T869zMMBKyuUq6mtY8Vi6Q3kaP1BuCGRpf")

// Context identifies a network and the multisig program on it. It is passed
// by value and never mutated by the pipeline.
type Context struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	RPCEndpoint string           `yaml:"rpc"`
	WSEndpoint  string           `yaml:"ws"`
	ProgramID   solana.PublicKey `yaml:"program_id"`
	ExplorerURL string           `yaml:"explorer"`
}

// WebsocketEndpoint returns WSEndpoint, or the RPC endpoint with its scheme
// switched to ws/wss when none is configured.
func (c Context) WebsocketEndpoint() string {
	if c.WSEndpoint != "" {
		return c.WSEndpoint
	}
	switch {
	case strings.HasPrefix(c.RPCEndpoint, "https://"):
		return "wss://" + strings.TrimPrefix(c.RPCEndpoint, "https://")
	case strings.HasPrefix(c.RPCEndpoint, "http://"):
		return "ws://" + strings.TrimPrefix(c.RPCEndpoint, "http://")
	default:
		return c.RPCEndpoint
	}
}

// ExplorerTxURL links to a transaction in the explorer. A "{signature}"
// placeholder in ExplorerURL is substituted, otherwise "/tx/<sig>" is appended.
// Returns "" without an explorer.
func (c Context) ExplorerTxURL(sig solana.Signature) string {
	if c.ExplorerURL == "" {
		return ""
	}
	if strings.Contains(c.ExplorerURL, "{signature}") {
		return strings.ReplaceAll(c.ExplorerURL, "{signature}", sig.String())
	}
	base, query, _ := strings.Cut(c.ExplorerURL, "?")
	u := strings.TrimSuffix(base, "/") + "/tx/" + sig.String()
	if query != "" {
		u += "?" + query
	}
	return u
}

// DisplayName returns Name, falling back to ID.
func (c Context) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
