package chain

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownChain is returned for an id no provider knows.
var ErrUnknownChain = errors.New("unknown chain")

// Provider supplies chain contexts.
type Provider interface {
	Get(id string) (Context, error)
	List() []Context
}

// StaticProvider serves a fixed set of chains.
type StaticProvider struct {
	chains map[string]Context
}

// NewStaticProvider creates a provider over chains. Chains without a program
// id get DefaultProgramID.
func NewStaticProvider(chains ...Context) (*StaticProvider, error) {
	p := &StaticProvider{chains: make(map[string]Context, len(chains))}
	for _, c := range chains {
		if c.ID == "" {
			return nil, errors.New("chain id is required")
		}
		if c.RPCEndpoint == "" {
			return nil, errors.Errorf("chain %q: rpc endpoint is required", c.ID)
		}
		if _, dup := p.chains[c.ID]; dup {
			return nil, errors.Errorf("chain %q defined twice", c.ID)
		}
		if c.ProgramID.IsZero() {
			c.ProgramID = DefaultProgramID
		}
		p.chains[c.ID] = c
	}
	return p, nil
}

// Get returns the chain with id.
func (p *StaticProvider) Get(id string) (Context, error) {
	c, ok := p.chains[id]
	if !ok {
		return Context{}, fmt.Errorf("%w: %q", ErrUnknownChain, id)
	}
	return c, nil
}

// List returns all chains ordered by id.
func (p *StaticProvider) List() []Context {
	out := make([]Context, 0, len(p.chains))
	for _, c := range p.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type chainsFile struct {
	Chains []Context `yaml:"chains"`
}

// ParseYAML builds a provider from a chains document:
//
//	chains:
//	  - id: mainnet
//	    rpc: https://api.mainnet-beta.solana.com
//	    explorer: https://explorer.solana.com
func ParseYAML(data []byte) (*StaticProvider, error) {
	var f chainsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse chains")
	}
	if len(f.Chains) == 0 {
		return nil, errors.New("no chains defined")
	}
	return NewStaticProvider(f.Chains...)
}

// NewFileProvider loads chains from a YAML file.
func NewFileProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read chains file %s", path)
	}
	p, err := ParseYAML(data)
	if err != nil {
		return nil, errors.Wrapf(err, "chains file %s", path)
	}
	return p, nil
}

// Compile-time interface check.
var _ Provider = (*StaticProvider)(nil)
