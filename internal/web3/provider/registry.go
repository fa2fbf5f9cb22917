package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"contract-deployer/internal/config"
	"contract-deployer/internal/web3"
)

// DefaultChainName is used when only a bare rpc_url is configured.
const DefaultChainName = "default"

// Dialer opens a chain client for an endpoint.
type Dialer func(ctx context.Context, endpoint string) (web3.Client, error)

// Chain is a resolved chain definition.
type Chain struct {
	Name        string        `json:"name"`
	Endpoint    string        `json:"-"`
	Description string        `json:"description,omitempty"`
	WaitTimeout time.Duration `json:"wait_timeout,omitempty"`
}

// MarshalJSON renders the wait timeout as a duration string such as "30s".
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

// Registry maps human readable chain names to node endpoints. Connections are
// not held: every lookup that needs the network dials and closes its own.
type Registry struct {
	defaultChain string
	chains       map[string]Chain
	dial         Dialer
}

// NewRegistry loads chain definitions from cfg. dial is used by Describe.
func NewRegistry(cfg config.Web3Config, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	chains := make(map[string]Chain, len(defs.Chains)+1)
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType != "" && chainType != "evm" {
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		chains[name] = Chain{
			Name:        name,
			Endpoint:    strings.TrimSpace(def.RPCURL),
			Description: def.Description,
			WaitTimeout: def.WaitTimeout,
		}
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if rpcURL := strings.TrimSpace(cfg.RPCURL); rpcURL != "" {
		if _, exists := chains[DefaultChainName]; !exists {
			chains[DefaultChainName] = Chain{Name: DefaultChainName, Endpoint: rpcURL}
		}
		if defaultChain == "" && len(defs.Chains) == 0 {
			defaultChain = DefaultChainName
		}
	}

	if len(chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		names := sortedNames(chains)
		defaultChain = names[0]
	}
	if _, ok := chains[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, chains: chains, dial: dial}, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Lookup resolves a chain by name; an empty name selects the default chain.
func (r *Registry) Lookup(name string) (Chain, error) {
	if r == nil {
		return Chain{}, errors.New("未初始化的链注册表")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultChain
	}
	chain, ok := r.chains[name]
	if !ok {
		return Chain{}, fmt.Errorf("未知的链: %s", name)
	}
	return chain, nil
}

// Chains returns the registered chains sorted by name.
func (r *Registry) Chains() []Chain {
	if r == nil {
		return nil
	}
	out := make([]Chain, 0, len(r.chains))
	for _, name := range sortedNames(r.chains) {
		out = append(out, r.chains[name])
	}
	return out
}

// Describe dials the chain, fetches a snapshot and closes the connection.
func (r *Registry) Describe(ctx context.Context, name string) (web3.ChainSnapshot, error) {
	chain, err := r.Lookup(name)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	if r.dial == nil {
		return web3.ChainSnapshot{}, errors.New("链注册表未配置拨号器")
	}
	client, err := r.dial(ctx, chain.Endpoint)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	defer client.Close()

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	if snapshot.Notes == "" {
		snapshot.Notes = chain.Description
	}
	return snapshot, nil
}

func sortedNames(chains map[string]Chain) []string {
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
