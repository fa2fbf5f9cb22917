package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployer.json")
	content := `{
  "web3": {"rpc_url": "http://127.0.0.1:8545", "chain_config": "chains.yaml"},
  "deploy": {"wait_timeout_seconds": 90},
  "log": {"audit": {"enabled": true}}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("chain config not resolved: %q", cfg.Web3.ChainConfig)
	}
	if cfg.Deploy.WaitTimeout() != 90*time.Second {
		t.Fatalf("unexpected wait timeout %s", cfg.Deploy.WaitTimeout())
	}
	if cfg.Deploy.PrivateKeyEnv != DefaultPrivateKeyEnv {
		t.Fatalf("unexpected private key env %q", cfg.Deploy.PrivateKeyEnv)
	}
	if cfg.Log.Audit.Path != filepath.Join(dir, "logs", "deployments.log") {
		t.Fatalf("unexpected audit path %q", cfg.Log.Audit.Path)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestDeployConfigPrivateKey(t *testing.T) {
	t.Setenv("TEST_DEPLOYER_KEY", "  0xabc \n")
	cfg := DeployConfig{PrivateKeyEnv: "TEST_DEPLOYER_KEY"}

	key, err := cfg.PrivateKey()
	if err != nil {
		t.Fatalf("private key: %v", err)
	}
	if key != "0xabc" {
		t.Fatalf("unexpected key %q", key)
	}

	t.Setenv("TEST_DEPLOYER_KEY", "")
	if _, err := cfg.PrivateKey(); err == nil {
		t.Fatal("expected error when env is empty")
	}
	if (DeployConfig{}).WaitTimeout() != 0 {
		t.Fatal("zero seconds should disable the wait timeout")
	}
}

func TestLoadTOMLAndYAML(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "deployer.toml")
	tomlContent := `
[server]
address = ":9090"

[server.rate_limit]
enabled = true

[web3]
chain_config = "chains.yaml"
default_chain = "sepolia"

[deploy]
wait_timeout_seconds = 30

[auth]
mode = "token"

[[auth.tokens]]
name = "ci"
env = "CI_DEPLOY_TOKEN"
permissions = ["deployments:create"]
`
	if err := os.WriteFile(tomlPath, []byte(tomlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Web3.DefaultChain != "sepolia" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("chain config not resolved: %q", cfg.Web3.ChainConfig)
	}
	if cfg.Deploy.WaitTimeout() != 30*time.Second {
		t.Fatalf("unexpected wait timeout %s", cfg.Deploy.WaitTimeout())
	}
	if rl := cfg.Server.RateLimit; rl.RequestsPerMin != 10 || rl.BurstSize != 3 {
		t.Fatalf("unexpected rate limit defaults %+v", rl)
	}
	if len(cfg.Auth.Tokens) != 1 || cfg.Auth.Tokens[0].Env != "CI_DEPLOY_TOKEN" {
		t.Fatalf("unexpected tokens %+v", cfg.Auth.Tokens)
	}

	yamlPath := filepath.Join(dir, "deployer.yml")
	yamlContent := `
web3:
  rpc_url: http://127.0.0.1:8545
metrics:
  enabled: true
log:
  level: debug
`
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = Load(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Web3.RPCURL != "http://127.0.0.1:8545" || !cfg.Metrics.Enabled || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Auth.Mode != "disabled" || cfg.Server.RateLimit.Enabled || cfg.Alerts.MinSeverity != "critical" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	broken := filepath.Join(dir, "broken.toml")
	if err := os.WriteFile(broken, []byte("[server"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(broken); err == nil {
		t.Fatal("expected error for invalid toml")
	}
}
