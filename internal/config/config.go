package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultPrivateKeyEnv 是读取部署私钥的默认环境变量。
const DefaultPrivateKeyEnv = "DEPLOYER_PRIVATE_KEY"

// Config 描述了部署工具在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Web3    Web3Config    `json:"web3"`
	Deploy  DeployConfig  `json:"deploy"`
	Auth    AuthConfig    `json:"auth"`
	Alerts  AlertsConfig  `json:"alerts"`
	Log     LogConfig     `json:"log"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址与限流策略。
type ServerConfig struct {
	Address   string          `json:"address"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// RateLimitConfig 按客户端 IP 限制部署请求的频率，健康检查不受限制。
type RateLimitConfig struct {
	Enabled        bool `json:"enabled"`
	RequestsPerMin int  `json:"requests_per_min"`
	BurstSize      int  `json:"burst_size"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// DeployConfig 控制部署流程的私钥来源与等待策略。
type DeployConfig struct {
	PrivateKeyEnv      string `json:"private_key_env"`
	WaitTimeoutSeconds int    `json:"wait_timeout_seconds"`
}

// WaitTimeout 返回等待交易上链的超时时间，0 表示仅受调用方上下文约束。
func (d DeployConfig) WaitTimeout() time.Duration {
	if d.WaitTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(d.WaitTimeoutSeconds) * time.Second
}

// PrivateKey 从配置的环境变量中读取私钥。
func (d DeployConfig) PrivateKey() (string, error) {
	name := d.PrivateKeyEnv
	if name == "" {
		name = DefaultPrivateKeyEnv
	}
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" {
		return "", fmt.Errorf("环境变量 %s 未设置部署私钥", name)
	}
	return key, nil
}

// AuthConfig 控制 API 的身份认证方式：disabled、token 或 jwt。
type AuthConfig struct {
	Mode   string        `json:"mode"`
	Tokens []TokenConfig `json:"tokens"`
	JWT    JWTConfig     `json:"jwt"`
}

// TokenConfig 描述一个静态 API 令牌，明文只允许出现在环境变量中。
type TokenConfig struct {
	Name        string   `json:"name"`
	SHA256      string   `json:"sha256"`
	Env         string   `json:"env"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// JWTConfig 描述 HS256 令牌的校验参数。
type JWTConfig struct {
	SecretEnv string `json:"secret_env"`
	Issuer    string `json:"issuer"`
	Audience  string `json:"audience"`
}

// AlertsConfig 控制部署失败告警。Webhook 地址从环境变量读取，
// min_severity 取值 info、warning 或 critical。
type AlertsConfig struct {
	WebhookURLEnv      string `json:"webhook_url_env"`
	SlackWebhookURLEnv string `json:"slack_webhook_url_env"`
	MinSeverity        string `json:"min_severity"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制部署审计日志。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig 控制 Prometheus 指标。
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Default 返回未加载任何文件时使用的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load 负责解析指定路径的配置文件。扩展名为 .toml、.yaml 或 .yml 时按对应
// 格式解析，其余一律视为 JSON，三种格式共享同一套字段名。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	content, err = normalize(filepath.Ext(path), content)
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// normalize 将 TOML 与 YAML 文档转换为 JSON，以便复用 json 标签。
func normalize(ext string, content []byte) ([]byte, error) {
	var doc map[string]any
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(content), &doc); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, err
		}
	default:
		return content, nil
	}
	return json.Marshal(doc)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，相对路径以配置文件所在目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RequestsPerMin <= 0 {
			c.Server.RateLimit.RequestsPerMin = 10
		}
		if c.Server.RateLimit.BurstSize <= 0 {
			c.Server.RateLimit.BurstSize = 3
		}
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = "critical"
	}

	if c.Deploy.PrivateKeyEnv == "" {
		c.Deploy.PrivateKeyEnv = DefaultPrivateKeyEnv
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	c.Log.Audit.Path = resolvePath(baseDir, c.Log.Audit.Path)
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = resolvePath(baseDir, filepath.Join("logs", "deployments.log"))
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
