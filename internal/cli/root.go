package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"contract-deployer/internal/config"
	"contract-deployer/internal/deployer"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/observability/alerting"
	"contract-deployer/internal/web3/ethereum"
	"contract-deployer/internal/web3/provider"
	"contract-deployer/pkg/logger"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const configEnv = "DEPLOYER_CONFIG"

// defaultConfigFiles is the search order under ./configs when neither
// --config nor $DEPLOYER_CONFIG is set.
var defaultConfigFiles = []string{"deployer.json", "deployer.toml", "deployer.yaml"}

// app carries the global flags and collaborators shared by every subcommand.
type app struct {
	out  io.Writer
	dial deployer.Dialer

	configPath    string
	chain         string
	rpcURL        string
	privateKeyEnv string
	keyStdin      bool
	logLevel      string

	stdinKey string
}

// Execute runs the CLI
func Execute(ctx context.Context, version string) error {
	return newRootCmd(version, &app{out: os.Stdout, dial: ethereum.Dial}).ExecuteContext(ctx)
}

func newRootCmd(version string, a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "deployctl",
		Short:        "Deploy smart contracts to EVM chains",
		Long:         `deployctl estimates gas, submits contract creation transactions and waits for them to be mined.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetOut(a.out)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file in JSON, TOML or YAML (default: $DEPLOYER_CONFIG or configs/deployer.*)")
	rootCmd.PersistentFlags().StringVar(&a.chain, "chain", "", "chain name from the chain config (default chain if empty)")
	rootCmd.PersistentFlags().StringVar(&a.rpcURL, "rpc", "", "node endpoint, overrides the chain config")
	rootCmd.PersistentFlags().StringVar(&a.privateKeyEnv, "private-key-env", "", "environment variable holding the deployer private key")
	rootCmd.PersistentFlags().BoolVar(&a.keyStdin, "key-stdin", false, "read the private key from stdin instead of the environment")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(createDeployCmd(a))
	rootCmd.AddCommand(createEstimateCmd(a))
	rootCmd.AddCommand(createChainsCmd(a))
	rootCmd.AddCommand(createAccountCmd(a))
	rootCmd.AddCommand(createServeCmd(a))

	return rootCmd
}

// loadConfig resolves the config file from flag, env or the default location,
// then applies flag overrides and initialises logging.
func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		for _, name := range defaultConfigFiles {
			candidate := filepath.Join("configs", name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if a.privateKeyEnv != "" {
		cfg.Deploy.PrivateKeyEnv = a.privateKeyEnv
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registry builds the chain registry. --rpc replaces every configured chain
// with a single ad hoc endpoint.
func (a *app) registry(cfg *config.Config) (*provider.Registry, error) {
	web3Cfg := cfg.Web3
	if rpcURL := strings.TrimSpace(a.rpcURL); rpcURL != "" {
		web3Cfg = config.Web3Config{RPCURL: rpcURL}
	}
	return provider.NewRegistry(web3Cfg, provider.Dialer(a.dial))
}

// deployer builds a Deployer carrying the configured wait timeout and, when a
// webhook is configured, failure alerts.
func (a *app) deployer(cfg *config.Config, opts ...deployer.Option) *deployer.Deployer {
	opts = append(opts, deployer.WithWaitTimeout(cfg.Deploy.WaitTimeout()))
	if dispatcher := alerting.New(cfg.Alerts); dispatcher != nil {
		opts = append(opts, deployer.WithAlerts(dispatcher, xerrors.Severity(cfg.Alerts.MinSeverity)))
	}
	return deployer.New(a.dial, opts...)
}

// target resolves the chain selected by --chain.
func (a *app) target(cfg *config.Config) (deployer.Target, error) {
	reg, err := a.registry(cfg)
	if err != nil {
		return deployer.Target{}, err
	}
	name := a.chain
	if strings.TrimSpace(a.rpcURL) != "" {
		name = provider.DefaultChainName
	}
	chain, err := reg.Lookup(name)
	if err != nil {
		return deployer.Target{}, err
	}
	timeout := chain.WaitTimeout
	if timeout == 0 {
		timeout = cfg.Deploy.WaitTimeout()
	}
	return deployer.Target{Chain: chain.Name, Endpoint: chain.Endpoint, WaitTimeout: timeout}, nil
}

// privateKey returns the deployer key from stdin when --key-stdin is set,
// otherwise from the configured environment variable.
func (a *app) privateKey(cmd *cobra.Command, cfg *config.Config) (string, error) {
	if a.keyStdin {
		if a.stdinKey == "" {
			key, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Private key: ")
			if err != nil {
				return "", err
			}
			a.stdinKey = key
		}
		return a.stdinKey, nil
	}
	key, err := cfg.Deploy.PrivateKey()
	if err != nil {
		return "", errors.Join(err, errors.New("set the key in the environment, choose another variable with --private-key-env or pass --key-stdin"))
	}
	return key, nil
}

// readSecret reads one line without echo when in is a terminal, or plainly
// when input is piped.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read private key: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", errors.New("no private key on stdin")
	}
	return secret, nil
}
