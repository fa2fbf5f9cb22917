package cli

import (
	"context"
	"errors"
	"log/slog"

	"contract-deployer/internal/api"
	"contract-deployer/internal/auth"
	"contract-deployer/internal/deployer"
	"contract-deployer/internal/observability/metrics"
	"contract-deployer/pkg/logger"

	"github.com/spf13/cobra"
)

func createServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the deployment HTTP API",
		Long: `Serve POST /api/v1/deployments, GET /api/v1/chains, /healthz and, when metrics are
enabled, /metrics. The private key is read from the environment on every request,
or once at startup with --key-stdin.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			reg, err := a.registry(cfg)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			authSvc, err := auth.NewService(cfg.Auth)
			if err != nil {
				return err
			}

			keys := cfg.Deploy.PrivateKey
			if a.keyStdin {
				key, err := a.privateKey(cmd, cfg)
				if err != nil {
					return err
				}
				keys = func() (string, error) { return key, nil }
			}

			var recorder *metrics.Recorder
			serverOpts := []api.Option{api.WithAuth(authSvc)}
			if rl := cfg.Server.RateLimit; rl.Enabled {
				serverOpts = append(serverOpts, api.WithRateLimit(rl.RequestsPerMin, rl.BurstSize))
			}
			var deployerOpts []deployer.Option
			if cfg.Metrics.Enabled {
				recorder = metrics.NewRecorder()
				serverOpts = append(serverOpts, api.WithMetrics(recorder))
				deployerOpts = append(deployerOpts, deployer.WithMetrics(recorder))
			}

			server := api.NewServer(cfg.Server.Address, a.deployer(cfg, deployerOpts...), reg, keys, serverOpts...)
			logger.L().Info("部署服务启动",
				slog.String("addr", cfg.Server.Address),
				slog.String("default_chain", reg.DefaultChain()),
				slog.Bool("metrics", cfg.Metrics.Enabled),
				slog.String("auth", string(authSvc.Mode())),
				slog.Bool("rate_limit", cfg.Server.RateLimit.Enabled),
			)

			if err := server.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.L().Info("部署服务已停止")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.address")

	return cmd
}
