package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/hyperspace"
	"pkt.systems/hyperspace/internal/failover"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/pslog"
)

const envPrefix = "HYPERSPACE"

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix(envPrefix+"_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "hyperspace")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

// cliConfig is everything the commands resolve from flags, environment and
// the optional config file.
type cliConfig struct {
	Session   hyperspace.Config
	Telemetry hyperspace.TelemetryConfig
	LogLevel  string
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "hyperspace",
		Short:         "hyperspace holds lock-service sessions open and reports their health",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Hold a session against a three-master cell and log handle events
  hyperspace session --master m1:7373,m2:7373,m3:7373 --watch-handle 1 --watch-handle 2

  # Same, plaintext HTTP and Prometheus metrics on :9464
  HYPERSPACE_MASTER=m1,m2 hyperspace session --insecure --metrics-listen :9464

  # Print the effective configuration as YAML
  hyperspace config --config ~/.hyperspace/config.yaml
`,
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file")
	persistentFlags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	persistentFlags.StringSliceP("master", "m", nil, "master endpoints (host[:port] or URL, comma separated or repeated)")
	persistentFlags.Bool("insecure", false, "use http:// for masters given without a scheme")
	persistentFlags.Bool("shuffle-masters", false, "randomise master rotation order")
	persistentFlags.Uint64("session-id", 0, "attach to an existing session instead of opening one")
	persistentFlags.String("client-id", "", "client identifier sent when opening a session (default hostname-xid)")
	persistentFlags.Duration("lease-interval", hyperspace.DefaultLeaseInterval, "requested session lease")
	persistentFlags.Duration("keepalive-interval", 0, "keepalive period (0 uses a third of the lease)")
	persistentFlags.Duration("grace-period", hyperspace.DefaultGracePeriod, "time in jeopardy before the session expires")
	persistentFlags.Duration("request-timeout", hyperspace.DefaultRequestTimeout, "timeout for a single request to a master")
	persistentFlags.Duration("failover-cooldown", hyperspace.DefaultFailoverCooldown, "how long a failed master is skipped")
	persistentFlags.String("metrics-listen", "", "Prometheus metrics listen address (empty disables)")
	persistentFlags.Bool("runtime-metrics", false, "add Go runtime metrics to the Prometheus endpoint")
	persistentFlags.String("otlp-endpoint", "", "OTLP collector endpoint for keepalive spans (e.g. grpc://localhost:4317)")

	names := []string{
		"config", "log-level",
		"master", "insecure", "shuffle-masters", "session-id", "client-id",
		"lease-interval", "keepalive-interval", "grace-period", "request-timeout", "failover-cooldown",
		"metrics-listen", "runtime-metrics", "otlp-endpoint",
	}
	for _, name := range names {
		if err := v.BindPFlag(name, persistentFlags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	resolve := func() (cliConfig, pslog.Logger, error) {
		logger := baseLogger
		configFile, err := loadConfigFile(v)
		if err != nil {
			return cliConfig{}, nil, err
		}
		cfg, err := bindConfig(v)
		if err != nil {
			return cliConfig{}, nil, err
		}
		if level, ok := pslog.ParseLevel(cfg.LogLevel); ok {
			logger = logger.LogLevel(level)
		}
		if configFile != "" {
			svcfields.WithSubsystem(logger, "cli.config").Info("cli.config.loaded", "path", configFile)
		}
		return cfg, logger, nil
	}

	cmd.AddCommand(newSessionCommand(resolve))
	cmd.AddCommand(newConfigCommand(resolve))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

type resolveFunc func() (cliConfig, pslog.Logger, error)

func bindConfig(v *viper.Viper) (cliConfig, error) {
	insecure := v.GetBool("insecure")
	masters, err := failover.ParseEndpoints(strings.Join(v.GetStringSlice("master"), ","), insecure)
	if err != nil {
		return cliConfig{}, fmt.Errorf("%w: %w", hyperspace.ErrInvalidConfig, err)
	}
	cfg := cliConfig{
		Session: hyperspace.Config{
			Masters:           masters,
			Insecure:          insecure,
			ShuffleMasters:    v.GetBool("shuffle-masters"),
			SessionID:         v.GetUint64("session-id"),
			ClientID:          v.GetString("client-id"),
			LeaseInterval:     v.GetDuration("lease-interval"),
			KeepaliveInterval: v.GetDuration("keepalive-interval"),
			GracePeriod:       v.GetDuration("grace-period"),
			RequestTimeout:    v.GetDuration("request-timeout"),
			FailoverCooldown:  v.GetDuration("failover-cooldown"),
		},
		Telemetry: hyperspace.TelemetryConfig{
			OTLPEndpoint:   v.GetString("otlp-endpoint"),
			MetricsListen:  v.GetString("metrics-listen"),
			RuntimeMetrics: v.GetBool("runtime-metrics"),
		},
		LogLevel: strings.TrimSpace(v.GetString("log-level")),
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Session.Validate(); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
