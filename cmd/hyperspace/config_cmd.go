package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type configView struct {
	Masters           []string `yaml:"master"`
	Insecure          bool     `yaml:"insecure"`
	ShuffleMasters    bool     `yaml:"shuffle-masters"`
	SessionID         uint64   `yaml:"session-id,omitempty"`
	ClientID          string   `yaml:"client-id"`
	LeaseInterval     string   `yaml:"lease-interval"`
	KeepaliveInterval string   `yaml:"keepalive-interval"`
	GracePeriod       string   `yaml:"grace-period"`
	RequestTimeout    string   `yaml:"request-timeout"`
	FailoverCooldown  string   `yaml:"failover-cooldown"`
	MetricsListen     string   `yaml:"metrics-listen,omitempty"`
	RuntimeMetrics    bool     `yaml:"runtime-metrics,omitempty"`
	OTLPEndpoint      string   `yaml:"otlp-endpoint,omitempty"`
	LogLevel          string   `yaml:"log-level"`
}

func newConfigCommand(resolve resolveFunc) *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolve()
			if err != nil {
				return err
			}
			data, err := effectiveConfigYAML(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(data); err != nil {
				return err
			}
			if explain {
				_, err = fmt.Fprintln(out, explainTimeline(cfg))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "describe the resulting keepalive and expiry timeline")
	return cmd
}

func effectiveConfigYAML(cfg cliConfig) ([]byte, error) {
	s := cfg.Session
	view := configView{
		Masters:           s.Masters,
		Insecure:          s.Insecure,
		ShuffleMasters:    s.ShuffleMasters,
		SessionID:         s.SessionID,
		ClientID:          s.ClientID,
		LeaseInterval:     s.LeaseInterval.String(),
		KeepaliveInterval: s.EffectiveKeepaliveInterval().String(),
		GracePeriod:       s.GracePeriod.String(),
		RequestTimeout:    s.RequestTimeout.String(),
		FailoverCooldown:  s.FailoverCooldown.String(),
		MetricsListen:     cfg.Telemetry.MetricsListen,
		RuntimeMetrics:    cfg.Telemetry.RuntimeMetrics,
		OTLPEndpoint:      cfg.Telemetry.OTLPEndpoint,
		LogLevel:          cfg.LogLevel,
	}
	data, err := yaml.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// explainTimeline spells out when a silent session goes into jeopardy and
// expires, relative to its last renewal.
func explainTimeline(cfg cliConfig) string {
	s := cfg.Session
	keepalives := int(s.LeaseInterval / s.EffectiveKeepaliveInterval())
	base := time.Now()
	return fmt.Sprintf("# %s keepalive(s) per lease; a silent session enters jeopardy %s and expires %s",
		humanize.Comma(int64(keepalives)),
		humanize.RelTime(base, base.Add(s.LeaseInterval), "after the last renewal", ""),
		humanize.RelTime(base, base.Add(s.LeaseInterval+s.GracePeriod), "after the last renewal", ""),
	)
}
