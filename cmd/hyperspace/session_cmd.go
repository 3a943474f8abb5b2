package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/hyperspace"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/pslog"
)

var errSessionExpired = errors.New("session expired")

func newSessionCommand(resolve resolveFunc) *cobra.Command {
	var (
		watchHandles   []string
		statusInterval time.Duration
		hold           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open a session, keep it alive and log its health and handle events",
		Long: `Opens (or attaches to) a session and keeps it alive until interrupted.
Session transitions are logged as they happen; events for the handles given
with --watch-handle are logged as they are delivered. The command exits
non-zero when the session expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := resolve()
			if err != nil {
				return err
			}
			handles, err := parseHandleIDs(watchHandles)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if hold > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, hold)
				defer cancel()
			}
			return runSession(ctx, cmd.OutOrStdout(), cfg, logger, handles, statusInterval)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&watchHandles, "watch-handle", nil, "handle id whose events are logged (repeatable)")
	flags.DurationVar(&statusInterval, "status-interval", 10*time.Second, "print a status line at this interval (0 disables)")
	flags.DurationVar(&hold, "hold", 0, "close the session after this long (0 holds until interrupted)")
	return cmd
}

func runSession(ctx context.Context, out io.Writer, cfg cliConfig, logger pslog.Logger, watch []uint64, statusInterval time.Duration) error {
	telemetry, err := hyperspace.SetupTelemetry(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	cliLogger := svcfields.WithSubsystem(logger, "cli.session")
	callback := hyperspace.SessionCallbackFuncs{
		OnJeopardy:    func() { cliLogger.Warn("cli.session.jeopardy") },
		OnReconnected: func() { cliLogger.Info("cli.session.reconnected") },
		OnSafe:        func() { cliLogger.Info("cli.session.safe") },
		OnExpired:     func() { cliLogger.Error("cli.session.expired") },
	}
	sess, err := hyperspace.Open(ctx, cfg.Session, callback, hyperspace.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, id := range watch {
		handleLogger := cliLogger.With("handle_id", id)
		err := sess.RegisterHandle(id, hyperspace.HandleCallbackFuncs{
			OnEvent: func(ev hyperspace.HandleEvent) {
				handleLogger.Info("cli.session.handle_event", "event_seq", ev.Seq, "kind", ev.Kind.String(), "name", ev.Name, "payload_bytes", len(ev.Payload))
			},
			OnInvalidated: func() { handleLogger.Warn("cli.session.handle_invalidated") },
		})
		if err != nil {
			return err
		}
	}

	info := sess.Info()
	fmt.Fprintf(out, "session %d open on %s (lease %s, keepalive %s, grace %s)\n",
		info.SessionID, info.Master, info.LeaseInterval, info.KeepaliveInterval, info.GracePeriod)

	var ticks <-chan time.Time
	if statusInterval > 0 {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	expired := make(chan struct{})
	go func() {
		if status, _ := sess.Wait(ctx, hyperspace.StatusExpired, hyperspace.StatusClosed); status == hyperspace.StatusExpired {
			close(expired)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, statusLine(sess.Info()))
			return nil
		case <-expired:
			fmt.Fprintln(out, statusLine(sess.Info()))
			return errSessionExpired
		case <-ticks:
			fmt.Fprintln(out, statusLine(sess.Info()))
		}
	}
}

func parseHandleIDs(raw []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(raw))
	seen := make(map[uint64]struct{}, len(raw))
	for _, entry := range raw {
		id, err := strconv.ParseUint(strings.TrimSpace(entry), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse --watch-handle %q: %w", entry, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func statusLine(info hyperspace.Info) string {
	line := fmt.Sprintf("session %d %s master=%s last_event=%d handles=%d",
		info.SessionID, info.Status, info.Master, info.LastKnownEvent, info.Handles)
	if !info.Status.Terminal() {
		line += fmt.Sprintf(" renewed %s, expires %s", humanize.Time(info.LastRenewal), humanize.Time(info.ExpireDeadline))
	}
	return line
}
