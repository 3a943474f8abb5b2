package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the canonical key for subsystem tags.
const SubsystemKey = pslog.TrustedString("sys")

// Ensure returns logger, or a disabled logger when logger is nil.
func Ensure(logger pslog.Logger) pslog.Logger {
	if logger == nil {
		return pslog.NoopLogger()
	}
	return logger
}

// WithSubsystem attaches a dot-delimited subsystem tag to every log entry.
// Empty fragments are skipped.
func WithSubsystem(logger pslog.Logger, parts ...string) pslog.Logger {
	logger = Ensure(logger)
	subsystem := join(parts)
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}

// WithSession tags logger with the session identifier.
func WithSession(logger pslog.Logger, sessionID uint64) pslog.Logger {
	return Ensure(logger).With("session_id", sessionID)
}

func join(parts []string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, ".")
}
