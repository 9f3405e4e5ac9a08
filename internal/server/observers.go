package server

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/rs/zerolog"
)

// AnnounceConnectionCount tells every live connection how many connections
// are open after each change.
func AnnounceConnectionCount(registry *Registry) Observer {
	return func(ev RegistryEvent) {
		frame := []byte(connectionCountNotice(ev.TotalConnections))
		for _, c := range registry.AllConnections() {
			c.Send(frame)
		}
	}
}

// CountConnections keeps the active connection gauge in step with the registry.
func CountConnections(su stats.StatsProvider) Observer {
	return func(ev RegistryEvent) {
		switch ev.Kind {
		case ConnectionAdded:
			su.Incr(stats.NumActiveConnections)
		case ConnectionRemoved:
			su.Decr(stats.NumActiveConnections)
		}
	}
}

// PresenceMirror publishes per-identity connection counts outside the process.
type PresenceMirror interface {
	Update(ctx context.Context, identity string, connections int) error
}

const mirrorTimeout = 2 * time.Second

// MirrorPresence forwards registry changes to m. Failures are logged only.
func MirrorPresence(m PresenceMirror, logger zerolog.Logger) Observer {
	log := logger.With().Str("component", "presence-mirror").Logger()
	return func(ev RegistryEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()

		if err := m.Update(ctx, ev.Identity, ev.IdentityConnections); err != nil {
			log.Warn().Err(err).Str("identity", ev.Identity).Msg("failed to mirror presence")
		}
	}
}
