package call

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startWatchdogLocked watches s for stalled inbound media. It is bound to s:
// a rebuilt session gets its own watchdog.
func (m *Machine) startWatchdogLocked(seq uint64, s Session) {
	ctx, cancel := context.WithCancel(context.Background())
	m.stopWatch = cancel
	interval, misses := m.opts.WatchdogInterval, m.opts.WatchdogMisses
	m.goTracked(func() { m.watch(ctx, seq, s, interval, misses) })
}

func (m *Machine) watch(ctx context.Context, seq uint64, s Session, interval time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.ReceivedBytes()
	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n := s.ReceivedBytes()
		if n > last {
			last, missed = n, 0
			continue
		}
		missed++
		m.logger.Debug("no inbound media", zap.Int("missed", missed), zap.Uint64("bytes", n))
		if missed >= limit {
			m.sessionDead(seq, "inbound media stalled")
			return
		}
	}
}

// sessionDead ends the call if seq is still the live session. The peer is not
// signalled; a partition would swallow the message anyway.
func (m *Machine) sessionDead(seq uint64, why string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.seq || m.state != Active {
		return
	}
	m.logger.Warn("media session lost", zap.String("why", why), zap.Int64("peer_id", int64(m.peer.ID)))
	m.teardownLocked(Ended, Disconnected, false)
}
