package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/relay"
	"github.com/matheus3301/parley/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type lifecycleParams struct {
	fx.In

	Server   *control.Server
	Service  *control.Service
	Lock     *lock.Lock
	DB       *store.DB
	Channel  *relay.Channel
	Presence *presence.Tracker
	Chat     *chat.Synchronizer
	Calls    *call.Machine
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc
	)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			// Subscribers first, so nothing the relay sends after connecting is missed.
			p.Presence.Start(p.Channel)
			p.Chat.Start(p.Channel)
			p.Calls.Start(p.Channel)

			go func() {
				if err := p.Server.Start(); err != nil {
					p.Logger.Error("control server error", zap.Error(err))
				}
			}()

			wg.Add(2)
			go func() {
				defer wg.Done()
				loadState(ctx, p.Chat, p.Logger)
			}()
			go func() {
				defer wg.Done()
				if err := connectRelay(ctx, p.Channel, p.Logger); err != nil && ctx.Err() == nil {
					p.Logger.Error("relay connect abandoned", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			p.Service.Close()
			p.Server.Stop(ctx)
			p.Calls.Stop()
			p.Chat.Stop()
			p.Presence.Stop()
			if err := p.Channel.Close(); err != nil {
				p.Logger.Warn("error closing relay", zap.Error(err))
			}
			wg.Wait()
			if err := p.DB.Close(); err != nil {
				p.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				p.Logger.Warn("error releasing lock", zap.Error(err))
			}
			p.Logger.Info("daemon stopped")
			return nil
		},
	})
}

// loadState seeds conversations and contacts, then reopens the last
// conversation. Failures are logged; the daemon keeps running without them.
func loadState(ctx context.Context, s *chat.Synchronizer, logger *zap.Logger) {
	if err := s.LoadConversations(ctx); err != nil {
		logger.Warn("load conversations failed", zap.Error(err))
	}
	if err := s.LoadContacts(ctx); err != nil {
		logger.Warn("load contacts failed", zap.Error(err))
	}
	if ok, err := s.RestoreLastOpened(ctx); err != nil {
		logger.Warn("restore last conversation failed", zap.Error(err))
	} else if ok {
		logger.Info("last conversation restored")
	}
}

// connectRelay makes the first connection, retrying until it succeeds or ctx
// ends. After that the channel redials on its own.
func connectRelay(ctx context.Context, ch *relay.Channel, logger *zap.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		err := ch.Connect(ctx)
		if errors.Is(err, relay.ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("relay connect failed", zap.Error(err), zap.Duration("next_in", next))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}
