// Package daemon composes the client components into one fx application.
package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/attachment"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/media"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/profile"
	"github.com/matheus3301/parley/internal/relay"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string         // optional override for testing; empty = use default
	Config     *config.Config // optional; nil = load the config file
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAPI,
			provideSelf,
			provideChannel,
			providePresence,
			provideUploads,
			provideSynchronizer,
			provideMediaFactory,
			provideCallMachine,
			provideService,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(profile.ConfigPath()); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StatePath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPI(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.New(cfg.API.BaseURL, cfg.Token(), cfg.API.Timeout.Std(), logger)
}

// provideSelf asks the backend who the token belongs to.
func provideSelf(cfg *config.Config, client *api.Client, logger *zap.Logger) (domain.Contact, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout.Std())
	defer cancel()
	me, err := client.Me(ctx)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("identify user: %w", err)
	}
	logger.Info("signed in", zap.Int64("user_id", int64(me.ID)), zap.String("name", me.DisplayName))
	return me, nil
}

func provideChannel(cfg *config.Config, m *status.Machine, logger *zap.Logger) *relay.Channel {
	return relay.NewChannel(relay.Options{URL: cfg.Relay.URL, Token: cfg.Token()}, m, logger)
}

func providePresence(self domain.Contact, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(self.ID, b, logger)
}

func provideUploads(cfg *config.Config, client *api.Client, logger *zap.Logger) (*attachment.Pipeline, error) {
	var targets attachment.TargetProvider = client
	if cfg.Storage.Mode == "minio" {
		m, err := attachment.NewMinioTargets(attachment.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
			Expiry:    cfg.Storage.PresignExpiry.Std(),
		})
		if err != nil {
			return nil, err
		}
		targets = m
	}
	opts := attachment.DefaultOptions()
	opts.MaxFileSize = cfg.Attachments.MaxFileBytes()
	opts.MaxBatchFileSize = cfg.Attachments.MaxBatchFileBytes()
	opts.Concurrency = cfg.Attachments.UploadConcurrency
	prober := attachment.Prober{FFprobePath: cfg.Attachments.FFprobePath, Logger: logger}
	return attachment.New(targets, prober, opts, logger), nil
}

func provideSynchronizer(cfg *config.Config, self domain.Contact, client *api.Client, uploads *attachment.Pipeline, db *store.DB, b *bus.Bus, logger *zap.Logger) *chat.Synchronizer {
	opts := chat.Options{
		PageSize:        cfg.Chat.PageSize,
		BottomThreshold: cfg.Chat.BottomThreshold,
		DedupWindow:     cfg.Chat.DedupWindow,
	}
	return chat.New(self, client, uploads, db, b, opts, logger)
}

func provideMediaFactory(cfg *config.Config, logger *zap.Logger) (*media.Factory, error) {
	return media.NewFactory(media.Options{ICEServers: cfg.Call.ICEServers}, logger)
}

func provideCallMachine(cfg *config.Config, self domain.Contact, factory *media.Factory, sync *chat.Synchronizer, b *bus.Bus, logger *zap.Logger) *call.Machine {
	devices := call.PionDevices{Devices: media.Devices{
		Video:     cfg.Call.Video,
		Audio:     cfg.Call.Audio,
		VideoFile: cfg.Call.VideoFile,
		AudioFile: cfg.Call.AudioFile,
		Logger:    logger,
	}}
	opts := call.DefaultOptions()
	opts.WatchdogInterval = cfg.Call.WatchdogInterval.Std()
	opts.WatchdogMisses = cfg.Call.WatchdogMisses
	return call.New(self.ID, devices, call.PionSessions{Factory: factory}, sync, b, opts, logger)
}

func provideService(p Params, sync *chat.Synchronizer, calls *call.Machine, tracker *presence.Tracker, m *status.Machine, b *bus.Bus, logger *zap.Logger) *control.Service {
	return control.NewService(p.Profile, sync, calls, tracker, m, b, logger)
}

func provideServer(p Params, svc *control.Service, logger *zap.Logger) (*control.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}
	return control.NewServer(socketPath, svc, logger)
}
