// Package media wraps pion/webrtc into the single peer session a call needs,
// plus the local audio and video tracks fed into it.
package media

import (
	"fmt"

	"github.com/matheus3301/parley/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Options configures every session built by a Factory.
type Options struct {
	ICEServers []string
	// Loopback gathers candidates on the loopback interface, for same-host
	// peers and tests.
	Loopback bool
}

// Factory builds peer sessions sharing one codec and interceptor setup.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.Logger
}

// NewFactory registers the default codecs and interceptors (NACK, RTCP
// reports, TWCC) and returns a factory.
func NewFactory(opts Options, logger *zap.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(opts.Loopback)

	var config webrtc.Configuration
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: config,
		logger: logging.OrNop(logger),
	}, nil
}
