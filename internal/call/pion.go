package call

import "github.com/matheus3301/parley/internal/media"

// PionSessions builds sessions with a media.Factory.
type PionSessions struct {
	Factory *media.Factory
}

func (p PionSessions) NewSession(local LocalMedia, h Hooks) (Session, error) {
	l, _ := local.(*media.Local)
	s, err := p.Factory.NewSession(l, media.Hooks{
		OnCandidate:   h.OnCandidate,
		OnRemoteTrack: h.OnRemoteTrack,
		OnFailed:      h.OnFailed,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PionDevices acquires tracks from media.Devices.
type PionDevices struct {
	Devices media.Devices
}

func (p PionDevices) Acquire() (LocalMedia, error) {
	l, err := p.Devices.Acquire()
	if err != nil {
		return nil, err
	}
	return l, nil
}
