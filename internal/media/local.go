package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/parley/internal/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when a configured source cannot be opened.
var ErrUnavailable = errors.New("media source unavailable")

type frame struct {
	data []byte
	dur  time.Duration
}

var (
	// An Opus frame that decodes to 20ms of silence.
	silence    = frame{data: []byte{0xf8, 0xff, 0xfe}, dur: 20 * time.Millisecond}
	blankVideo = frame{data: make([]byte, 8), dur: 33 * time.Millisecond}
)

// Devices describes where local audio and video come from. Without a file
// the track carries a generated test signal.
type Devices struct {
	Video     bool
	Audio     bool
	VideoFile string // IVF, VP8
	AudioFile string // Ogg, Opus
	Logger    *zap.Logger
}

// Acquire opens the sources and starts feeding a fresh pair of tracks.
func (d Devices) Acquire() (*Local, error) {
	if !d.Video && !d.Audio {
		return nil, fmt.Errorf("%w: audio and video are both disabled", ErrUnavailable)
	}
	l := &Local{stop: make(chan struct{}), logger: logging.OrNop(d.Logger)}

	var videoFrames, audioFrames []frame
	if d.Video {
		frames, err := videoSource(d.VideoFile)
		if err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "parley")
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		l.video, videoFrames = track, frames
		l.videoOn.Store(true)
	}
	if d.Audio {
		frames, err := audioSource(d.AudioFile)
		if err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "parley")
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		l.audio, audioFrames = track, frames
		l.audioOn.Store(true)
	}

	if l.video != nil {
		l.live.Add(1)
		l.wg.Add(1)
		go l.pump(l.video, videoFrames, blankVideo, &l.videoOn)
	}
	if l.audio != nil {
		l.live.Add(1)
		l.wg.Add(1)
		go l.pump(l.audio, audioFrames, silence, &l.audioOn)
	}
	return l, nil
}

func videoSource(path string) ([]frame, error) {
	if path == "" {
		data := make([]byte, 160)
		for i := range data {
			data[i] = byte(i)
		}
		return []frame{{data: data, dur: 33 * time.Millisecond}}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read ivf header: %v", ErrUnavailable, err)
	}
	dur := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 {
		dur = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	var frames []frame
	for {
		data, _, err := r.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read ivf frame: %v", ErrUnavailable, err)
		}
		frames = append(frames, frame{data: data, dur: dur})
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", ErrUnavailable, path)
	}
	return frames, nil
}

func audioSource(path string) ([]frame, error) {
	if path == "" {
		return []frame{silence}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	r, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read ogg header: %v", ErrUnavailable, err)
	}
	var (
		frames  []frame
		granule uint64
	)
	for {
		data, header, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read ogg page: %v", ErrUnavailable, err)
		}
		samples := header.GranulePosition - granule
		granule = header.GranulePosition
		if samples == 0 || len(data) == 0 {
			continue
		}
		frames = append(frames, frame{data: data, dur: time.Duration(float64(samples) / 48000 * float64(time.Second))})
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no audio pages", ErrUnavailable, path)
	}
	return frames, nil
}

// Local is an acquired pair of outgoing tracks. Muting swaps the signal for
// blank frames so the transport keeps flowing.
type Local struct {
	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample

	videoOn atomic.Bool
	audioOn atomic.Bool
	live    atomic.Int32

	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

func (l *Local) pump(track *webrtc.TrackLocalStaticSample, frames []frame, blank frame, on *atomic.Bool) {
	defer l.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	i := 0
	for {
		select {
		case <-l.stop:
			return
		case <-timer.C:
		}
		f := blank
		if on.Load() {
			f = frames[i%len(frames)]
			i++
		}
		if err := track.WriteSample(media.Sample{Data: f.data, Duration: f.dur}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			l.logger.Debug("write sample", zap.String("kind", track.Kind().String()), zap.Error(err))
		}
		timer.Reset(f.dur)
	}
}

// Tracks returns the tracks to attach to a peer session.
func (l *Local) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if l.audio != nil {
		out = append(out, l.audio)
	}
	if l.video != nil {
		out = append(out, l.video)
	}
	return out
}

func (l *Local) SetVideo(on bool) { l.videoOn.Store(on) }
func (l *Local) SetAudio(on bool) { l.audioOn.Store(on) }

func (l *Local) VideoOn() bool { return l.video != nil && l.videoOn.Load() }
func (l *Local) AudioOn() bool { return l.audio != nil && l.audioOn.Load() }

// Live is the number of tracks not yet released.
func (l *Local) Live() int {
	return int(l.live.Load())
}

// Release stops every track and returns once they have stopped. Later calls
// do nothing.
func (l *Local) Release() {
	l.once.Do(func() {
		close(l.stop)
		l.wg.Wait()
		l.live.Store(0)
	})
}
