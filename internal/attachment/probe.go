package attachment

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/matheus3301/parley/internal/logging"
	"go.uber.org/zap"
)

// Kind is the broad media class of a file.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

var (
	imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
	videoTypes = []string{"video/mp4", "video/webm", "video/ogg", "video/quicktime"}
)

// KindOf sniffs the file content at path.
func KindOf(path string) (Kind, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return KindFile, fmt.Errorf("detect type: %w", err)
	}
	return kindOfMIME(mt), nil
}

func kindOfMIME(mt *mimetype.MIME) Kind {
	for m := mt; m != nil; m = m.Parent() {
		for _, t := range imageTypes {
			if m.Is(t) {
				return KindImage
			}
		}
		for _, t := range videoTypes {
			if m.Is(t) {
				return KindVideo
			}
		}
	}
	return KindFile
}

// Prober reads dimensions from images directly and from videos via ffprobe.
type Prober struct {
	// FFprobePath enables video probing when set.
	FFprobePath string
	Logger      *zap.Logger
}

// Probe reports the display dimensions of an image or video. ok is false for
// other files or when the file cannot be decoded.
func (p Prober) Probe(ctx context.Context, path string) (int, int, bool) {
	logger := logging.OrNop(p.Logger)
	kind, err := KindOf(path)
	if err != nil {
		logger.Debug("probe skipped", zap.String("path", path), zap.Error(err))
		return 0, 0, false
	}

	switch kind {
	case KindImage:
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			logger.Debug("image decode failed", zap.String("path", path), zap.Error(err))
			return 0, 0, false
		}
		b := img.Bounds()
		return b.Dx(), b.Dy(), true
	case KindVideo:
		if p.FFprobePath == "" {
			return 0, 0, false
		}
		w, h, err := p.videoSize(ctx, path)
		if err != nil {
			logger.Debug("ffprobe failed", zap.String("path", path), zap.Error(err))
			return 0, 0, false
		}
		return w, h, true
	}
	return 0, 0, false
}

func (p Prober) videoSize(ctx context.Context, path string) (int, int, error) {
	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("run ffprobe: %w", err)
	}
	return parseSize(strings.TrimSpace(string(out)))
}

func parseSize(s string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("parse size %q: non-positive dimension", s)
	}
	return w, h, nil
}
