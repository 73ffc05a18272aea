package attachment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TargetProvider hands out single-use upload URLs.
type TargetProvider interface {
	UploadURL(ctx context.Context, fileName string) (string, error)
}

// DimensionProber reads pixel dimensions of an image or video file.
type DimensionProber interface {
	Probe(ctx context.Context, path string) (width, height int, ok bool)
}

// Options sets the size policy and upload behaviour.
type Options struct {
	MaxFileSize      int64
	MaxBatchFileSize int64
	Concurrency      int
	Timeout          time.Duration
}

// DefaultOptions matches the 50 MB ceiling used for both single and batch sends.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:      50 << 20,
		MaxBatchFileSize: 50 << 20,
		Concurrency:      3,
		Timeout:          10 * time.Minute,
	}
}

// Pipeline uploads files straight to storage, never through the relay.
type Pipeline struct {
	targets TargetProvider
	prober  DimensionProber
	http    *resty.Client
	opts    Options
	logger  *zap.Logger
}

type contentLengthKey struct{}

// New builds a pipeline. prober may be nil to skip dimension probing.
func New(targets TargetProvider, prober DimensionProber, opts Options, logger *zap.Logger) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
			// Presigned PUTs reject chunked bodies.
			if n, ok := req.Context().Value(contentLengthKey{}).(int64); ok {
				req.ContentLength = n
			}
			return nil
		})
	return &Pipeline{
		targets: targets,
		prober:  prober,
		http:    rc,
		opts:    opts,
		logger:  logging.OrNop(logger),
	}
}

// Upload sends one file and returns its remote reference.
// progress, if set, receives 0..100 whenever the rounded percentage changes.
func (p *Pipeline) Upload(ctx context.Context, f File, progress func(int)) (domain.Attachment, error) {
	return p.upload(ctx, f, p.opts.MaxFileSize, progress)
}

func (p *Pipeline) upload(ctx context.Context, f File, limit int64, progress func(int)) (domain.Attachment, error) {
	if f.Size > limit {
		return domain.Attachment{}, &TooLargeError{Name: f.Name, Size: f.Size, Limit: limit}
	}
	if progress == nil {
		progress = func(int) {}
	}

	target, err := p.targets.UploadURL(ctx, f.Name)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("request upload target: %w", err)
	}
	ref, err := RemoteRef(target)
	if err != nil {
		return domain.Attachment{}, err
	}

	fh, err := os.Open(f.Path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = fh.Close() }()

	body := newProgressReader(fh, f.Size, progress)
	progress(0)
	resp, err := p.http.R().
		SetContext(context.WithValue(ctx, contentLengthKey{}, f.Size)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(body).
		Put(target)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("upload %s: %w", f.Name, err)
	}
	if resp.IsError() {
		return domain.Attachment{}, fmt.Errorf("upload %s: storage returned %d", f.Name, resp.StatusCode())
	}
	body.finish()

	att := domain.Attachment{FileName: f.Name, RemoteRef: ref}
	if p.prober != nil {
		if w, h, ok := p.prober.Probe(ctx, f.Path); ok {
			att.Width, att.Height = w, h
		}
	}
	p.logger.Info("attachment uploaded",
		zap.String("file", f.Name),
		zap.Int64("bytes", f.Size),
		zap.String("ref", ref))
	return att, nil
}

// Uploaded pairs a batch member with its remote reference.
type Uploaded struct {
	Index      int
	File       File
	Attachment domain.Attachment
}

// Failure records a batch member whose upload failed.
type Failure struct {
	Index int
	File  File
	Err   error
}

// BatchResult reports every member of a batch exactly once.
type BatchResult struct {
	Uploaded []Uploaded
	Failed   []Failure
	Skipped  []File
	Notice   string
}

// ErrNothingToUpload is returned when every batch member was over the ceiling.
var ErrNothingToUpload = errors.New("no attachment within the size limit")

// UploadBatch uploads the admissible members of files concurrently.
// Oversized members are skipped; a failing member does not stop the others.
// progress receives the index into files and the member's percentage.
func (p *Pipeline) UploadBatch(ctx context.Context, files []File, progress func(index, pct int)) (BatchResult, error) {
	adm := p.Admit(files, true)
	result := BatchResult{Skipped: adm.Skipped, Notice: adm.Notice}
	if len(adm.Accepted) == 0 {
		return result, ErrNothingToUpload
	}

	uploaded := make([]*Uploaded, len(files))
	failed := make([]*Failure, len(files))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, f := range files {
		if f.Size > p.opts.MaxBatchFileSize {
			continue
		}
		g.Go(func() error {
			att, err := p.upload(ctx, f, p.opts.MaxBatchFileSize, func(pct int) {
				if progress != nil {
					progress(i, pct)
				}
			})
			if err != nil {
				p.logger.Warn("batch member failed", zap.String("file", f.Name), zap.Error(err))
				failed[i] = &Failure{Index: i, File: f, Err: err}
				return nil
			}
			uploaded[i] = &Uploaded{Index: i, File: f, Attachment: att}
			return nil
		})
	}
	_ = g.Wait()

	for i := range files {
		if uploaded[i] != nil {
			result.Uploaded = append(result.Uploaded, *uploaded[i])
		}
		if failed[i] != nil {
			result.Failed = append(result.Failed, *failed[i])
		}
	}
	return result, nil
}
