// Package recorder turns an automation session into an animated GIF: one screenshot per
// action, with the touched control outlined in a colour that reflects the outcome.
package recorder

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/controller"
	"github.com/v0xg/gridfill/internal/executor"
)

// holdDelay keeps the last frame on screen for a second before the loop restarts.
const holdDelay = 100

// Capturer takes a screenshot of the page the session runs on.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Options configures GIF output
type Options struct {
	// Output is the file to write. "{session}" is replaced by the session id.
	Output string
	// FrameDelay is the time each frame stays on screen, in 100ths of a second.
	FrameDelay int
	// MaxWidth scales wider frames down. Zero keeps the captured size.
	MaxWidth uint
}

// Recording describes a written GIF.
type Recording struct {
	SessionID string
	Path      string
	Frames    int
	Size      int64
	Err       error
}

// Recorder is a controller.Observer that records the frames of every session.
type Recorder struct {
	capturer Capturer
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	frames []image.Image
	last   *Recording
}

var _ controller.Observer = (*Recorder)(nil)

// New creates a Recorder
func New(c Capturer, opts Options, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = 60
	}
	return &Recorder{capturer: c, opts: opts, logger: logger.Named("recorder")}
}

// ActionApplied captures the page and outlines the control the action touched.
func (r *Recorder) ActionApplied(ctx context.Context, ev controller.ActionEvent) {
	img, err := r.capturer.Capture(ctx)
	if err != nil {
		r.logger.Warn("frame capture failed", zap.Int("row", ev.Row), zap.Error(err))
		return
	}

	frame := image.NewRGBA(img.Bounds())
	draw.Draw(frame, frame.Bounds(), img, img.Bounds().Min, draw.Src)
	if ev.Bounds.Width > 0 && ev.Bounds.Height > 0 {
		c := outcomeColor(ev.Outcome)
		x0, y0 := int(ev.Bounds.X), int(ev.Bounds.Y)
		x1, y1 := int(ev.Bounds.X+ev.Bounds.Width)-1, int(ev.Bounds.Y+ev.Bounds.Height)-1
		drawRect(frame, x0, y0, x1, y1, c)
		drawRect(frame, x0-1, y0-1, x1+1, y1+1, c)
		if ev.Outcome == executor.FallbackUsed {
			center := ev.Bounds.Center()
			drawRipple(frame, int(center.X), int(center.Y), c)
		}
	}

	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
}

// SessionEnded writes the frames collected since the session started.
func (r *Recorder) SessionEnded(res controller.Result) {
	r.mu.Lock()
	frames := r.frames
	r.frames = nil
	r.mu.Unlock()

	rec := Recording{
		SessionID: res.SessionID,
		Path:      strings.ReplaceAll(r.opts.Output, "{session}", res.SessionID),
		Frames:    len(frames),
	}
	if len(frames) == 0 {
		r.logger.Info("no frames captured, nothing to write", zap.String("session", res.SessionID))
	} else {
		rec.Size, rec.Err = r.write(rec.Path, frames)
		if rec.Err != nil {
			r.logger.Error("writing recording", zap.String("path", rec.Path), zap.Error(rec.Err))
		} else {
			r.logger.Info("recording saved",
				zap.String("path", rec.Path),
				zap.Int("frames", rec.Frames),
				zap.Float64("mb", float64(rec.Size)/(1024*1024)))
		}
	}

	r.mu.Lock()
	r.last = &rec
	r.mu.Unlock()
}

// Last returns the most recent recording, or nil before any session ended.
func (r *Recorder) Last() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	rec := *r.last
	return &rec
}

func (r *Recorder) write(path string, frames []image.Image) (int64, error) {
	g := encode(frames, r.opts.FrameDelay, r.opts.MaxWidth)

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := gif.EncodeAll(f, g); err != nil {
		return 0, fmt.Errorf("encoding gif: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func outcomeColor(o executor.Outcome) color.RGBA {
	switch o {
	case executor.Selected:
		return color.RGBA{52, 168, 83, 255}
	case executor.FallbackUsed:
		return color.RGBA{251, 188, 4, 255}
	default:
		return color.RGBA{234, 67, 53, 255}
	}
}
