package recorder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/gridfill/internal/controller"
	"github.com/v0xg/gridfill/internal/executor"
	"github.com/v0xg/gridfill/internal/grid"
)

type fakeCapturer struct {
	err   error
	calls int
}

func (f *fakeCapturer) Capture(context.Context) (image.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img, nil
}

func TestActionAppliedOutlinesControl(t *testing.T) {
	tests := []struct {
		outcome executor.Outcome
		want    color.RGBA
	}{
		{executor.Selected, outcomeColor(executor.Selected)},
		{executor.FallbackUsed, outcomeColor(executor.FallbackUsed)},
		{executor.Failed, outcomeColor(executor.Failed)},
	}
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			r := New(&fakeCapturer{}, Options{}, zaptest.NewLogger(t))
			r.ActionApplied(context.Background(), controller.ActionEvent{
				Row:     3,
				Bounds:  grid.Rect{X: 10, Y: 20, Width: 50, Height: 20},
				Outcome: tt.outcome,
			})

			require.Len(t, r.frames, 1)
			frame := r.frames[0].(*image.RGBA)
			assert.Equal(t, tt.want, frame.RGBAAt(10, 20), "top left corner")
			assert.Equal(t, tt.want, frame.RGBAAt(59, 39), "bottom right corner")
			assert.Equal(t, tt.want, frame.RGBAAt(9, 19), "outer outline")
			assert.Equal(t, color.RGBA{255, 255, 255, 255}, frame.RGBAAt(30, 30), "inside untouched")
		})
	}
}

func TestActionAppliedCaptureError(t *testing.T) {
	c := &fakeCapturer{err: errors.New("target closed")}
	r := New(c, Options{}, zaptest.NewLogger(t))
	r.ActionApplied(context.Background(), controller.ActionEvent{Row: 1})
	assert.Equal(t, 1, c.calls)
	assert.Empty(t, r.frames)
}

func TestSessionEndedWritesGIF(t *testing.T) {
	dir := t.TempDir()
	r := New(&fakeCapturer{}, Options{
		Output:     filepath.Join(dir, "{session}.gif"),
		FrameDelay: 40,
		MaxWidth:   100,
	}, zaptest.NewLogger(t))
	assert.Nil(t, r.Last())

	for i := 0; i < 3; i++ {
		r.ActionApplied(context.Background(), controller.ActionEvent{
			Row:     i,
			Bounds:  grid.Rect{X: 5, Y: float64(5 + 20*i), Width: 80, Height: 18},
			Outcome: executor.Selected,
		})
	}
	r.SessionEnded(controller.Result{SessionID: "abc", Reason: controller.Completed})

	rec := r.Last()
	require.NotNil(t, rec)
	require.NoError(t, rec.Err)
	assert.Equal(t, filepath.Join(dir, "abc.gif"), rec.Path)
	assert.Equal(t, 3, rec.Frames)
	assert.Positive(t, rec.Size)

	f, err := os.Open(rec.Path)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	require.Len(t, g.Image, 3)
	assert.Equal(t, []int{40, 40, holdDelay}, g.Delay)
	assert.Equal(t, 100, g.Image[0].Bounds().Dx())
	assert.Equal(t, 50, g.Image[0].Bounds().Dy())

	assert.Empty(t, r.frames, "frames are reset for the next session")
}

func TestSessionEndedWithoutFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.gif")
	r := New(&fakeCapturer{}, Options{Output: path}, zaptest.NewLogger(t))
	r.SessionEnded(controller.Result{SessionID: "s", Reason: controller.Fatal})

	rec := r.Last()
	require.NotNil(t, rec)
	assert.Zero(t, rec.Frames)
	assert.NoFileExists(t, path)
}

func TestGeneratePalette(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{10, 20, 30, 255}), image.Point{}, draw.Src)

	p := generatePalette(img)
	assert.Len(t, p, 256)
	assert.Equal(t, color.RGBA{0, 0, 0, 0}, p[0])
	assert.Equal(t, outcomeColor(executor.Selected), p[1])
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, p[4])
}
