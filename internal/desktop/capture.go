// Package desktop backs the dev remote with the local display: frames are
// captured with kbinani/screenshot and input is injected with robotgo.
package desktop

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/kbinani/screenshot"
	"github.com/pkg/errors"

	"streamviewer/internal/server"
	"streamviewer/internal/types"
)

type Options struct {
	Display int
	Quality int // 1-100
	Mode    string
}

// ScreenSource captures one display. Frames are JPEG in cdp mode and PNG
// in screenshot mode.
type ScreenSource struct {
	opts   Options
	bounds image.Rectangle
}

func NewScreenSource(opts Options) (*ScreenSource, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, errors.New("no active displays")
	}
	if opts.Display < 0 || opts.Display >= n {
		return nil, errors.Errorf("display %d out of range (0-%d)", opts.Display, n-1)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 80
	}
	return &ScreenSource{opts: opts, bounds: screenshot.GetDisplayBounds(opts.Display)}, nil
}

// Bounds is the captured display in virtual-screen coordinates.
func (s *ScreenSource) Bounds() image.Rectangle { return s.bounds }

func (s *ScreenSource) Capture(ctx context.Context) (server.Image, error) {
	if err := ctx.Err(); err != nil {
		return server.Image{}, err
	}
	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return server.Image{}, errors.Wrap(err, "capture")
	}
	return encode(img, s.opts.Mode, s.opts.Quality)
}

func encode(img image.Image, mode string, quality int) (server.Image, error) {
	buf := new(bytes.Buffer)
	b := img.Bounds()
	out := server.Image{Width: b.Dx(), Height: b.Dy()}
	if mode == types.ModeScreenshot {
		if err := png.Encode(buf, img); err != nil {
			return out, errors.Wrap(err, "png encode")
		}
		out.MimeType = "image/png"
	} else {
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return out, errors.Wrap(err, "jpeg encode")
		}
		out.MimeType = "image/jpeg"
	}
	out.Data = buf.Bytes()
	return out, nil
}
