package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"streamviewer/internal/logger"
	"streamviewer/internal/types"
)

// Image is one encoded capture.
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// FrameSource produces the frames the streamer broadcasts.
type FrameSource interface {
	Capture(ctx context.Context) (Image, error)
}

// InputSink executes input on the remote surface. Dispatch is only called
// for the lock holder while the agent is paused.
type InputSink interface {
	Dispatch(ctx context.Context, ev types.Outbound) error
}

// PatternSource draws a moving test pattern. JPEG is produced for the cdp
// mode and PNG for screenshot mode.
type PatternSource struct {
	Width, Height int
	Mode          string
	Quality       int

	tick atomic.Int64
}

func NewPatternSource(w, h int, mode string, quality int) *PatternSource {
	if w <= 0 || h <= 0 {
		w, h = 320, 180
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &PatternSource{Width: w, Height: h, Mode: mode, Quality: quality}
}

func (p *PatternSource) Capture(ctx context.Context) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	n := int(p.tick.Add(1))
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	bar := n * 4 % p.Width
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			c := color.RGBA{R: uint8(x * 255 / p.Width), G: uint8(y * 255 / p.Height), B: 96, A: 255}
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	out := Image{Width: p.Width, Height: p.Height}
	if p.Mode == types.ModeScreenshot {
		if err := png.Encode(&buf, img); err != nil {
			return out, errors.Wrap(err, "png encode")
		}
		out.MimeType = "image/png"
	} else {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.Quality}); err != nil {
			return out, errors.Wrap(err, "jpeg encode")
		}
		out.MimeType = "image/jpeg"
	}
	out.Data = buf.Bytes()
	return out, nil
}

// LogSink accepts every event and logs it.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Dispatch(_ context.Context, ev types.Outbound) error {
	logger.OrNop(s.Log).Info("input", zap.String("event", ev.Event()), zap.Any("payload", ev))
	return nil
}
