package server

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"streamviewer/internal/types"
)

// StartStreamer launches a ticker-based loop that captures frames and
// broadcasts them on the stream namespace. It stops when ctx is done.
func (s *Server) StartStreamer(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	fps := s.opts.Config.FPS
	if fps <= 0 {
		fps = 10
	}
	ticker := s.clk.NewTicker(time.Second / time.Duration(fps))

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.emitFrame(ctx); err != nil {
					s.log.Warn("capture error", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// emitFrame captures once and broadcasts the result in the configured
// streaming mode.
func (s *Server) emitFrame(ctx context.Context) error {
	start := s.clk.Now()
	img, err := s.opts.Source.Capture(ctx)
	if err != nil {
		return err
	}
	now := s.clk.Now()
	ts := float64(now.UnixNano()) / 1e9
	data := base64.StdEncoding.EncodeToString(img.Data)

	s.seq++
	seq := s.seq
	latency := float64(now.Sub(start).Microseconds()) / 1000

	var (
		event string
		msg   any
	)
	if s.opts.Config.Mode == types.ModeScreenshot {
		event = types.EventBrowserUpdate
		msg = types.BrowserUpdate{
			SessionID:   s.sessionID,
			Timestamp:   ts,
			MimeType:    img.MimeType,
			ImageBase64: data,
		}
	} else {
		event = types.EventFrame
		msg = types.Frame{Seq: seq, DataBase64: data, LatencyMS: latency, Timestamp: ts}
	}

	n, err := s.clients.Broadcast(s.opts.StreamNamespace, event, msg)
	if err != nil {
		return err
	}
	s.stats.FrameEmitted(seq, latency, s.opts.Config.SampleEvery)
	s.m.FramesEmitted.WithLabelValues(event).Inc()
	s.log.Debug("frame emitted", zap.String("event", event), zap.Int("seq", seq), zap.Int("receivers", n))
	return nil
}
