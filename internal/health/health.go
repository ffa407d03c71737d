// Package health polls the remote's /healthz endpoint for the streaming
// mode and the frame sampler counters.
package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"streamviewer/internal/clock"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

const DefaultInterval = time.Second

// Poller fetches /healthz on an interval. Apply must run on the session
// loop; Run hands it over with post.
type Poller struct {
	url      string
	client   *http.Client
	view     *view.View
	clk      clock.Clock
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics

	lastSeen int
}

type Options struct {
	Client   *http.Client
	Clock    clock.Clock
	Interval time.Duration
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

func New(baseURL string, v *view.View, opts Options) *Poller {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Poller{
		url:      strings.TrimRight(baseURL, "/") + "/healthz",
		client:   opts.Client,
		view:     v,
		clk:      opts.Clock,
		interval: opts.Interval,
		log:      logger.OrNop(opts.Log),
		metrics:  metrics.Or(opts.Metrics),
	}
}

func (p *Poller) Poll(ctx context.Context) (types.Health, error) {
	var h types.Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return h, errors.WithStack(err)
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := p.client.Do(req)
	if err != nil {
		return h, errors.Wrap(err, "GET /healthz")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return h, errors.Errorf("GET /healthz failed (%d)", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, errors.Wrap(err, "decode /healthz")
	}
	return h, nil
}

// Apply shows h. The mode pill only changes for a known streaming mode and
// the sample pulse fires when the seen counter grew.
func (p *Poller) Apply(h types.Health) {
	switch h.StreamingMode {
	case types.ModeCDP, types.ModeScreenshot:
		p.view.Mode.Set("mode: "+h.StreamingMode, view.Muted)
	}
	seen, stored := h.SamplerTotals.Seen, h.SamplerTotals.Stored
	p.view.Samples.Set(strconv.Itoa(seen) + "/" + strconv.Itoa(stored))
	if seen > p.lastSeen {
		p.view.SamplePulse.Trigger(p.clk.Now())
	}
	p.lastSeen = seen
}

// Run polls immediately and then every interval until ctx is done. Failures
// are logged at debug level and otherwise ignored.
func (p *Poller) Run(ctx context.Context, post func(func())) {
	t := p.clk.NewTicker(p.interval)
	defer t.Stop()
	for {
		p.pollOnce(ctx, post)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, post func(func())) {
	pctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	h, err := p.Poll(pctx)
	if err != nil {
		if ctx.Err() == nil {
			p.metrics.HealthFailures.Inc()
			p.log.Debug("health poll failed", zap.Error(err))
		}
		return
	}
	post(func() { p.Apply(h) })
}
