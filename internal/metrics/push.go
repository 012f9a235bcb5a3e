package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

type PushConfig struct {
	URL      string
	Job      string
	Instance string // grouping label, normally the run id
	User     string
	Pass     string
	Timeout  time.Duration
}

// GatewayPusher replaces the metric families of one job/instance group on a
// Prometheus push gateway each time Push is called.
type GatewayPusher struct {
	pusher *push.Pusher
	url    string
}

func NewGatewayPusher(cfg PushConfig, collectors ...prometheus.Collector) *GatewayPusher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := push.New(cfg.URL, cfg.Job).
		Client(&http.Client{Timeout: timeout}).
		Grouping("instance", cfg.Instance)
	for _, c := range collectors {
		p = p.Collector(c)
	}
	if cfg.User != "" {
		p = p.BasicAuth(cfg.User, cfg.Pass)
	}
	return &GatewayPusher{pusher: p, url: cfg.URL}
}

func (g *GatewayPusher) Push(ctx context.Context) error {
	if err := g.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push to %s: %w", g.url, err)
	}
	return nil
}
