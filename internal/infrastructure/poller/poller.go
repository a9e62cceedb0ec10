package poller

import (
	"context"
	"log/slog"
	"time"
)

// Job is one sweep of a background loop; it returns how many items it
// handled.
type Job interface {
	RunOnce(ctx context.Context) (int, error)
}

type Poller struct {
	name     string
	job      Job
	interval time.Duration
	log      *slog.Logger
}

func New(name string, job Job, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{name: name, job: job, interval: interval, log: log}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.sweep(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped", "poller", p.name)
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	n, err := p.job.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("poller sweep failed", "poller", p.name, "err", err)
		}
		return
	}
	if n > 0 {
		p.log.Info("poller sweep processed items", "poller", p.name, "count", n)
	}
}
