package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes attempts older than a retention window on an interval.
type Pruner struct {
	ledger    *Ledger
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPruner creates a pruner keeping retention worth of attempts, sweeping
// every interval.
func NewPruner(l *Ledger, retention, interval time.Duration, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{
		ledger:    l,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start prunes once immediately, then on every tick until ctx is cancelled
// or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	p.logger.Info("ledger pruner started",
		zap.Duration("retention", p.retention),
		zap.Duration("interval", p.interval),
	)
}

// Stop cancels the pruner and waits for the goroutine to finish. Start must
// have been called.
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
	p.logger.Info("ledger pruner stopped")
}

func (p *Pruner) run(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce removes attempts older than the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) int64 {
	n, err := p.ledger.Prune(ctx, p.now().Add(-p.retention))
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("prune attempts", zap.Error(err))
		}
		return 0
	}
	if n > 0 {
		p.logger.Info("pruned attempts", zap.Int64("removed", n))
	}
	return n
}
