package reservation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the background sweep looks for expired
// reservations.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically runs CleanupExpired so abandoned quotes release their
// inventory without operator help.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewSweeper(svc *Service, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.run()
}

func (sw *Sweeper) run() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := sw.svc.CleanupExpired(ctx); err != nil {
				sw.logger.Warn("expiry sweep run failed", zap.Error(err))
			}
			cancel()
		case <-sw.stopChan:
			return
		}
	}
}

func (sw *Sweeper) Stop() {
	sw.once.Do(func() {
		close(sw.stopChan)
	})
	sw.wg.Wait()
}
