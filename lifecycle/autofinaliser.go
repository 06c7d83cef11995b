package lifecycle

import (
	"context"
	"time"

	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/sync"
)

const defaultAutoFinaliseInterval = time.Minute

type readyFinaliser interface {
	FinaliseReady(ctx context.Context) ([]*ledger.SettlementResult, error)
}

// AutoFinaliser periodically finalises the interactions past their expiry
type AutoFinaliser struct {
	logger    *log.Logger
	finaliser readyFinaliser
	interval  time.Duration
	rh        *sync.RetryHandler
}

// NewAutoFinaliser creates an AutoFinaliser driving c
func NewAutoFinaliser(logger *log.Logger, cfg AutoFinaliserConfig, c *Coordinator) *AutoFinaliser {
	return newAutoFinaliser(logger, cfg, c)
}

func newAutoFinaliser(logger *log.Logger, cfg AutoFinaliserConfig, finaliser readyFinaliser) *AutoFinaliser {
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = defaultAutoFinaliseInterval
	}
	return &AutoFinaliser{
		logger:    logger,
		finaliser: finaliser,
		interval:  interval,
		rh: &sync.RetryHandler{
			RetryAfterErrorPeriod:      cfg.RetryAfterErrorPeriod.Duration,
			MaxRetryAttemptsAfterError: cfg.MaxRetryAttemptsAfterError,
		},
	}
}

// Start runs until ctx is done or too many consecutive passes failed
func (a *AutoFinaliser) Start(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("auto finaliser stopped")
			return nil
		case <-ticker.C:
		}

		settled, err := a.finaliser.FinaliseReady(ctx)
		for _, res := range settled {
			a.logger.Infof("interaction %d finalised, outputs: %s %s, tx: %s",
				res.Nonce, res.OutputValueA, res.OutputValueB, res.TxHash.Hex())
		}
		if err != nil {
			attempts++
			a.logger.Errorf("error finalising ready interactions: %v", err)
			if errRetry := a.rh.Handle("auto finaliser", attempts); errRetry != nil {
				return errRetry
			}
			continue
		}
		attempts = 0
	}
}
