package gift

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opnode-live/opnode/internal/lightning"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/store"
)

// Reconciler resolves gifts stuck pending past a timeout by re-querying the
// payment's final state on the network. It repairs the partial-state window
// between the send and the finalize writes.
type Reconciler struct {
	store   store.Store
	sdk     lightning.SDK
	metrics *Metrics
	logger  *logging.Logger
	timeout time.Duration
	cron    *cron.Cron
}

// NewReconciler creates a reconciler. Gifts pending longer than timeout are
// candidates for resolution.
func NewReconciler(st store.Store, sdk lightning.SDK, metrics *Metrics, logger *logging.Logger, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Reconciler{
		store:   st,
		sdk:     sdk,
		metrics: metrics,
		logger:  logger,
		timeout: timeout,
	}
}

// Start schedules reconciliation at the given interval until Stop.
func (r *Reconciler) Start(interval time.Duration) error {
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := r.Run(ctx); err != nil {
			r.logger.Error(ctx, "gift reconciliation run failed", err, nil)
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
}

// Run performs one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-r.timeout)
	stuck, err := r.store.ListPendingGiftsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stuck gifts: %w", err)
	}

	for _, g := range stuck {
		if err := r.resolve(ctx, g); err != nil {
			r.logger.Error(ctx, "resolve stuck gift failed", err, map[string]any{
				"gift_id": g.ID,
			})
		}
	}
	return nil
}

func (r *Reconciler) resolve(ctx context.Context, g *model.Gift) error {
	if g.PaymentHash == "" {
		// Never reached the network; nothing was paid.
		r.metrics.ObserveReconciled("failed")
		return r.store.UpdateGiftStatus(ctx, g.ID, model.GiftFailed, "")
	}

	state, err := r.sdk.PaymentStatus(ctx, g.PaymentHash)
	if err != nil {
		return fmt.Errorf("payment status for %s: %w", g.PaymentHash, err)
	}

	switch state {
	case lightning.PaymentStateSucceeded:
		if err := r.store.UpdateGiftStatus(ctx, g.ID, model.GiftCompleted, g.PaymentHash); err != nil {
			return fmt.Errorf("complete gift: %w", err)
		}
		// The counters were never applied for this gift: the terminal
		// transition above succeeds exactly once, so this runs exactly once.
		if err := r.store.IncrementStreamCounters(ctx, g.StreamID, g.AmountSats, 1); err != nil {
			return fmt.Errorf("apply counters: %w", err)
		}
		r.metrics.ObserveReconciled("completed")
		r.logger.Info(ctx, "stuck gift completed by reconciler", map[string]any{
			"gift_id": g.ID,
		})
	case lightning.PaymentStateFailed:
		if err := r.store.UpdateGiftStatus(ctx, g.ID, model.GiftFailed, ""); err != nil {
			return fmt.Errorf("fail gift: %w", err)
		}
		r.metrics.ObserveReconciled("failed")
	default:
		// Still in flight or unknown; try again next pass.
		r.metrics.ObserveReconciled("deferred")
	}
	return nil
}
