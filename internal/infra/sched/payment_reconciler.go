package sched

import (
	"context"
	"log"
	"time"

	"mpesa-payment-service/internal/usecase"
)

// PaymentReconciler periodically scans for stale pending checkout sessions and
// tries to finalize them through the gateway's status query endpoint. This
// covers cases where the result callback never arrived or the process crashed
// mid-reconcile.
type PaymentReconciler struct {
	uc         usecase.PaymentUseCase
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending session must be to query
	batch      int
}

func NewPaymentReconciler(uc usecase.PaymentUseCase, interval, staleAfter time.Duration) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &PaymentReconciler{uc: uc, interval: interval, staleAfter: staleAfter, batch: 200}
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	n, err := w.uc.ReconcilePending(ctx, cutoff, w.batch)
	if err != nil {
		log.Printf("payment-reconciler: scan error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("payment-reconciler: finalized %d stale sessions", n)
	}
}
