package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilla-pos/api/internal/modules/audit"
)

// Dispatcher runs side effects that must never fail the operation that
// triggered them. Each task gets its own timeout; a failure is logged and
// written to the order's audit trail, then dropped.
type Dispatcher struct {
	audits  audit.Recorder
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(audits audit.Recorder, timeout time.Duration, log *zap.Logger) *Dispatcher {
	return &Dispatcher{audits: audits, log: log, timeout: timeout}
}

// Go schedules fn on its own goroutine. action names the task in logs and
// audit entries.
func (d *Dispatcher) Go(orgID, orderID uuid.UUID, action string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("background task panicked",
					zap.String("action", action),
					zap.String("order_id", orderID.String()),
					zap.Any("panic", r))
				d.record(orgID, orderID, action, fmt.Sprintf("panic: %v", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			d.log.Warn("background task failed",
				zap.String("action", action),
				zap.String("order_id", orderID.String()),
				zap.Error(err))
			d.record(orgID, orderID, action, err.Error())
		}
	}()
}

// Wait blocks until in-flight tasks drain. Called on shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) record(orgID, orderID uuid.UUID, action, detail string) {
	// The task's context may already be expired; the audit write gets a
	// fresh one so the failure record itself is not lost to the same cause.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.audits.Record(ctx, audit.Entry{
		OrgID:   orgID,
		OrderID: orderID,
		Action:  action + ".failed",
		Detail:  detail,
	}); err != nil {
		d.log.Error("audit record failed",
			zap.String("action", action),
			zap.String("order_id", orderID.String()),
			zap.Error(err))
	}
}
