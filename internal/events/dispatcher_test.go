package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilla-pos/api/internal/modules/audit"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memRecorder) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

func TestDispatcherSuccessLeavesNoTrace(t *testing.T) {
	rec := &memRecorder{}
	d := NewDispatcher(rec, time.Second, zap.NewNop())

	ran := make(chan struct{})
	d.Go(uuid.New(), uuid.New(), "kds.ticket", func(context.Context) error {
		close(ran)
		return nil
	})
	d.Wait()

	<-ran
	assert.Empty(t, rec.all())
}

func TestDispatcherAuditsFailure(t *testing.T) {
	rec := &memRecorder{}
	d := NewDispatcher(rec, time.Second, zap.NewNop())
	orgID, orderID := uuid.New(), uuid.New()

	d.Go(orgID, orderID, "collab.stock_depletion", func(context.Context) error {
		return errors.New("amqp: channel closed")
	})
	d.Wait()

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "collab.stock_depletion.failed", entries[0].Action)
	assert.Equal(t, "amqp: channel closed", entries[0].Detail)
	assert.Equal(t, orgID, entries[0].OrgID)
	assert.Equal(t, orderID, entries[0].OrderID)
	assert.Nil(t, entries[0].ActorID)
}

func TestDispatcherEnforcesTimeout(t *testing.T) {
	rec := &memRecorder{}
	d := NewDispatcher(rec, 20*time.Millisecond, zap.NewNop())

	d.Go(uuid.New(), uuid.New(), "order.status_event", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d.Wait()

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "order.status_event.failed", entries[0].Action)
	assert.Contains(t, entries[0].Detail, "deadline exceeded")
}

func TestDispatcherRecoversPanic(t *testing.T) {
	rec := &memRecorder{}
	d := NewDispatcher(rec, time.Second, zap.NewNop())

	d.Go(uuid.New(), uuid.New(), "kds.ticket", func(context.Context) error {
		panic("nil ticket")
	})
	d.Wait()

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "kds.ticket.failed", entries[0].Action)
	assert.Contains(t, entries[0].Detail, "panic: nil ticket")
}

func TestRoutingKeys(t *testing.T) {
	assert.Equal(t, "kds.grill", KitchenKey("Grill"))
	assert.Equal(t, "kds.bar", KitchenKey("bar"))
	assert.Equal(t, "order.status", KeyOrderStatus)
	assert.Equal(t, "task.stock_depletion", KeyTaskStockDepletion)
	assert.Equal(t, "task.gl_posting", KeyTaskLedgerPosting)
}
