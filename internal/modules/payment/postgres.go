package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tilla-pos/api/internal/errs"
	"github.com/tilla-pos/api/internal/modules/order"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

// Every money mutation takes the order row lock first, then the payment
// row. That single ordering serializes all writes against one order's
// payment set and keeps the due check honest under concurrency.

func (r *postgresRepo) Create(ctx context.Context, p *Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var orderStatus order.Status
	var totalCents int64
	err = tx.QueryRowContext(ctx, `
		SELECT status, total_cents FROM orders
		WHERE id=$1 AND org_id=$2 FOR UPDATE`,
		p.OrderID, p.OrgID).Scan(&orderStatus, &totalCents)
	if err == sql.ErrNoRows {
		return errs.New(errs.CodeNotFound, "order not found")
	}
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}

	if !order.Payable(orderStatus) {
		return errs.New(errs.CodePreconditionFailed, "a %s order cannot take payments", orderStatus)
	}

	if p.Status != StatusFailed {
		pos, err := position(ctx, tx, p.OrgID, p.OrderID, totalCents)
		if err != nil {
			return err
		}
		if p.AmountCents > pos.DueCents() {
			return errs.New(errs.CodeOverpayment, "payment of %d exceeds %d due", p.AmountCents, pos.DueCents())
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments
		  (id, org_id, order_id, method, status,
		   amount_cents, tip_cents, captured_cents, refunded_cents,
		   tendered_cents, change_cents, currency,
		   provider, provider_ref, error_code, error_message,
		   idempotency_key, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		p.ID, p.OrgID, p.OrderID, p.Method, p.Status,
		p.AmountCents, p.TipCents, p.CapturedCents, p.RefundedCents,
		p.TenderedCents, p.ChangeCents, p.Currency,
		nilIfEmpty(p.Provider), nilIfEmpty(p.ProviderRef),
		nilIfEmpty(p.ErrorCode), nilIfEmpty(p.ErrorMessage),
		p.IdempotencyKey, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Wrap(errs.CodeConflict, err, "idempotency key already used")
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	if err := reproject(ctx, tx, p.OrgID, p.OrderID, totalCents); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *postgresRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		selectSQL+` WHERE id=$1 AND org_id=$2`, id, orgID))
}

func (r *postgresRepo) GetByKey(ctx context.Context, orgID uuid.UUID, key string) (*Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		selectSQL+` WHERE org_id=$1 AND idempotency_key=$2`, orgID, key))
}

func (r *postgresRepo) ListByOrder(ctx context.Context, orgID, orderID uuid.UUID) ([]*Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		selectSQL+` WHERE org_id=$1 AND order_id=$2 ORDER BY created_at ASC`, orgID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []*Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *postgresRepo) Position(ctx context.Context, orgID, orderID uuid.UUID) (*Position, error) {
	var totalCents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT total_cents FROM orders WHERE id=$1 AND org_id=$2`,
		orderID, orgID).Scan(&totalCents)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return position(ctx, r.db, orgID, orderID, totalCents)
}

func (r *postgresRepo) MarkCaptured(ctx context.Context, orgID, id uuid.UUID, capturedCents int64) (*Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, totalCents, err := lockPaymentAndOrder(ctx, tx, orgID, id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusCaptured {
		return p, nil
	}
	if p.Status != StatusAuthorized {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot capture a %s payment", p.Status)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status=$1, captured_cents=$2, updated_at=$3
		WHERE id=$4 AND org_id=$5`,
		StatusCaptured, capturedCents, now, id, orgID)
	if err != nil {
		return nil, fmt.Errorf("capture payment: %w", err)
	}

	if err := reproject(ctx, tx, orgID, p.OrderID, totalCents); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	p.Status = StatusCaptured
	p.CapturedCents = capturedCents
	p.UpdatedAt = now
	return p, nil
}

func (r *postgresRepo) MarkVoided(ctx context.Context, orgID, id uuid.UUID, reason string) (*Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, totalCents, err := lockPaymentAndOrder(ctx, tx, orgID, id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusVoided {
		return p, nil
	}
	if p.Status != StatusPending && p.Status != StatusAuthorized {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot void a %s payment", p.Status)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status=$1, void_reason=$2, updated_at=$3
		WHERE id=$4 AND org_id=$5`,
		StatusVoided, reason, now, id, orgID)
	if err != nil {
		return nil, fmt.Errorf("void payment: %w", err)
	}

	if err := reproject(ctx, tx, orgID, p.OrderID, totalCents); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	p.Status = StatusVoided
	p.VoidReason = reason
	p.UpdatedAt = now
	return p, nil
}

func (r *postgresRepo) ApplyRefund(ctx context.Context, orgID, id uuid.UUID, amountCents int64, reason, refundRef string) (*Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, totalCents, err := lockPaymentAndOrder(ctx, tx, orgID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCaptured {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot refund a %s payment", p.Status)
	}
	if amountCents > p.RemainingCents() {
		return nil, errs.New(errs.CodeRefundExceedsRemaining,
			"refund of %d exceeds remaining %d", amountCents, p.RemainingCents())
	}

	refunded := p.RefundedCents + amountCents
	status := StatusCaptured
	if refunded >= p.CapturedCents {
		status = StatusRefunded
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status=$1, refunded_cents=$2, refund_reason=$3, refund_ref=$4, updated_at=$5
		WHERE id=$6 AND org_id=$7`,
		status, refunded, reason, nilIfEmpty(refundRef), now, id, orgID)
	if err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}

	if err := reproject(ctx, tx, orgID, p.OrderID, totalCents); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	p.Status = status
	p.RefundedCents = refunded
	p.RefundReason = reason
	p.RefundRef = refundRef
	p.UpdatedAt = now
	return p, nil
}

// ── Shared transaction pieces ────────────────────────────────────────────────

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// position aggregates the payment set. Paid counts money that stayed
// captured, reservations count open intents, tips only ride on rows that
// still hold their capture.
func position(ctx context.Context, q querier, orgID, orderID uuid.UUID, totalCents int64) (*Position, error) {
	pos := &Position{OrderTotalCents: totalCents}
	err := q.QueryRowContext(ctx, `
		SELECT
		  COALESCE(SUM(CASE WHEN status IN ('CAPTURED','REFUNDED') THEN captured_cents - refunded_cents ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN status = 'CAPTURED' THEN tip_cents ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN status IN ('PENDING','AUTHORIZED') THEN amount_cents ELSE 0 END), 0),
		  COALESCE(BOOL_OR(refunded_cents > 0), FALSE)
		FROM payments WHERE org_id=$1 AND order_id=$2`,
		orgID, orderID).Scan(&pos.PaidCents, &pos.TipsCents, &pos.ReservedCents, &pos.HasRefund)
	if err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}
	return pos, nil
}

func reproject(ctx context.Context, q querier, orgID, orderID uuid.UUID, totalCents int64) error {
	pos, err := position(ctx, q, orgID, orderID, totalCents)
	if err != nil {
		return err
	}
	status := order.DerivePaymentStatus(totalCents, pos.PaidCents, pos.HasRefund)
	if _, err := q.ExecContext(ctx, `
		UPDATE orders SET payment_status=$1, updated_at=$2 WHERE id=$3 AND org_id=$4`,
		status, time.Now(), orderID, orgID); err != nil {
		return fmt.Errorf("project payment status: %w", err)
	}
	return nil
}

func lockPaymentAndOrder(ctx context.Context, tx *sql.Tx, orgID, id uuid.UUID) (*Payment, int64, error) {
	var orderID uuid.UUID
	err := tx.QueryRowContext(ctx, `
		SELECT order_id FROM payments WHERE id=$1 AND org_id=$2`,
		id, orgID).Scan(&orderID)
	if err == sql.ErrNoRows {
		return nil, 0, errs.New(errs.CodeNotFound, "payment not found")
	}
	if err != nil {
		return nil, 0, err
	}

	var totalCents int64
	err = tx.QueryRowContext(ctx, `
		SELECT total_cents FROM orders WHERE id=$1 AND org_id=$2 FOR UPDATE`,
		orderID, orgID).Scan(&totalCents)
	if err != nil {
		return nil, 0, fmt.Errorf("lock order: %w", err)
	}

	p, err := scanPayment(tx.QueryRowContext(ctx,
		selectSQL+` WHERE id=$1 AND org_id=$2 FOR UPDATE`, id, orgID))
	if err != nil {
		return nil, 0, err
	}
	return p, totalCents, nil
}

// ── Scanner ──────────────────────────────────────────────────────────────────

const selectSQL = `
	SELECT id, org_id, order_id, method, status,
	       amount_cents, tip_cents, captured_cents, refunded_cents,
	       tendered_cents, change_cents, currency,
	       provider, provider_ref, refund_ref, error_code, error_message,
	       void_reason, refund_reason, idempotency_key,
	       created_by, created_at, updated_at
	FROM payments`

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanPayment(row rowScanner) (*Payment, error) {
	p := &Payment{}
	var provider, providerRef, refundRef, errCode, errMsg, voidReason, refundReason sql.NullString
	err := row.Scan(
		&p.ID, &p.OrgID, &p.OrderID, &p.Method, &p.Status,
		&p.AmountCents, &p.TipCents, &p.CapturedCents, &p.RefundedCents,
		&p.TenderedCents, &p.ChangeCents, &p.Currency,
		&provider, &providerRef, &refundRef, &errCode, &errMsg,
		&voidReason, &refundReason, &p.IdempotencyKey,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.CodeNotFound, "payment not found")
	}
	if err != nil {
		return nil, err
	}
	p.Provider = provider.String
	p.ProviderRef = providerRef.String
	p.RefundRef = refundRef.String
	p.ErrorCode = errCode.String
	p.ErrorMessage = errMsg.String
	p.VoidReason = voidReason.String
	p.RefundReason = refundReason.String
	return p, nil
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
