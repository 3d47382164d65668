package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tilla-pos/api/internal/errs"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

// Create inserts the order and all its items inside a single transaction.
// The branch counter row is bumped in the same transaction, so order
// numbers are monotonic per branch even under concurrent creates.
func (r *postgresRepo) Create(ctx context.Context, o *Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO branch_counters (branch_id, last_seq) VALUES ($1, 1)
		ON CONFLICT (branch_id) DO UPDATE SET last_seq = branch_counters.last_seq + 1
		RETURNING last_seq`, o.BranchID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("bump branch counter: %w", err)
	}
	o.OrderNumber = fmt.Sprintf("ORD-%s-%05d", time.Now().UTC().Format("20060102"), seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
		  (id, org_id, branch_id, order_number, status,
		   subtotal_cents, discount_cents, tax_cents, total_cents, currency,
		   payment_status, notes, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, o.OrgID, o.BranchID, o.OrderNumber, o.Status,
		o.SubtotalCents, o.DiscountCents, o.TaxCents, o.TotalCents, o.Currency,
		o.PaymentStatus, nilIfEmpty(o.Notes), o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Wrap(errs.CodeConflict, err, "order already exists")
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items
			  (id, order_id, name, station, quantity, unit_price_cents, line_total_cents, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			item.ID, o.ID, item.Name, item.Station,
			item.Quantity, item.UnitPriceCents, item.LineTotalCents,
			nilIfEmpty(item.Notes))
		if err != nil {
			return fmt.Errorf("insert order_item: %w", err)
		}
	}

	return tx.Commit()
}

func (r *postgresRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Order, error) {
	o, err := r.scanOrder(r.db.QueryRowContext(ctx,
		selectOrderSQL+` WHERE id=$1 AND org_id=$2`, id, orgID))
	if err != nil {
		return nil, err
	}
	o.Items, err = r.listItems(ctx, o.ID)
	return o, err
}

func (r *postgresRepo) GetByNumber(ctx context.Context, orgID, branchID uuid.UUID, number string) (*Order, error) {
	o, err := r.scanOrder(r.db.QueryRowContext(ctx,
		selectOrderSQL+` WHERE org_id=$1 AND branch_id=$2 AND order_number=$3`,
		orgID, branchID, number))
	if err != nil {
		return nil, err
	}
	o.Items, err = r.listItems(ctx, o.ID)
	return o, err
}

func (r *postgresRepo) ListByBranch(ctx context.Context, orgID, branchID uuid.UUID, status Status) ([]*Order, error) {
	query := selectOrderSQL + ` WHERE org_id=$1 AND branch_id=$2`
	args := []interface{}{orgID, branchID}
	if status != "" {
		query += ` AND status=$3`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if orders == nil {
		orders = []*Order{}
	}
	return orders, rows.Err()
}

// UpdateStatus is a compare-and-write: the row must still be in the expected
// source status or nothing changes and a Conflict comes back. Callers decide
// whether the raced state makes their request a no-op.
func (r *postgresRepo) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from, to Status, voidReason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status=$1, void_reason=COALESCE(NULLIF($2,''), void_reason), updated_at=$3
		WHERE id=$4 AND org_id=$5 AND status=$6`,
		to, voidReason, time.Now(), id, orgID, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.New(errs.CodeConflict, "order changed concurrently while moving %s to %s", from, to)
	}
	return nil
}

func (r *postgresRepo) ReplaceItems(ctx context.Context, o *Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET subtotal_cents=$1, discount_cents=$2, tax_cents=$3, total_cents=$4, updated_at=$5
		WHERE id=$6 AND org_id=$7 AND status=$8`,
		o.SubtotalCents, o.DiscountCents, o.TaxCents, o.TotalCents, time.Now(),
		o.ID, o.OrgID, StatusNew)
	if err != nil {
		return fmt.Errorf("update order totals: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.CodeConflict, "order is no longer editable")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id=$1`, o.ID); err != nil {
		return fmt.Errorf("clear order items: %w", err)
	}
	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items
			  (id, order_id, name, station, quantity, unit_price_cents, line_total_cents, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			item.ID, o.ID, item.Name, item.Station,
			item.Quantity, item.UnitPriceCents, item.LineTotalCents,
			nilIfEmpty(item.Notes))
		if err != nil {
			return fmt.Errorf("insert order_item: %w", err)
		}
	}

	return tx.Commit()
}

func (r *postgresRepo) UpdateAmounts(ctx context.Context, o *Order) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET subtotal_cents=$1, discount_cents=$2, tax_cents=$3, total_cents=$4, updated_at=$5
		WHERE id=$6 AND org_id=$7 AND status NOT IN ($8, $9)`,
		o.SubtotalCents, o.DiscountCents, o.TaxCents, o.TotalCents, time.Now(),
		o.ID, o.OrgID, StatusClosed, StatusVoided)
	if err != nil {
		return fmt.Errorf("update order amounts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.CodeConflict, "order can no longer be discounted")
	}
	return nil
}

// ── Scanner ──────────────────────────────────────────────────────────────────

const selectOrderSQL = `
	SELECT id, org_id, branch_id, order_number, status,
	       subtotal_cents, discount_cents, tax_cents, total_cents, currency,
	       payment_status, notes, void_reason, created_by, created_at, updated_at
	FROM orders`

type rowScanner interface{ Scan(dest ...interface{}) error }

func (r *postgresRepo) scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var notes, voidReason sql.NullString
	err := row.Scan(
		&o.ID, &o.OrgID, &o.BranchID, &o.OrderNumber, &o.Status,
		&o.SubtotalCents, &o.DiscountCents, &o.TaxCents, &o.TotalCents, &o.Currency,
		&o.PaymentStatus, &notes, &voidReason, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	o.Notes = notes.String
	o.VoidReason = voidReason.String
	return o, nil
}

func (r *postgresRepo) listItems(ctx context.Context, orderID uuid.UUID) ([]*Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, name, station, quantity, unit_price_cents, line_total_cents, notes
		FROM order_items WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item := &Item{}
		var notes sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &item.Name, &item.Station,
			&item.Quantity, &item.UnitPriceCents, &item.LineTotalCents, &notes); err != nil {
			return nil, err
		}
		item.Notes = notes.String
		items = append(items, item)
	}
	return items, rows.Err()
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
