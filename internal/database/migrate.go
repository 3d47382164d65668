package database

import (
	"database/sql"
	"fmt"
)

// Migrate creates the schema. Every statement is idempotent, so the service
// can run it unconditionally at startup.
func Migrate(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS staff (
			id         UUID PRIMARY KEY,
			org_id     UUID NOT NULL,
			branch_id  UUID NOT NULL,
			full_name  TEXT NOT NULL,
			role       TEXT NOT NULL,
			pin_hash   TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS orders (
			id             UUID PRIMARY KEY,
			org_id         UUID NOT NULL,
			branch_id      UUID NOT NULL,
			order_number   TEXT NOT NULL,
			status         TEXT NOT NULL,
			subtotal_cents BIGINT NOT NULL CHECK (subtotal_cents >= 0),
			discount_cents BIGINT NOT NULL DEFAULT 0 CHECK (discount_cents >= 0),
			tax_cents      BIGINT NOT NULL DEFAULT 0 CHECK (tax_cents >= 0),
			total_cents    BIGINT NOT NULL,
			currency       TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			notes          TEXT,
			void_reason    TEXT,
			created_by     UUID NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT orders_totals_add_up CHECK (total_cents = subtotal_cents - discount_cents + tax_cents),
			CONSTRAINT orders_number_unique UNIQUE (org_id, branch_id, order_number)
		);
		CREATE INDEX IF NOT EXISTS idx_orders_branch_status ON orders (org_id, branch_id, status);

		CREATE TABLE IF NOT EXISTS order_items (
			id               UUID PRIMARY KEY,
			order_id         UUID NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
			name             TEXT NOT NULL,
			station          TEXT NOT NULL,
			quantity         BIGINT NOT NULL CHECK (quantity >= 1),
			unit_price_cents BIGINT NOT NULL CHECK (unit_price_cents >= 0),
			line_total_cents BIGINT NOT NULL,
			notes            TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id);

		CREATE TABLE IF NOT EXISTS branch_counters (
			branch_id UUID PRIMARY KEY,
			last_seq  BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS payments (
			id              UUID PRIMARY KEY,
			org_id          UUID NOT NULL,
			order_id        UUID NOT NULL REFERENCES orders (id),
			method          TEXT NOT NULL,
			status          TEXT NOT NULL,
			amount_cents    BIGINT NOT NULL CHECK (amount_cents > 0),
			tip_cents       BIGINT NOT NULL DEFAULT 0 CHECK (tip_cents >= 0),
			captured_cents  BIGINT NOT NULL DEFAULT 0 CHECK (captured_cents >= 0),
			refunded_cents  BIGINT NOT NULL DEFAULT 0 CHECK (refunded_cents >= 0 AND refunded_cents <= captured_cents),
			tendered_cents  BIGINT NOT NULL DEFAULT 0,
			change_cents    BIGINT NOT NULL DEFAULT 0,
			currency        TEXT NOT NULL,
			provider        TEXT,
			provider_ref    TEXT,
			refund_ref      TEXT,
			error_code      TEXT,
			error_message   TEXT,
			void_reason     TEXT,
			refund_reason   TEXT,
			idempotency_key TEXT NOT NULL,
			created_by      UUID NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT payments_idempotency_key_unique UNIQUE (org_id, idempotency_key)
		);
		CREATE INDEX IF NOT EXISTS idx_payments_order ON payments (org_id, order_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			id         UUID PRIMARY KEY,
			org_id     UUID NOT NULL,
			order_id   UUID NOT NULL,
			actor_id   UUID,
			action     TEXT NOT NULL,
			detail     TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_log_order ON audit_log (org_id, order_id);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
