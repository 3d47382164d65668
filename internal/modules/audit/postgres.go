package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Record(ctx context.Context, e Entry) error {
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, org_id, order_id, actor_id, action, detail)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id, e.OrgID, e.OrderID, e.ActorID, e.Action, nilIfEmpty(e.Detail))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *postgresRepo) ListByOrder(ctx context.Context, orgID, orderID uuid.UUID) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, order_id, actor_id, action, detail, created_at
		FROM audit_log
		WHERE org_id=$1 AND order_id=$2
		ORDER BY created_at ASC`, orgID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var actorID sql.NullString
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &e.OrderID, &actorID, &e.Action, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id, _ := uuid.Parse(actorID.String)
			e.ActorID = &id
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		entries = append(entries, e)
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return entries, rows.Err()
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
