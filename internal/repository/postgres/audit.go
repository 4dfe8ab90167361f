package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
)

const auditColumns = `id, sequence, actor_id, action, entity_type, entity_id, changes, previous_hash, hash, created_at`

// auditChainLockKey serialises appenders to the audit chain.
const auditChainLockKey = 0x5e77_1e00

type auditRepository struct {
	BaseRepository
}

func (r *auditRepository) Last(ctx context.Context) (*model.AuditLog, error) {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainLockKey); err != nil {
		return nil, mapError(err, "failed to lock audit chain")
	}

	logs := []*model.AuditLog{}
	if err := r.db.SelectContext(ctx, &logs,
		`SELECT `+auditColumns+` FROM audit_logs ORDER BY sequence DESC LIMIT 1`); err != nil {
		return nil, mapError(err, "failed to get last audit log")
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return logs[0], nil
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	changes := []byte(log.Changes)
	if len(changes) == 0 {
		changes = []byte("{}")
	}
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Sequence,
		log.ActorID,
		log.Action,
		log.EntityType,
		log.EntityID,
		changes,
		log.PreviousHash,
		log.Hash,
		log.CreatedAt,
	)
	return mapError(err, "failed to create audit log")
}

func (r *auditRepository) List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLog, error) {
	var clauses []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter != nil {
		if filter.EntityType != "" {
			add("entity_type = $%d", filter.EntityType)
		}
		if filter.EntityID != nil {
			add("entity_id = $%d", *filter.EntityID)
		}
		if filter.ActorID != nil {
			add("actor_id = $%d", *filter.ActorID)
		}
		if filter.From != nil {
			add("created_at >= $%d", *filter.From)
		}
		if filter.To != nil {
			add("created_at < $%d", *filter.To)
		}
	}
	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY sequence ASC"

	logs := []*model.AuditLog{}
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, mapError(err, "failed to list audit logs")
	}
	return logs, nil
}

func (r *auditRepository) Range(ctx context.Context, fromSeq, toSeq int64) ([]*model.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE sequence >= $1 AND ($2 <= 0 OR sequence <= $2)
		ORDER BY sequence ASC
	`
	logs := []*model.AuditLog{}
	if err := r.db.SelectContext(ctx, &logs, query, fromSeq, toSeq); err != nil {
		return nil, mapError(err, "failed to read audit chain")
	}
	return logs, nil
}
