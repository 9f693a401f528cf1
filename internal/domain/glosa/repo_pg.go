package glosa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/tiss/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type analysisRepoPG struct{ pool *pgxpool.Pool }

func NewAnalysisRepoPG(pool *pgxpool.Pool) AnalysisRepository { return &analysisRepoPG{pool: pool} }

func (r *analysisRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const analysisCols = `id, tenant_id, guide_number, guide_type, operator, valid,
	errors, warnings, probability, risk_level, can_auto_fix, estimated_loss,
	predicted_issues, created_at`

func (r *analysisRepoPG) scanAnalysis(row pgx.Row) (*AnalysisRecord, error) {
	var a AnalysisRecord
	err := row.Scan(&a.ID, &a.TenantID, &a.GuideNumber, &a.GuideType, &a.Operator, &a.Valid,
		&a.Errors, &a.Warnings, &a.Probability, &a.RiskLevel, &a.CanAutoFix, &a.EstimatedLoss,
		&a.PredictedIssues, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

const insertAnalysisSQL = `
	INSERT INTO glosa_analyses (id, tenant_id, guide_number, guide_type, operator, valid,
		errors, warnings, probability, risk_level, can_auto_fix, estimated_loss,
		predicted_issues, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

func insertArgs(a *AnalysisRecord) []interface{} {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return []interface{}{
		a.ID, a.TenantID, a.GuideNumber, a.GuideType, a.Operator, a.Valid,
		a.Errors, a.Warnings, a.Probability, a.RiskLevel, a.CanAutoFix, a.EstimatedLoss,
		a.PredictedIssues, a.CreatedAt,
	}
}

func (r *analysisRepoPG) Create(ctx context.Context, a *AnalysisRecord) error {
	if _, err := r.conn(ctx).Exec(ctx, insertAnalysisSQL, insertArgs(a)...); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CreateBatch stores every record in one transaction; on any failure none
// are kept.
func (r *analysisRepoPG) CreateBatch(ctx context.Context, records []*AnalysisRecord) error {
	if len(records) == 0 {
		return nil
	}
	var beginner txBeginner = r.pool
	if c := db.ConnFromContext(ctx); c != nil {
		beginner = c
	}

	return pgx.BeginFunc(ctx, beginner, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range records {
			batch.Queue(insertAnalysisSQL, insertArgs(a)...)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range records {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert analysis %d of %d: %w", i+1, len(records), err)
			}
		}
		return br.Close()
	})
}

func (r *analysisRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AnalysisRecord, error) {
	return r.scanAnalysis(r.conn(ctx).QueryRow(ctx, `SELECT `+analysisCols+` FROM glosa_analyses WHERE id = $1`, id))
}

func (r *analysisRepoPG) List(ctx context.Context, filter AnalysisFilter, limit, offset int) ([]*AnalysisRecord, int, error) {
	where, args := filterClause(filter)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM glosa_analyses`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM glosa_analyses%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		analysisCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var items []*AnalysisRecord
	for rows.Next() {
		a, err := r.scanAnalysis(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// filterClause renders the WHERE clause for a filter, numbering parameters
// from $1.
func filterClause(f AnalysisFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Operator != "" {
		add("operator = $%d", f.Operator)
	}
	if f.RiskLevel != "" {
		add("risk_level = $%d", f.RiskLevel)
	}
	if f.GuideNumber != "" {
		add("guide_number = $%d", f.GuideNumber)
	}
	if f.Valid != nil {
		add("valid = $%d", *f.Valid)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
