package glosa

import (
	"context"

	"github.com/google/uuid"
)

type AnalysisRepository interface {
	Create(ctx context.Context, r *AnalysisRecord) error
	// CreateBatch stores all records or none of them.
	CreateBatch(ctx context.Context, records []*AnalysisRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*AnalysisRecord, error)
	List(ctx context.Context, filter AnalysisFilter, limit, offset int) ([]*AnalysisRecord, int, error)
}
