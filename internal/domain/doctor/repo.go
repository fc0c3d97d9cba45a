package doctor

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, availableOnly bool, limit, offset int) ([]*Doctor, int, error)
}
