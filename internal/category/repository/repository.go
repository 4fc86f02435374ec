package repository

import (
	"context"

	"fleet-control-plane/internal/category/domain"
)

// Repository reads device categories. GetBySlug returns (nil, nil) when missing.
type Repository interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Category, error)
}
