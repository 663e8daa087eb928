package loyalty

import (
	"context"
	"database/sql"

	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
)

// Service awards points per purchased unit.
type Service struct {
	db            *sql.DB
	pointsPerUnit int
}

func NewService(db *sql.DB, pointsPerUnit int) *Service {
	return &Service{db: db, pointsPerUnit: pointsPerUnit}
}

func (s *Service) Points(order *models.Order) int64 {
	var units int64
	for _, item := range order.Items {
		units += int64(item.Quantity)
	}
	return units * int64(s.pointsPerUnit)
}

func (s *Service) Award(ctx context.Context, order *models.Order) (int64, error) {
	points := s.Points(order)
	if points <= 0 {
		return 0, nil
	}
	if err := store.AddLoyaltyPoints(ctx, s.db, order.UserID, points); err != nil {
		return 0, err
	}
	return points, nil
}
