package coupon

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweep expires overdue coupons every interval until ctx is done.
func (s *Service) Sweep(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 || batch <= 0 {
		s.logger.Warn("coupon expiry sweep disabled", zap.Duration("interval", interval), zap.Int("batch", batch))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := drain(ctx, batch, s.ExpireDue)
			if err != nil {
				s.logger.Warn("coupon expiry sweep failed", zap.Int("expired", n), zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("coupons expired", zap.Int("count", n))
			}
		}
	}
}

// drain calls expire until it returns a short batch.
func drain(ctx context.Context, batch int, expire func(context.Context, int) (int, error)) (int, error) {
	total := 0
	for {
		n, err := expire(ctx, batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < batch || ctx.Err() != nil {
			return total, nil
		}
	}
}
