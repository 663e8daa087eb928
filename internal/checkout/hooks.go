package checkout

import (
	"context"
	"fmt"

	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// runHooks starts best-effort work for a committed order. Hooks run
// concurrently, detached from the request context, and a failure is only
// logged.
func (o *Orchestrator) runHooks(ctx context.Context, order *models.Order, hooks ...hook) {
	if len(hooks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.postCommitTimeout)

	o.hooks.Add(1)
	go func() {
		defer o.hooks.Done()
		defer cancel()

		var g errgroup.Group
		for _, h := range hooks {
			g.Go(func() error {
				if err := h.fn(ctx); err != nil {
					o.metrics.PostCommitFailure(h.name)
					o.logger.Warn("post-commit hook failed",
						zap.String("hook", h.name),
						zap.String("order_number", order.OrderNumber),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (o *Orchestrator) afterCheckout(ctx context.Context, order *models.Order, cartIDs []int64) {
	var hooks []hook
	if o.cart != nil {
		hooks = append(hooks, hook{"clear_cart", func(ctx context.Context) error {
			return o.cart.ClearItems(ctx, order.UserID, cartIDs)
		}})
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		hooks = append(hooks, o.paidHooks(order)...)
	}
	hooks = append(hooks, o.notifyHook(confirmation(order))...)
	o.runHooks(ctx, order, hooks...)
}

func (o *Orchestrator) afterPayment(ctx context.Context, order *models.Order) {
	hooks := append(o.paidHooks(order), o.notifyHook(confirmation(order))...)
	o.runHooks(ctx, order, hooks...)
}

func (o *Orchestrator) afterRefund(ctx context.Context, order *models.Order) {
	o.runHooks(ctx, order, o.notifyHook(notify.Event{
		Type:          notify.EventOrderRefunded,
		RecipientType: notify.RecipientUser,
		RecipientID:   order.UserID,
		Subject:       fmt.Sprintf("Order %s refunded", order.OrderNumber),
		Payload: map[string]any{
			"order_number": order.OrderNumber,
			"amount":       order.TotalAmount.StringFixed(2),
		},
	})...)
}

func (o *Orchestrator) notifyHook(e notify.Event) []hook {
	if o.notifier == nil {
		return nil
	}
	return []hook{{"notify", func(ctx context.Context) error {
		return o.notifier.Dispatch(ctx, e)
	}}}
}

func (o *Orchestrator) paidHooks(order *models.Order) []hook {
	var hooks []hook
	if o.invoices != nil {
		hooks = append(hooks, hook{"invoice", func(ctx context.Context) error {
			_, err := o.invoices.Generate(ctx, order)
			return err
		}})
	}
	if o.loyalty != nil {
		hooks = append(hooks, hook{"loyalty", func(ctx context.Context) error {
			_, err := o.loyalty.Award(ctx, order)
			return err
		}})
	}
	return hooks
}

func confirmation(order *models.Order) notify.Event {
	codes := make([]string, 0, len(order.Coupons))
	for _, c := range order.Coupons {
		codes = append(codes, c.CouponCode)
	}
	return notify.Event{
		Type:          notify.EventOrderConfirmed,
		RecipientType: notify.RecipientUser,
		RecipientID:   order.UserID,
		Subject:       fmt.Sprintf("Order %s confirmed", order.OrderNumber),
		Payload: map[string]any{
			"order_number":   order.OrderNumber,
			"total":          order.TotalAmount.StringFixed(2),
			"payment_status": string(order.PaymentStatus),
			"coupon_codes":   codes,
		},
	}
}
