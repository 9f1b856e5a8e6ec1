package fulfillment

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/audit"
	"github.com/dropship-labs/fulfillment/internal/idempotency"
	"github.com/dropship-labs/fulfillment/internal/orders"
)

// RecordWebhook handles status-update notifications from the supplier or the
// forwarder. These carry information only; they never move the order. Each
// event is deduplicated by its event ID, so a redelivered webhook leaves a
// single audit entry.
func (s *Service) RecordWebhook(ctx context.Context, eventID, source, orderID, status string, meta map[string]string) (bool, error) {
	_, replayed, err := s.guard.Execute(ctx, idempotency.ScopeWebhook, eventID, func(ctx context.Context) (string, error) {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return "", err
		}
		if order == nil {
			return "", ErrOrderNotFound
		}

		entry := map[string]string{
			"source":   source,
			"event_id": eventID,
			"status":   status,
		}
		for k, v := range meta {
			entry[k] = v
		}
		if err := s.audit.Append(ctx, orderID, audit.ActorWebhook, audit.ActionWebhookReceived, entry); err != nil {
			return "", err
		}

		s.logger.Info("webhook recorded",
			zap.String("order_id", orderID),
			zap.String("source", source),
			zap.String("event_id", eventID),
			zap.String("status", status))
		return orderID, nil
	})
	return replayed, err
}

// ConfirmDelivery handles the delivery-confirmed webhook: the one inbound
// event that moves an order, SENT_TO_FORWARDER -> DONE. Deduplicated by
// event ID like every other webhook.
func (s *Service) ConfirmDelivery(ctx context.Context, eventID, orderID string) (bool, error) {
	_, replayed, err := s.guard.Execute(ctx, idempotency.ScopeWebhook, eventID, func(ctx context.Context) (string, error) {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return "", err
		}
		if order == nil {
			return "", ErrOrderNotFound
		}

		from := order.Status
		if err := orders.Apply(order, orders.TriggerDeliveryConfirmed); err != nil {
			return "", err
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return "", err
		}

		s.auditTransition(ctx, order, audit.ActorWebhook, from, orders.TriggerDeliveryConfirmed, map[string]string{
			"event_id": eventID,
		})

		s.logger.Info("delivery confirmed", zap.String("order_id", orderID))
		return orderID, nil
	})
	return replayed, err
}
