package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/reseller-platform/internal/model"
	"github.com/mmeshcher/reseller-platform/internal/notifier"
)

// statusTemplates — фиксированная таблица выбора шаблона письма по новому статусу.
var statusTemplates = map[model.OrderStatus]string{
	model.OrderStatusPending:    "order-received",
	model.OrderStatusConfirmed:  "order-confirmed",
	model.OrderStatusProcessing: "order-processing",
	model.OrderStatusShipped:    "order-shipped",
	model.OrderStatusDelivered:  "order-delivered",
	model.OrderStatusCancelled:  "order-cancelled",
}

// opsTemplates — шаблоны операторских уведомлений. Статусы вне таблицы
// операторам не рассылаются.
var opsTemplates = map[model.OrderStatus]string{
	model.OrderStatusShipped:   "ops-order-shipped",
	model.OrderStatusDelivered: "ops-order-delivered",
	model.OrderStatusCancelled: "ops-order-cancelled",
}

// UpdateOrderStatus переводит заказ в новый статус и реагирует на изменение.
// Запись статуса — источник истины; уведомления лишь побочный эффект.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error) {
	o, prev, err := s.repo.UpdateOrderStatus(ctx, orderID, to)
	if err != nil {
		return nil, err
	}

	s.dispatchStatus(ctx, o, prev, o.Status)

	return o, nil
}

// dispatchStatus передаёт запросы на уведомления о смене статуса заказа.
// Сбои доставки логируются и проглатываются: неотправленное письмо не должно
// блокировать или откатывать переход статуса.
func (s *Service) dispatchStatus(ctx context.Context, o *model.Order, prev, next model.OrderStatus) {
	if prev == next || s.notifier == nil {
		return
	}

	template, ok := statusTemplates[next]
	if !ok {
		return
	}

	data := map[string]any{
		"orderNumber": o.Number,
		"status":      string(next),
		"total":       float64(o.Total) / 100,
	}

	if o.Customer.Email != "" {
		err := s.notifier.Send(ctx, notifier.Notification{
			To:       o.Customer.Email,
			Template: template,
			Locale:   o.Locale,
			Data:     data,
		})
		if err != nil {
			s.metrics.NotificationFailed()
			s.logger.Warn("dispatch customer notification",
				zap.Error(err), zap.String("order", o.ID), zap.String("template", template))
		}
	}

	if opsTemplate, ok := opsTemplates[next]; ok && s.adminEmail != "" {
		err := s.notifier.Send(ctx, notifier.Notification{
			To:       s.adminEmail,
			Template: opsTemplate,
			Locale:   "en",
			Data:     data,
		})
		if err != nil {
			s.metrics.NotificationFailed()
			s.logger.Warn("dispatch ops notification",
				zap.Error(err), zap.String("order", o.ID), zap.String("status", string(next)))
		}
	}
}
