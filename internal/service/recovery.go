package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/reseller-platform/internal/gateway"
	"github.com/mmeshcher/reseller-platform/internal/model"
	"github.com/mmeshcher/reseller-platform/internal/repository"
)

// RecoveryOutcome описывает исход восстановления заказа из события шлюза.
type RecoveryOutcome string

const (
	// RecoveryCreated — заказ восстановлен этим вызовом.
	RecoveryCreated RecoveryOutcome = "created"
	// RecoveryNotApplicable — событие не относится к потоку оформления этой витрины.
	RecoveryNotApplicable RecoveryOutcome = "not-applicable"
	// RecoveryAlreadyRecovered — заказ с этой транзакцией уже существует.
	RecoveryAlreadyRecovered RecoveryOutcome = "already-recovered"
	// RecoveryInsufficientMetadata — в событии нет обязательных полей заказа.
	RecoveryInsufficientMetadata RecoveryOutcome = "insufficient-metadata"
)

// RecoveryResult содержит результат обработки события платёжного шлюза.
type RecoveryResult struct {
	Outcome RecoveryOutcome
	OrderID string
	Created bool
}

// RecoverOrder восстанавливает заказ из уведомления об успешной оплате,
// когда клиентский путь записи не завершился. Ключ идемпотентности —
// идентификатор транзакции шлюза: доставка события повторяется как минимум
// однажды, и каждая повторная доставка не создаёт второй документ.
func (s *Service) RecoverOrder(ctx context.Context, ev *gateway.Event) (*RecoveryResult, error) {
	intent, ok := ev.Recognized(s.storefrontTag)
	if !ok {
		return &RecoveryResult{Outcome: RecoveryNotApplicable}, nil
	}

	existing, err := s.repo.GetOrderByPaymentRef(ctx, intent.TransactionID)
	if err == nil {
		return &RecoveryResult{Outcome: RecoveryAlreadyRecovered, OrderID: existing.ID}, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, err
	}

	order, ok := orderFromIntent(intent)
	if !ok {
		// Восстановление не угадывает недостающие данные заказа.
		return &RecoveryResult{Outcome: RecoveryInsufficientMetadata}, nil
	}

	order.ID = uuid.NewString()
	order.Number = recoveredOrderNumber(time.Now(), order.ID)

	orderID, created, err := s.repo.CreateRecoveredOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if !created {
		// Проиграли гонку с клиентским путём или повторной доставкой.
		return &RecoveryResult{Outcome: RecoveryAlreadyRecovered, OrderID: orderID}, nil
	}

	s.metrics.OrderRecovered()
	s.logger.Info("order recovered from gateway event",
		zap.String("order", orderID), zap.String("transaction", intent.TransactionID))

	// Ранняя пометка клика, до проведения комиссии. Сбой не откатывает заказ.
	if order.AffiliateCode != "" {
		if err := s.repo.MarkClickConverted(ctx, order.AffiliateCode, orderID, nil); err != nil &&
			!errors.Is(err, repository.ErrClickNotFound) {
			s.logger.Warn("mark click on recovery", zap.Error(err), zap.String("order", orderID))
		}
	}

	order.ID = orderID
	s.dispatchStatus(ctx, order, "", order.Status)

	return &RecoveryResult{Outcome: RecoveryCreated, OrderID: orderID, Created: true}, nil
}

// orderFromIntent собирает заказ из метаданных платёжного намерения.
// Обязательны customerEmail и сериализованные позиции заказа.
func orderFromIntent(intent *gateway.PaymentIntent) (*model.Order, bool) {
	email := intent.Meta("customerEmail")
	itemsRaw := intent.Meta("items")
	if email == "" || itemsRaw == "" {
		return nil, false
	}

	var items []model.LineItem
	if err := json.Unmarshal([]byte(itemsRaw), &items); err != nil {
		return nil, false
	}

	locale := intent.Meta("locale")
	if locale == "" {
		locale = "en"
	}

	return &model.Order{
		Status:   model.OrderStatusConfirmed,
		Subtotal: metaAmount(intent, "subtotal"),
		Shipping: metaAmount(intent, "shipping"),
		Tax:      metaAmount(intent, "tax"),
		Discount: metaAmount(intent, "discount"),
		Total:    intent.Amount,
		Customer: model.Customer{
			Email: email,
			Name:  intent.Meta("customerName"),
			Phone: intent.Meta("customerPhone"),
		},
		Locale:        locale,
		Items:         items,
		AffiliateCode: intent.Meta("affiliateCode"),
		ClickID:       intent.Meta("clickId"),
		DiscountCode:  intent.Meta("discountCode"),
		PaymentRef:    intent.TransactionID,
		Provenance:    model.ProvenanceRecovered,
	}, true
}

// metaAmount переводит денежное поле метаданных ("500.00", в основных
// единицах валюты) в минимальные единицы. Отсутствующее поле — ноль.
func metaAmount(intent *gateway.PaymentIntent, key string) int64 {
	raw := intent.Meta(key)
	if raw == "" {
		return 0
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}

	return int64(math.Round(v * 100))
}

// recoveredOrderNumber синтезирует человекочитаемый номер восстановленного заказа.
func recoveredOrderNumber(now time.Time, orderID string) string {
	short := strings.ToUpper(strings.ReplaceAll(orderID, "-", ""))
	if len(short) > 8 {
		short = short[:8]
	}
	return "R-" + now.UTC().Format("20060102") + "-" + short
}
