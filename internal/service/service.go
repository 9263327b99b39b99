// Package service реализует бизнес-логику конвейера завершения заказов.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/reseller-platform/internal/metrics"
	"github.com/mmeshcher/reseller-platform/internal/model"
	"github.com/mmeshcher/reseller-platform/internal/notifier"
	"github.com/mmeshcher/reseller-platform/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)
	GetOrderByPaymentRef(ctx context.Context, ref string) (*model.Order, error)
	CreateRecoveredOrder(ctx context.Context, o *model.Order) (string, bool, error)
	SettleCommission(ctx context.Context, orderID string) (*repository.Settlement, error)
	MarkClickConverted(ctx context.Context, affiliateCode, orderID string, commission *int64) error
	UpdateOrderStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, model.OrderStatus, error)
	CreateAffiliate(ctx context.Context, a *model.Affiliate) error
	GetAffiliateByCode(ctx context.Context, code string) (*model.Affiliate, error)
	RecordClick(ctx context.Context, c *model.AffiliateClick) error
}

// Notifier описывает контракт внешнего сервиса уведомлений.
type Notifier interface {
	Send(ctx context.Context, n notifier.Notification) error
}

// Service содержит бизнес-логику конвейера завершения заказов.
type Service struct {
	repo          Repository
	notifier      Notifier
	logger        *zap.Logger
	metrics       *metrics.Metrics
	storefrontTag string
	adminEmail    string
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом уведомлений.
func NewService(repo Repository, n Notifier, logger *zap.Logger, m *metrics.Metrics, storefrontTag, adminEmail string) *Service {
	return &Service{
		repo:          repo,
		notifier:      n,
		logger:        logger,
		metrics:       m,
		storefrontTag: storefrontTag,
		adminEmail:    adminEmail,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// SettlementOutcome описывает исход проведения комиссии.
type SettlementOutcome string

const (
	// SettlementSettled — комиссия проведена этим вызовом.
	SettlementSettled SettlementOutcome = "settled"
	// SettlementNoAffiliate — заказ не привязан к активному партнёру.
	SettlementNoAffiliate SettlementOutcome = "no-affiliate"
	// SettlementAlreadySettled — комиссия уже была проведена ранее.
	SettlementAlreadySettled SettlementOutcome = "already-settled"
)

// SettlementResult содержит результат завершения заказа.
type SettlementResult struct {
	Outcome     SettlementOutcome
	Commission  int64
	AffiliateID string
}

// CompleteOrder завершает заказ: атомарно проводит комиссию партнёра,
// затем помечает исходный клик и подтверждает заказ. Ключ идемпотентности —
// идентификатор заказа: повторный вызов возвращает SettlementAlreadySettled.
func (s *Service) CompleteOrder(ctx context.Context, orderID string) (*SettlementResult, error) {
	settlement, err := s.repo.SettleCommission(ctx, orderID)
	switch {
	case errors.Is(err, repository.ErrAlreadySettled):
		return &SettlementResult{Outcome: SettlementAlreadySettled}, nil
	case errors.Is(err, repository.ErrNoAffiliate):
		return &SettlementResult{Outcome: SettlementNoAffiliate}, nil
	case err != nil:
		return nil, err
	}

	s.metrics.CommissionSettled()

	// Пометка клика вынесена за атомарную границу: её потеря при сбое
	// восстановима по состоянию заказа и не должна откатывать комиссию.
	commission := settlement.Commission
	if err := s.repo.MarkClickConverted(ctx, settlement.AffiliateCode, orderID, &commission); err != nil {
		if errors.Is(err, repository.ErrClickNotFound) {
			s.logger.Debug("no unconverted click for settled order",
				zap.String("order", orderID), zap.String("affiliateCode", settlement.AffiliateCode))
		} else {
			s.logger.Warn("mark click converted", zap.Error(err), zap.String("order", orderID))
		}
	}

	// Оплаченный заказ подтверждается; заказ в более позднем статусе остаётся как есть.
	if _, err := s.UpdateOrderStatus(ctx, orderID, model.OrderStatusConfirmed); err != nil &&
		!errors.Is(err, repository.ErrInvalidTransition) {
		s.logger.Warn("confirm settled order", zap.Error(err), zap.String("order", orderID))
	}

	return &SettlementResult{
		Outcome:     SettlementSettled,
		Commission:  settlement.Commission,
		AffiliateID: settlement.AffiliateID,
	}, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// CreateAffiliate регистрирует нового активного партнёра с указанной ставкой.
func (s *Service) CreateAffiliate(ctx context.Context, code string, commissionRate float64) (*model.Affiliate, error) {
	a := &model.Affiliate{
		ID:             uuid.NewString(),
		Code:           code,
		Status:         model.AffiliateStatusActive,
		CommissionRate: commissionRate,
	}

	if err := s.repo.CreateAffiliate(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

// RecordClick сохраняет переход по партнёрской ссылке.
func (s *Service) RecordClick(ctx context.Context, affiliateCode string) (*model.AffiliateClick, error) {
	c := &model.AffiliateClick{
		ID:            uuid.NewString(),
		AffiliateCode: affiliateCode,
	}

	if err := s.repo.RecordClick(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}
