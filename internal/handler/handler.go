// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/reseller-platform/internal/gateway"
	"github.com/mmeshcher/reseller-platform/internal/metrics"
	"github.com/mmeshcher/reseller-platform/internal/model"
	"github.com/mmeshcher/reseller-platform/internal/ratelimit"
	"github.com/mmeshcher/reseller-platform/internal/repository"
	"github.com/mmeshcher/reseller-platform/internal/service"
	"github.com/mmeshcher/reseller-platform/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CompleteOrder(ctx context.Context, orderID string) (*service.SettlementResult, error)
	RecoverOrder(ctx context.Context, ev *gateway.Event) (*service.RecoveryResult, error)
	UpdateOrderStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	CreateAffiliate(ctx context.Context, code string, commissionRate float64) (*model.Affiliate, error)
	RecordClick(ctx context.Context, affiliateCode string) (*model.AffiliateClick, error)
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service       Service
	logger        *zap.Logger
	classifier    *ratelimit.Classifier
	metrics       *metrics.Metrics
	webhookSecret string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, classifier *ratelimit.Classifier, m *metrics.Metrics, webhookSecret string) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		classifier:    classifier,
		metrics:       m,
		webhookSecret: webhookSecret,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIdentity извлекает идентификатор клиента для классификатора.
// Без заголовка X-Client-Id используется адрес источника запроса.
func clientIdentity(r *http.Request) string {
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return host
}

type rateLimitResponse struct {
	Allowed           bool   `json:"allowed"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
	BulkMode          bool   `json:"bulkMode"`
}

type completionResponse struct {
	Success     bool     `json:"success"`
	Outcome     string   `json:"outcome,omitempty"`
	Commission  *float64 `json:"commission,omitempty"`
	AffiliateID string   `json:"affiliateId,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// CompleteOrder обрабатывает клиентский запрос на завершение заказа.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	identity := clientIdentity(r)
	if identity == "" {
		h.logger.Debug("request without client identity, using shared throttle bucket")
	}

	decision := h.classifier.Admit(identity)
	if !decision.Allowed {
		h.metrics.AdmissionDenied(decision.BulkMode)

		retrySeconds := int(math.Ceil(decision.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Allowed:           false,
			Message:           decision.Reason,
			RetryAfterSeconds: retrySeconds,
			BulkMode:          decision.BulkMode,
		})
		return
	}

	orderID := chi.URLParam(r, "id")
	if !validation.IsValidOrderID(orderID) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	res, err := h.service.CompleteOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("complete order error", zap.Error(err), zap.String("order", orderID))
		writeJSON(w, http.StatusInternalServerError, completionResponse{
			Success: false,
			Error:   "could not complete order processing",
		})
		return
	}

	resp := completionResponse{Success: true, Outcome: string(res.Outcome)}
	if res.Outcome == service.SettlementSettled {
		commission := float64(res.Commission) / 100
		resp.Commission = &commission
		resp.AffiliateID = res.AffiliateID
	}

	writeJSON(w, http.StatusOK, resp)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
	Created  bool   `json:"created,omitempty"`
}

// PaymentWebhook принимает события платёжного шлюза. Доставка как минимум
// однократная: повторы штатно получают 200 без побочных эффектов.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !gateway.VerifySignature(body, r.Header.Get("X-Gateway-Signature"), h.webhookSecret) {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.RecoverOrder(r.Context(), ev)
	if err != nil {
		// Шлюз повторит доставку; восстановление идемпотентно по транзакции.
		h.logger.Error("recover order error", zap.Error(err), zap.String("event", ev.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Received: true,
		Outcome:  string(res.Outcome),
		OrderID:  res.OrderID,
		Created:  res.Created,
	})
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

var knownStatuses = map[model.OrderStatus]bool{
	model.OrderStatusPending:    true,
	model.OrderStatusConfirmed:  true,
	model.OrderStatusProcessing: true,
	model.OrderStatusShipped:    true,
	model.OrderStatusDelivered:  true,
	model.OrderStatusCancelled:  true,
}

type statusUpdateResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// UpdateOrderStatus принимает запись нового статуса заказа от инструментов фулфилмента.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if !validation.IsValidOrderID(orderID) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.OrderStatus(req.Status)
	if !knownStatuses[status] {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), orderID, status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInvalidTransition):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("update order status error", zap.Error(err), zap.String("order", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, statusUpdateResponse{OrderID: o.ID, Status: string(o.Status)})
}

type orderResponse struct {
	ID                  string           `json:"id"`
	Number              string           `json:"number"`
	Status              string           `json:"status"`
	Subtotal            float64          `json:"subtotal"`
	Shipping            float64          `json:"shipping"`
	Tax                 float64          `json:"tax"`
	Discount            float64          `json:"discount"`
	Total               float64          `json:"total"`
	Customer            model.Customer   `json:"customer"`
	Locale              string           `json:"locale"`
	Items               []model.LineItem `json:"items"`
	AffiliateCode       string           `json:"affiliateCode,omitempty"`
	AffiliateID         string           `json:"affiliateId,omitempty"`
	AffiliateCommission *float64         `json:"affiliateCommission,omitempty"`
	AttributionMethod   string           `json:"attributionMethod,omitempty"`
	ConversionProcessed bool             `json:"conversionProcessed"`
	Provenance          string           `json:"provenance"`
	CreatedAt           string           `json:"createdAt"`
	UpdatedAt           string           `json:"updatedAt"`
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if !validation.IsValidOrderID(orderID) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	o, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", orderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := orderResponse{
		ID:                  o.ID,
		Number:              o.Number,
		Status:              string(o.Status),
		Subtotal:            float64(o.Subtotal) / 100,
		Shipping:            float64(o.Shipping) / 100,
		Tax:                 float64(o.Tax) / 100,
		Discount:            float64(o.Discount) / 100,
		Total:               float64(o.Total) / 100,
		Customer:            o.Customer,
		Locale:              o.Locale,
		Items:               o.Items,
		AffiliateCode:       o.AffiliateCode,
		AffiliateID:         o.AffiliateID,
		AttributionMethod:   string(o.AttributionMethod),
		ConversionProcessed: o.ConversionProcessed,
		Provenance:          string(o.Provenance),
		CreatedAt:           o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           o.UpdatedAt.Format(time.RFC3339),
	}
	if o.AffiliateCommission != nil {
		commission := float64(*o.AffiliateCommission) / 100
		resp.AffiliateCommission = &commission
	}

	writeJSON(w, http.StatusOK, resp)
}

type createAffiliateRequest struct {
	Code           string  `json:"code"`
	CommissionRate float64 `json:"commissionRate"`
}

type affiliateResponse struct {
	ID             string  `json:"id"`
	Code           string  `json:"code"`
	Status         string  `json:"status"`
	CommissionRate float64 `json:"commissionRate"`
}

// CreateAffiliate регистрирует нового партнёра.
func (h *Handler) CreateAffiliate(w http.ResponseWriter, r *http.Request) {
	var req createAffiliateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidAffiliateCode(req.Code) || req.CommissionRate < 0 || req.CommissionRate > 100 {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	a, err := h.service.CreateAffiliate(r.Context(), req.Code, req.CommissionRate)
	if err != nil {
		if errors.Is(err, repository.ErrAffiliateExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("create affiliate error", zap.Error(err), zap.String("code", req.Code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, affiliateResponse{
		ID:             a.ID,
		Code:           a.Code,
		Status:         string(a.Status),
		CommissionRate: a.CommissionRate,
	})
}

type recordClickRequest struct {
	AffiliateCode string `json:"affiliateCode"`
}

type clickResponse struct {
	ClickID       string `json:"clickId"`
	AffiliateCode string `json:"affiliateCode"`
}

// RecordClick сохраняет переход по партнёрской ссылке.
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	var req recordClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidAffiliateCode(req.AffiliateCode) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	c, err := h.service.RecordClick(r.Context(), req.AffiliateCode)
	if err != nil {
		if errors.Is(err, repository.ErrAffiliateNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("record click error", zap.Error(err), zap.String("code", req.AffiliateCode))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, clickResponse{
		ClickID:       c.ID,
		AffiliateCode: c.AffiliateCode,
	})
}
