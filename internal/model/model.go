// Package model содержит доменные сущности платформы заказов реселлера.
package model

import "time"

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// CanTransition проверяет допустимость перехода статуса заказа.
// Отмена возможна из любого нетерминального статуса.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}

	if to == OrderStatusCancelled {
		return from != OrderStatusDelivered && from != OrderStatusCancelled
	}

	next := map[OrderStatus]OrderStatus{
		OrderStatusPending:    OrderStatusConfirmed,
		OrderStatusConfirmed:  OrderStatusProcessing,
		OrderStatusProcessing: OrderStatusShipped,
		OrderStatusShipped:    OrderStatusDelivered,
	}

	return next[from] == to
}

// OrderProvenance описывает происхождение записи заказа.
type OrderProvenance string

const (
	// ProvenanceClient — заказ записан клиентским путём оформления.
	ProvenanceClient OrderProvenance = "client"
	// ProvenanceRecovered — заказ восстановлен из уведомления платёжного шлюза.
	ProvenanceRecovered OrderProvenance = "recovered"
)

// AttributionMethod описывает способ привязки заказа к партнёру.
type AttributionMethod string

const (
	AttributionServer   AttributionMethod = "server"
	AttributionCookie   AttributionMethod = "cookie"
	AttributionDiscount AttributionMethod = "discount"
)

// LineItem описывает позицию заказа. Цена хранится в минимальных единицах валюты.
type LineItem struct {
	ID        string `json:"id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Name      string `json:"name"`
}

// Customer содержит снимок контактных данных покупателя на момент заказа.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Order описывает заказ и данные партнёрской атрибуции.
// Все денежные поля хранятся в минимальных единицах валюты.
type Order struct {
	ID     string
	Number string
	Status OrderStatus

	Subtotal int64
	Shipping int64
	Tax      int64
	Discount int64
	Total    int64

	Customer Customer
	Locale   string
	Items    []LineItem

	AffiliateCode string
	ClickID       string
	DiscountCode  string
	PaymentRef    string

	AffiliateID         string
	AffiliateCommission *int64
	AttributionMethod   AttributionMethod
	ConversionProcessed bool

	Provenance OrderProvenance
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CommissionBase возвращает сумму, от которой считается комиссия.
// Канонический приоритет полей: subtotal, затем total; берётся первое положительное значение.
func (o *Order) CommissionBase() int64 {
	if o.Subtotal > 0 {
		return o.Subtotal
	}
	if o.Total > 0 {
		return o.Total
	}
	return 0
}

// AffiliateStatus описывает статус партнёра.
type AffiliateStatus string

const (
	AffiliateStatusActive    AffiliateStatus = "active"
	AffiliateStatusPending   AffiliateStatus = "pending"
	AffiliateStatusSuspended AffiliateStatus = "suspended"
)

// AffiliateStats содержит счётчики партнёра. Начисления и баланс — в минимальных единицах валюты.
type AffiliateStats struct {
	Clicks        int64 `json:"clicks"`
	Conversions   int64 `json:"conversions"`
	TotalEarnings int64 `json:"totalEarnings"`
	Balance       int64 `json:"balance"`
}

// Affiliate описывает партнёра реферальной программы.
type Affiliate struct {
	ID             string
	Code           string
	Status         AffiliateStatus
	CommissionRate float64
	Stats          AffiliateStats
	CreatedAt      time.Time
}

// AffiliateClick описывает переход по партнёрской ссылке.
// После установки Converted запись больше не изменяется.
type AffiliateClick struct {
	ID            string
	AffiliateCode string
	Converted     bool
	OrderID       string
	Commission    *int64
	CreatedAt     time.Time
}
