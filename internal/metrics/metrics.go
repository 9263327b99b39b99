// Package metrics содержит счётчики ядра обработки заказов.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics агрегирует счётчики конвейера завершения заказов.
// Нулевой указатель безопасен: все методы тогда ничего не делают.
type Metrics struct {
	admissionsDenied    *prometheus.CounterVec
	ordersRecovered     prometheus.Counter
	commissionsSettled  prometheus.Counter
	notificationsFailed prometheus.Counter
}

// New создаёт и регистрирует счётчики в указанном реестре.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissionsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reseller",
			Name:      "admissions_denied_total",
			Help:      "Requests denied by the rate classifier.",
		}, []string{"mode"}),
		ordersRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reseller",
			Name:      "orders_recovered_total",
			Help:      "Orders reconstructed from payment gateway webhooks.",
		}),
		commissionsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reseller",
			Name:      "commissions_settled_total",
			Help:      "Affiliate commissions settled exactly once per order.",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reseller",
			Name:      "notifications_failed_total",
			Help:      "Status notifications that failed to dispatch.",
		}),
	}

	reg.MustRegister(m.admissionsDenied, m.ordersRecovered, m.commissionsSettled, m.notificationsFailed)

	return m
}

// AdmissionDenied учитывает отказ классификатора в указанном режиме.
func (m *Metrics) AdmissionDenied(bulk bool) {
	if m == nil {
		return
	}
	mode := "normal"
	if bulk {
		mode = "bulk"
	}
	m.admissionsDenied.WithLabelValues(mode).Inc()
}

// OrderRecovered учитывает восстановленный заказ.
func (m *Metrics) OrderRecovered() {
	if m == nil {
		return
	}
	m.ordersRecovered.Inc()
}

// CommissionSettled учитывает проведённую комиссию.
func (m *Metrics) CommissionSettled() {
	if m == nil {
		return
	}
	m.commissionsSettled.Inc()
}

// NotificationFailed учитывает неудачную отправку уведомления.
func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notificationsFailed.Inc()
}
