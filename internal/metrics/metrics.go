// Package metrics содержит Prometheus-метрики торгов и оформления заказов.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics содержит метрики ядра маркетплейса. Методы безопасно вызывать на nil.
type Metrics struct {
	bargainDecisions   *prometheus.CounterVec
	checkouts          *prometheus.CounterVec
	checkoutDuration   *prometheus.HistogramVec
	stockRejections    prometheus.Counter
	orderStatusChanges *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в registerer (DefaultRegisterer, если nil).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		bargainDecisions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tradbazar_bargain_decisions_total",
			Help: "Bargain decisions by outcome",
		}, []string{"outcome"}),
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tradbazar_checkouts_total",
			Help: "Checkout attempts by mode and result",
		}, []string{"mode", "result"}),
		checkoutDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "tradbazar_checkout_duration_seconds",
			Help:    "Duration of checkout transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"mode"}),
		stockRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tradbazar_stock_rejections_total",
			Help: "Checkouts rejected because of insufficient stock",
		}),
		orderStatusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tradbazar_order_status_changes_total",
			Help: "Order status transitions by target status",
		}, []string{"status"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// Handler возвращает HTTP-обработчик для сбора метрик.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBargainDecision учитывает решение по предложению.
func (m *Metrics) RecordBargainDecision(outcome string) {
	if m == nil {
		return
	}
	m.bargainDecisions.WithLabelValues(outcome).Inc()
}

// RecordCheckout учитывает попытку оформления и её длительность.
func (m *Metrics) RecordCheckout(mode, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(mode, result).Inc()
	m.checkoutDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStockRejection учитывает отказ из-за нехватки остатка.
func (m *Metrics) RecordStockRejection() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

// RecordOrderStatusChange учитывает смену статуса заказа.
func (m *Metrics) RecordOrderStatusChange(status string) {
	if m == nil {
		return
	}
	m.orderStatusChanges.WithLabelValues(status).Inc()
}
