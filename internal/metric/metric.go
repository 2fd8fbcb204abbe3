package metric

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	Relayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_relay_total",
		Help: "Relay attempts by event and outcome",
	}, []string{"event", "outcome"})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "REST requests by route and status",
	}, []string{"route", "status"})
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(Connections, Relayed, HTTPRequests)
	})
}
