package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_ws_connections",
		Help: "Current number of active room feed websocket connections",
	})
	RoomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_rooms_created_total",
		Help: "Total number of rooms created",
	})
	MessagesPostedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_messages_posted_total",
		Help: "Total number of messages posted",
	})
	AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_auth_failures_total",
		Help: "Total number of rejected credentials",
	}, []string{"reason"})
	GatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_market_gateway_requests_total",
		Help: "Total number of market data gateway calls",
	}, []string{"provider", "outcome"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		RoomsCreatedTotal,
		MessagesPostedTotal,
		AuthFailuresTotal,
		GatewayRequestsTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
