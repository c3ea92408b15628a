package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sketchwire",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sketchwire",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	wsMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sketchwire",
		Name:      "ws_messages_total",
		Help:      "Total number of WebSocket messages handled, by kind",
	}, []string{"type"})

	strokesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchwire",
		Name:      "strokes_committed_total",
		Help:      "Total number of strokes appended to room logs",
	})

	undosApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchwire",
		Name:      "undos_applied_total",
		Help:      "Total number of strokes removed by per-user undo",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchwire",
		Name:      "active_rooms",
		Help:      "Number of currently live rooms",
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchwire",
		Name:      "connected_clients",
		Help:      "Number of open WebSocket connections",
	})
)

func RoomCreated()   { activeRooms.Inc() }
func RoomDestroyed() { activeRooms.Dec() }

func ClientConnected()    { connectedClients.Inc() }
func ClientDisconnected() { connectedClients.Dec() }

func MessageReceived(kind string) { wsMessages.WithLabelValues(kind).Inc() }
func StrokeCommitted()            { strokesCommitted.Inc() }
func UndoApplied()                { undosApplied.Inc() }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack is required for the WebSocket upgrade to pass through the recorder.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request counts and latencies for the HTTP surface.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
