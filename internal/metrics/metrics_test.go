package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{409, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	if len(body) == 0 {
		t.Error("Expected non-empty metrics response")
	}

	// Gauges are always exported with their default value; counters only
	// appear after the first observation.
	if !strings.Contains(body, "gigvault_active_websocket_clients") {
		t.Error("Expected metrics output to contain gigvault_active_websocket_clients")
	}

	SettlementsTotal.WithLabelValues("deposit", "ok").Inc()

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)
	body = w.Body.String()

	if !strings.Contains(body, "gigvault_settlements_total") {
		t.Error("Expected gigvault_settlements_total after incrementing")
	}
}

func TestActiveWebSocketClientsGauge(t *testing.T) {
	ActiveWebSocketClients.Set(0)
	ActiveWebSocketClients.Inc()
	ActiveWebSocketClients.Inc()
	ActiveWebSocketClients.Dec()

	var m dto.Metric
	if err := ActiveWebSocketClients.Write(&m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Errorf("Expected gauge value 1, got %v", got)
	}
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}
