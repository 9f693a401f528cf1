package db

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHealthHandler_NoDatabase(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(nil)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "healthy" || body["database"] != "disabled" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestPoolStats_JSON(t *testing.T) {
	stats := PoolStats{
		TotalConns:      1,
		IdleConns:       1,
		MaxConns:        10,
		AcquireCount:    50,
		AcquireDuration: "250ms",
		Healthy:         true,
	}
	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration", "healthy"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected key %q in JSON", key)
		}
	}
	if decoded["acquire_duration"] != "250ms" {
		t.Errorf("unexpected acquire_duration: %v", decoded["acquire_duration"])
	}
}
