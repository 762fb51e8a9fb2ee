package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/secureops/internal/model"
)

type mockStatusRecorder struct {
	statuses []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/devices", nil))

	entry := parseLogEntry(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/devices" {
		t.Errorf("path = %v, want /api/devices", entry["path"])
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted for unauthenticated request")
	}
}

// TestLoggingMiddleware_IncludesSessionFromInnerMiddleware は
// 内側のセッションミドルウェアが確定したユーザーがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesSessionFromInnerMiddleware(t *testing.T) {
	var buf bytes.Buffer

	repo := newSessionRepo("sess-1", &model.Session{ID: "sess-1", UserID: "user4", Role: model.RoleViewer})
	inner := NewSessionMiddleware(&mockSessionDecoder{}, repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.AddCookie(&http.Cookie{Name: "secureops_session", Value: "sess-1"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, &buf)
	if entry["user_id"] != "user4" {
		t.Errorf("user_id = %v, want user4", entry["user_id"])
	}
	if entry["role"] != "Viewer" {
		t.Errorf("role = %v, want Viewer", entry["role"])
	}
}

// TestLoggingMiddleware_LevelByStatus はステータスコードに応じたログレベルを検証する。
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantLevel  string
	}{
		{"200 OK", http.StatusOK, "INFO"},
		{"400 Bad Request", http.StatusBadRequest, "WARN"},
		{"403 Forbidden", http.StatusForbidden, "WARN"},
		{"502 Bad Gateway", http.StatusBadGateway, "ERROR"},
		{"503 Service Unavailable", http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

			entry := parseLogEntry(t, &buf)
			if status := int(entry["status"].(float64)); status != tt.statusCode {
				t.Errorf("status = %d, want %d", status, tt.statusCode)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

// TestLoggingMiddleware_BodyWriteCapture はWriteHeaderなしの書き込みで200が記録されることを検証する。
func TestLoggingMiddleware_BodyWriteCapture(t *testing.T) {
	var buf bytes.Buffer
	metrics := &mockStatusRecorder{}

	handler := NewLoggingMiddleware(newTestLogger(&buf), metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := parseLogEntry(t, &buf)
	if status := int(entry["status"].(float64)); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if len(metrics.statuses) != 1 || metrics.statuses[0] != 200 {
		t.Errorf("recorded statuses = %v, want [200]", metrics.statuses)
	}
}

// TestLoggingMiddleware_RecordsStatusMetrics はステータスコードがメトリクスに記録されることを検証する。
func TestLoggingMiddleware_RecordsStatusMetrics(t *testing.T) {
	var buf bytes.Buffer
	metrics := &mockStatusRecorder{}

	handler := NewLoggingMiddleware(newTestLogger(&buf), metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	if len(metrics.statuses) != 1 || metrics.statuses[0] != http.StatusBadGateway {
		t.Errorf("recorded statuses = %v, want [502]", metrics.statuses)
	}
}
