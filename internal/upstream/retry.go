package upstream

import (
	"net/http"
	"strconv"
	"time"
)

// StatusClass はHTTPステータスコードに基づく取得結果の分類。
type StatusClass int

const (
	// StatusOK は取得成功（2xx）。
	StatusOK StatusClass = iota
	// StatusAuth は認証・認可エラー（401/403）。リトライしない。
	StatusAuth
	// StatusRetry は再試行で回復し得るエラー（429/5xx）。
	StatusRetry
	// StatusFail はその他のエラー。リトライしない。
	StatusFail
)

const (
	// maxAttempts は1リクエストあたりの最大試行回数。
	maxAttempts = 3
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 500 * time.Millisecond
	// maxBackoff はバックオフおよびRetry-Afterの上限。
	maxBackoff = 30 * time.Second
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return StatusAuth
	case statusCode == http.StatusTooManyRequests:
		return StatusRetry
	case statusCode >= 500:
		return StatusRetry
	default:
		return StatusFail
	}
}

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大30秒。
func CalculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// retryAfter はRetry-Afterヘッダー（秒数）を解釈する。
// 未指定または不正な値の場合はfallbackを返す。
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return fallback
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 {
		return fallback
	}
	d := time.Duration(sec) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
