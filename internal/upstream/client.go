package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/secureops/internal/model"
)

const (
	userAgent = "SecureOps/1.0"
	// maxBodySize はJSONレスポンスの最大サイズ（32MB）。
	maxBodySize = 32 << 20
)

// Requester は上流APIへのGETを発行し、失敗をFetchErrorに変換する。
type Requester struct {
	client *http.Client
	source string
	logger *slog.Logger

	// テスト用に差し替え可能な待機関数
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRequester はRequesterを生成する。
// sourceはFetchErrorに記録する取得元名（"directory" または "devices"）。
func NewRequester(client *http.Client, source string, logger *slog.Logger) *Requester {
	return &Requester{
		client: client,
		source: source,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Source は取得元名を返す。
func (r *Requester) Source() string {
	return r.source
}

// GetJSON はurlをGETし、レスポンスJSONをoutにデコードする。
// 429/5xxと通信エラーは指数バックオフで最大3回まで試行する。
// 失敗時は常に*model.FetchErrorを返す。
func (r *Requester) GetJSON(ctx context.Context, url string, out any) error {
	body, _, err := r.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.NewFetchError(r.source, model.FetchKindParse, 0, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// GetBytes はurlをGETし、レスポンスボディとContent-Typeを返す。
func (r *Requester) GetBytes(ctx context.Context, url string) ([]byte, string, error) {
	return r.get(ctx, url, "*/*")
}

func (r *Requester) get(ctx context.Context, url, accept string) ([]byte, string, error) {
	var lastErr *model.FetchError

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := CalculateBackoff(attempt - 1)
			if lastErr != nil && lastErr.StatusCode != 0 {
				wait = retryAfterFromErr(lastErr, wait)
			}
			r.logger.Warn("retrying upstream request",
				slog.String("source", r.source),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
				slog.String("error", lastErr.Error()),
			)
			if err := r.sleep(ctx, wait); err != nil {
				return nil, "", model.NewFetchError(r.source, model.FetchKindTransport, 0, err)
			}
		}

		body, contentType, fe, retry := r.do(ctx, url, accept)
		if fe == nil {
			return body, contentType, nil
		}
		lastErr = fe
		if !retry {
			break
		}
	}

	return nil, "", lastErr
}

// do は1回分のリクエストを実行する。retryは再試行すべき失敗かどうか。
func (r *Requester) do(ctx context.Context, url, accept string) ([]byte, string, *model.FetchError, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", model.NewFetchError(r.source, model.FetchKindTransport, 0, fmt.Errorf("failed to create request: %w", err)), false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := r.client.Do(req)
	if err != nil {
		// トークン取得の失敗はauthとして扱う
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, "", model.NewFetchError(r.source, model.FetchKindAuth, status, err), false
		}
		if ctx.Err() != nil {
			return nil, "", model.NewFetchError(r.source, model.FetchKindTransport, 0, err), false
		}
		return nil, "", model.NewFetchError(r.source, model.FetchKindTransport, 0, err), true
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", model.NewFetchError(r.source, model.FetchKindTransport, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)), true
	}

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case StatusOK:
		return body, resp.Header.Get("Content-Type"), nil, false
	case StatusAuth:
		return nil, "", model.NewFetchError(r.source, model.FetchKindAuth, resp.StatusCode, statusError(resp.StatusCode, body)), false
	case StatusRetry:
		fe := model.NewFetchError(r.source, model.FetchKindStatus, resp.StatusCode, statusError(resp.StatusCode, body))
		fe.Err = &retryableError{err: fe.Err, retryAfter: retryAfter(resp.Header, 0)}
		return nil, "", fe, true
	default:
		return nil, "", model.NewFetchError(r.source, model.FetchKindStatus, resp.StatusCode, statusError(resp.StatusCode, body)), false
	}
}

// retryableError はRetry-Afterの値を保持するエラー。
type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryAfterFromErr(fe *model.FetchError, fallback time.Duration) time.Duration {
	var re *retryableError
	if errors.As(fe.Err, &re) && re.retryAfter > 0 {
		return re.retryAfter
	}
	return fallback
}

func statusError(statusCode int, body []byte) error {
	const maxSnippet = 512
	if len(body) > maxSnippet {
		body = body[:maxSnippet]
	}
	return fmt.Errorf("unexpected status %d: %s", statusCode, string(body))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
