package notify

import (
	"net/http"
	"time"
)

// DeliveryResult はHTTPステータスコードに基づく配信結果の分類。
type DeliveryResult int

const (
	// DeliveryOK は配信成功（2xx）。
	DeliveryOK DeliveryResult = iota
	// DeliveryRetry は再送すべき結果（408/429/5xx、通信エラー）。
	DeliveryRetry
	// DeliveryDrop は再送しても成功しない結果（その他の4xx等）。
	DeliveryDrop
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 500 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 30 * time.Second
)

// ClassifyStatus はHTTPステータスコードを配信結果に分類する。
func ClassifyStatus(statusCode int) DeliveryResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return DeliveryOK
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests:
		return DeliveryRetry
	case statusCode >= 500:
		return DeliveryRetry
	default:
		return DeliveryDrop
	}
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大30秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
