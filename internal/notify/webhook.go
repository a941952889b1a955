package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/hwledger/internal/metrics"
	"github.com/hitoshi/hwledger/internal/model"
)

const (
	defaultMaxConcurrent = 4
	defaultMaxAttempts   = 3
	userAgent            = "hwledger-webhook/1.0"
)

// WebhookConfig はWebhook配信の設定。
type WebhookConfig struct {
	URLs          []string
	MaxConcurrent int // 同時に配信するエンドポイント数の上限
	MaxAttempts   int // 1エンドポイントあたりの最大試行回数
}

// WebhookDispatcher は台帳イベントを外部エンドポイントへPOSTする。
// 受信側はイベントIDで重複を排除できるため、失敗時は同じイベントを再送する。
type WebhookDispatcher struct {
	client        *http.Client
	urls          []string
	maxConcurrent int
	maxAttempts   int
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewWebhookDispatcher はWebhookDispatcherを生成する。
// client には通常 security.WebhookGuard.NewSafeClient で生成したクライアントを渡す。
func NewWebhookDispatcher(client *http.Client, cfg WebhookConfig, logger *slog.Logger, m metrics.MetricsCollector) *WebhookDispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		client:        client,
		urls:          cfg.URLs,
		maxConcurrent: cfg.MaxConcurrent,
		maxAttempts:   cfg.MaxAttempts,
		logger:        logger,
		metrics:       m,
		sleep:         sleepContext,
	}
}

// Run はイベントチャネルがクローズされるか ctx がキャンセルされるまでイベントを配信する。
func (d *WebhookDispatcher) Run(ctx context.Context, events <-chan model.LedgerEvent) {
	d.logger.Info("Webhookディスパッチャを開始しました",
		slog.Int("endpoints", len(d.urls)),
		slog.Int("max_concurrent", d.maxConcurrent),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Webhookディスパッチャを停止しました")
			return
		case event, ok := <-events:
			if !ok {
				d.logger.Info("Webhookディスパッチャを停止しました")
				return
			}
			if err := d.Dispatch(ctx, event); err != nil {
				d.logger.Error("Webhook配信に失敗しました",
					slog.String("event_id", event.ID),
					slog.String("event_type", string(event.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Dispatch は1件のイベントを全エンドポイントへ並列に配信する。
// 1つのエンドポイントの失敗は他の配信を中断しない。
func (d *WebhookDispatcher) Dispatch(ctx context.Context, event model.LedgerEvent) error {
	if len(d.urls) == 0 {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)
	for _, url := range d.urls {
		g.Go(func() error {
			return d.deliver(ctx, url, event, body)
		})
	}
	return g.Wait()
}

// deliver は1エンドポイントへの配信を最大試行回数まで行う。
func (d *WebhookDispatcher) deliver(ctx context.Context, url string, event model.LedgerEvent, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, CalculateBackoff(attempt-1)); err != nil {
				return err
			}
		}

		start := time.Now()
		result, err := d.post(ctx, url, event, body)
		d.recordLatency(time.Since(start))

		switch result {
		case DeliveryOK:
			d.recordDelivery(metrics.OutcomeSuccess)
			d.logger.Debug("Webhookを配信しました",
				slog.String("url", url),
				slog.String("event_id", event.ID),
				slog.Int("attempt", attempt+1),
			)
			return nil
		case DeliveryDrop:
			d.recordDelivery(metrics.OutcomeRejected)
			return fmt.Errorf("webhook %s rejected event %s: %w", url, event.ID, err)
		}

		lastErr = err
		d.logger.Warn("Webhook配信を再試行します",
			slog.String("url", url),
			slog.String("event_id", event.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	d.recordDelivery(metrics.OutcomeError)
	return fmt.Errorf("webhook %s failed after %d attempts: %w", url, d.maxAttempts, lastErr)
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, event model.LedgerEvent, body []byte) (DeliveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return DeliveryDrop, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Hwledger-Event", string(event.Type))
	req.Header.Set("X-Hwledger-Delivery", event.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return DeliveryDrop, ctx.Err()
		}
		return DeliveryRetry, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	result := ClassifyStatus(resp.StatusCode)
	if result == DeliveryOK {
		return result, nil
	}
	return result, fmt.Errorf("unexpected status %d", resp.StatusCode)
}

func (d *WebhookDispatcher) recordDelivery(outcome string) {
	if d.metrics != nil {
		d.metrics.RecordWebhookDelivery(outcome)
	}
}

func (d *WebhookDispatcher) recordLatency(elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordWebhookLatency(elapsed)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
