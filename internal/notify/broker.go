// Package notify は台帳の変更通知を提供する。
// Broker はプロセス内の購読者へイベントを配り、WebhookDispatcher は購読者の1つとして
// 外部エンドポイントへイベントを転送する。
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/hwledger/internal/model"
)

// Publisher は台帳イベントの発行インターフェース。
// 発行は呼び出し元をブロックしない。
type Publisher interface {
	Publish(ctx context.Context, event model.LedgerEvent)
}

// NopPublisher はイベントを破棄するPublisher。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, model.LedgerEvent) {}

// Broker はプロセス内のイベント配信を行う。
// 購読者のバッファが満杯の場合、そのイベントはその購読者に対してのみ破棄される。
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int]chan model.LedgerEvent
	nextID      int
	closed      bool
	logger      *slog.Logger
}

// NewBroker はBrokerを生成する。
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[int]chan model.LedgerEvent),
		logger:      logger,
	}
}

// Subscribe は購読を開始し、イベントを受け取るチャネルと購読解除関数を返す。
// 購読解除またはClose後、チャネルはクローズされる。
func (b *Broker) Subscribe(buffer int) (<-chan model.LedgerEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan model.LedgerEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
}

// Publish はすべての購読者にイベントを送る。
func (b *Broker) Publish(ctx context.Context, event model.LedgerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.WarnContext(ctx, "購読者のバッファが満杯のためイベントを破棄しました",
				slog.Int("subscriber", id),
				slog.String("event_id", event.ID),
				slog.String("event_type", string(event.Type)),
			)
		}
	}
}

// Close はすべての購読者のチャネルをクローズする。以降のPublishは何もしない。
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// compile-time interface checks
var (
	_ Publisher = (*Broker)(nil)
	_ Publisher = NopPublisher{}
)
