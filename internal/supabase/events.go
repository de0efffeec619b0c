package supabase

import (
	"context"
	"sync"

	"github.com/hitoshi/acm/internal/model"
)

// subscriberBuffer は購読者ごとのイベントバッファ長。
const subscriberBuffer = 16

// broadcaster はセッション変更イベントを全購読者に配信する。
// 購読者の受信が遅れてバッファが埋まった場合は最も古いイベントを捨て、
// 最新のイベントを必ず残す。
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan model.AuthChange
	next   int
	closed bool
	done   chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs: make(map[int]chan model.AuthChange),
		done: make(chan struct{}),
	}
}

// subscribe は購読者を登録し、initialが返すイベントを最初に積んだチャネルを返す。
// initialは配信と同じロックの内側で評価されるため、以後のpublishと順序が入れ替わらない。
func (b *broadcaster) subscribe(ctx context.Context, initial func() model.AuthChange) <-chan model.AuthChange {
	ch := make(chan model.AuthChange, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	if initial != nil {
		deliver(ch, initial())
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}()

	return ch
}

// publish はイベントを全購読者に配信する。受信側を待たない。
func (b *broadcaster) publish(evt model.AuthChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		deliver(ch, evt)
	}
}

// close は全購読者のチャネルを閉じ、以後の購読をすぐに終了させる。
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// deliver はバッファが埋まっていれば古いイベントを1件捨ててから積む。
// 送信側はbroadcaster.muで直列化されているため、ループは必ず終わる。
func deliver(ch chan model.AuthChange, evt model.AuthChange) {
	for {
		select {
		case ch <- evt:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
