package session

import "sync"

// Outbox は接続ごとの送信キューです。
// キューが満杯のときは最も古いペイロードを捨てて新しいものを入れるため、Send はブロックしません。
// スナップショットは常に全件を含むので、古いものを捨てても最新状態は失われません。
type Outbox struct {
	mu      sync.Mutex
	queue   chan []byte
	done    chan struct{}
	closed  bool
	dropped int
}

// NewOutbox は容量 size の Outbox を作成します。
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
}

// Send は payload をキューに積みます。Close 後は false を返します。
func (o *Outbox) Send(payload []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}

	select {
	case o.queue <- payload:
		return true
	default:
	}

	select {
	case <-o.queue:
		o.dropped++
	default:
	}

	select {
	case o.queue <- payload:
		return true
	default:
		o.dropped++
		return false
	}
}

// Messages は書き込み側のゴルーチンが読むチャネルです。
func (o *Outbox) Messages() <-chan []byte {
	return o.queue
}

// Done は Close されると閉じられます。
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close は以降の Send を無効にします。複数回呼んでも安全です。
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

// Dropped は満杯のため捨てたペイロード数を返します。
func (o *Outbox) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
