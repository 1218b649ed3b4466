// Package session はジョブIDごとの接続中クライアントを管理します。
//
// Registry は唯一の共有マップを1つの RWMutex で保護します。
// ロックを保持したまま行うのは Sink.Send の呼び出しだけで、Sink はブロックしない契約です。
package session

import (
	"sync"
	"time"
)

// Sink は接続への送信口です。Send はブロックしてはいけません。
type Sink interface {
	Send(payload []byte) bool
	Close()
}

// Session はジョブIDに登録された接続です。
type Session struct {
	ID            string
	Sink          Sink
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// Registry はジョブIDと接続の対応表です。ゼロ値ではなく NewRegistry で作成してください。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Register は id に sink を登録し、置き換えられた古い Sink を返します（無ければ nil）。
// 古い Sink には何も通知しないため、必要なら呼び出し側で Close します。
func (r *Registry) Register(id string, sink Sink) Sink {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var previous Sink
	if old, ok := r.sessions[id]; ok {
		previous = old.Sink
	}
	r.sessions[id] = &Session{
		ID:            id,
		Sink:          sink,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	return previous
}

// Unregister は id のセッションを削除します。存在しなければ何もしません。
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Release は id に登録されているのが sink の場合だけ削除します。
// 後から接続した同じIDのセッションを、置き換えられた接続の終了処理が消さないようにするためのものです。
func (r *Registry) Release(id string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[id]
	if !ok || current.Sink != sink {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Deliver は id のセッションへ payload を渡します。セッションが無ければ破棄します。
func (r *Registry) Deliver(id string, payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.sessions[id]; ok {
		s.Sink.Send(payload)
	}
}

// Touch は id のセッションの最終ハートビート時刻を更新します。
func (r *Registry) Touch(id string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.LastHeartbeat = now
	}
}

// Lookup は id のセッションのコピーを返します。
func (r *Registry) Lookup(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Len は登録中のセッション数を返します。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
