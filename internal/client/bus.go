// Package client はサーバーと状態を同期するクライアント側のコアを実装します
// 接続管理・ルーム一覧・メッセージログ・入力中表示・在席状態・下書きなどの
// ストアを Session が束ね、単一のWebSocket接続を全コンポーネントで共有します
package client

import (
	"sync"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

// Bus はイベント名ごとの型付きpublish/subscribeチャネルです
// 購読者は Subscription ハンドルを受け取り、不要になったら必ず Release します
// 共有ソケットに対する on/off の貼り忘れ・二重登録をクラス構造で防ぎます
type Bus struct {
	mu     sync.RWMutex
	nextId int
	subs   map[string]map[int]func(protocol.Envelope) // イベント名 -> 購読ID -> ハンドラ
}

// Subscription は1つの購読を表すハンドルです
type Subscription struct {
	bus   *Bus
	event string
	id    int
}

// NewBus は新しいBusを作成します
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]func(protocol.Envelope))}
}

// Subscribe はイベントの購読を登録し、解除用のハンドルを返します
func (b *Bus) Subscribe(event string, fn func(protocol.Envelope)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.subs[event]
	if !ok {
		handlers = make(map[int]func(protocol.Envelope))
		b.subs[event] = handlers
	}
	b.nextId++
	handlers[b.nextId] = fn
	return &Subscription{bus: b, event: event, id: b.nextId}
}

// Publish は受信したEnvelopeをイベントの全購読者に配ります
// ハンドラは受信goroutine上で同期的に実行されるため、短く非ブロッキングであることが前提です
func (b *Bus) Publish(env protocol.Envelope) {
	b.mu.RLock()
	handlers := make([]func(protocol.Envelope), 0, len(b.subs[env.Event]))
	for _, fn := range b.subs[env.Event] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}
}

// Release は購読を解除します。複数回呼んでも安全です
func (s *Subscription) Release() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subs[s.event]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.event)
		}
	}
	s.bus = nil
}
