package client

import (
	"sync"
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

// TypingCoordinator は自分の入力中通知と、他参加者の入力中表示を管理します
//
// 送信側: 連続キーストロークの最初の1打で typing を送り、
// 最後の1打から一定時間（既定1.5秒）入力が途絶えたときに一度だけ stop-typing を送ります。
// タイマーは打鍵ごとに後ろへ延びるトレーリングデバウンスです
//
// 受信側: ルームごとに表示名の集合を保持し、同じ送信者の stop-typing でのみ除去します
type TypingCoordinator struct {
	mu       sync.Mutex
	emitter  Emitter
	me       models.User
	debounce time.Duration
	timers   map[string]*time.Timer // ルームID -> 自分のデバウンスタイマー
	remote   map[string][]string    // ルームID -> 入力中ユーザーの表示名
}

// NewTypingCoordinator は新しいTypingCoordinatorを作成します
func NewTypingCoordinator(me models.User, emitter Emitter, debounce time.Duration) *TypingCoordinator {
	if debounce <= 0 {
		debounce = 1500 * time.Millisecond
	}
	return &TypingCoordinator{
		emitter:  emitter,
		me:       me,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		remote:   make(map[string][]string),
	}
}

// Keystroke は1打鍵を通知します
// バーストの最初の打鍵でのみ typing を送信し、以降はタイマー延長だけを行います
func (tc *TypingCoordinator) Keystroke(roomId string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if t, ok := tc.timers[roomId]; ok {
		t.Reset(tc.debounce)
		return
	}

	tc.timers[roomId] = time.AfterFunc(tc.debounce, func() { tc.expire(roomId) })
	_ = tc.emitter.Emit(protocol.EventTyping, protocol.TypingPayload{
		RoomId: roomId,
		Sender: tc.me,
	})
}

// expire はデバウンス満了時に stop-typing を送信します
func (tc *TypingCoordinator) expire(roomId string) {
	tc.mu.Lock()
	if _, ok := tc.timers[roomId]; !ok {
		tc.mu.Unlock()
		return
	}
	delete(tc.timers, roomId)
	tc.mu.Unlock()

	_ = tc.emitter.Emit(protocol.EventStopTyping, protocol.TypingPayload{
		RoomId: roomId,
		Sender: tc.me,
	})
}

// Flush はバーストを即座に終了し stop-typing を送信します
// 送信ボタン押下やルーム退出時に呼びます。バースト中でなければ何もしません
func (tc *TypingCoordinator) Flush(roomId string) {
	tc.mu.Lock()
	t, ok := tc.timers[roomId]
	if ok {
		t.Stop()
		delete(tc.timers, roomId)
	}
	tc.mu.Unlock()

	if ok {
		_ = tc.emitter.Emit(protocol.EventStopTyping, protocol.TypingPayload{
			RoomId: roomId,
			Sender: tc.me,
		})
	}
}

// ApplyTyping は他参加者の typing イベントを取り込みます
// 自分自身のエコーは無視します
func (tc *TypingCoordinator) ApplyTyping(p protocol.TypingPayload) {
	if p.Sender.UserId == tc.me.UserId {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	for _, name := range tc.remote[p.RoomId] {
		if name == p.Sender.Name {
			return
		}
	}
	tc.remote[p.RoomId] = append(tc.remote[p.RoomId], p.Sender.Name)
}

// ApplyStopTyping は他参加者の stop-typing イベントを取り込みます
// そのイベントの送信者の表示名だけを除去します
func (tc *TypingCoordinator) ApplyStopTyping(p protocol.TypingPayload) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	names := tc.remote[p.RoomId]
	for i, name := range names {
		if name == p.Sender.Name {
			tc.remote[p.RoomId] = append(names[:i], names[i+1:]...)
			return
		}
	}
}

// Typers は指定ルームで入力中のユーザー表示名を返します
func (tc *TypingCoordinator) Typers(roomId string) []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]string, len(tc.remote[roomId]))
	copy(out, tc.remote[roomId])
	return out
}

// Close は保留中のタイマーをすべて破棄します。stop-typing は送信しません
func (tc *TypingCoordinator) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for roomId, t := range tc.timers {
		t.Stop()
		delete(tc.timers, roomId)
	}
}
