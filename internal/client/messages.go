package client

import (
	"sort"
	"sync"
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/idgen"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

// MessageSync はルームごとの順序付き・重複なしメッセージログを維持し、
// 楽観的に挿入したローカル状態をサーバーエコーと照合します
//
// 照合はクライアント採番の相関ID（ClientId）で厳密に行います。
// 同じサーバー確認済みメッセージを二度受信してもログは変化しません（冪等マージ）
type MessageSync struct {
	mu        sync.RWMutex
	logs      map[string][]models.Message // ルームID -> 到着順ログ
	pending   map[string]bool             // 未確認の相関IDの集合
	activePin map[string]int              // ルームID -> 表示中ピンのインデックス
	me        models.User
	emitter   Emitter
	now       func() int64 // 現在時刻（Unixミリ秒）。テストで差し替え可能
}

// ScrollDecision はメッセージ到着/ローカル操作後のスクロール挙動を表します
type ScrollDecision int

const (
	ScrollNone        ScrollDecision = iota // 何もしない
	ScrollToBottom                          // 最新メッセージまで自動スクロール
	ScrollUnreadBadge                       // 未読件数のバッジを表示（強制スクロールしない）
)

// NewMessageSync は新しいMessageSyncを作成します
func NewMessageSync(me models.User, emitter Emitter) *MessageSync {
	return &MessageSync{
		logs:      make(map[string][]models.Message),
		pending:   make(map[string]bool),
		activePin: make(map[string]int),
		me:        me,
		emitter:   emitter,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Send はメッセージを楽観的にログへ挿入し、サーバーへ送信します
// 戻り値は相関IDだけが確定した仮エントリです。サーバーIDはエコーで埋まります
func (ms *MessageSync) Send(roomId, body string, replyTo *models.ReplyData, voice *models.VoiceData) models.Message {
	provisional := models.Message{
		ClientId:  idgen.NewClientID(),
		RoomId:    roomId,
		Sender:    ms.me,
		Body:      body,
		CreatedAt: ms.now(),
		SeenBy:    []string{},
		ReplyTo:   replyTo,
		Voice:     voice,
	}

	ms.mu.Lock()
	ms.logs[roomId] = append(ms.logs[roomId], provisional)
	ms.pending[provisional.ClientId] = true
	ms.mu.Unlock()

	_ = ms.emitter.Emit(protocol.EventNewMessage, protocol.NewMessagePayload{
		RoomId:   roomId,
		ClientId: provisional.ClientId,
		Body:     body,
		Sender:   ms.me,
		ReplyTo:  replyTo,
		Voice:    voice,
	})
	return provisional
}

// ApplyServerMessage はサーバーエコー（自分宛を含むbroadcast）をログへマージします
// マージ規則:
// 1. 相関IDが未確認の仮エントリと一致 -> その場で置き換え（位置は保持）
// 2. サーバーIDが既にログにある -> 何もしない（重複エコーの吸収）
// 3. それ以外 -> 末尾に追加
func (ms *MessageSync) ApplyServerMessage(msg models.Message) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	logs := ms.logs[msg.RoomId]

	if msg.ClientId != "" && ms.pending[msg.ClientId] {
		for i := range logs {
			if logs[i].Id == "" && logs[i].ClientId == msg.ClientId {
				logs[i] = msg
				delete(ms.pending, msg.ClientId)
				return
			}
		}
		// 仮エントリが見つからない（スナップショット置き換え後など）場合は追加扱い
		delete(ms.pending, msg.ClientId)
	}

	for i := range logs {
		if logs[i].Id != "" && logs[i].Id == msg.Id {
			return
		}
	}
	ms.logs[msg.RoomId] = append(logs, msg)
}

// ApplySnapshot は joining エコーでルームのログを丸ごと置き換えます
// まだ確認されていない楽観的エントリは失われないよう末尾に繋ぎ直します
func (ms *MessageSync) ApplySnapshot(roomId string, msgs []models.Message) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	unconfirmed := make([]models.Message, 0)
	for _, m := range ms.logs[roomId] {
		if m.Id == "" && m.ClientId != "" && ms.pending[m.ClientId] {
			unconfirmed = append(unconfirmed, m)
		}
	}

	next := make([]models.Message, 0, len(msgs)+len(unconfirmed))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.Id != "" && seen[m.Id] {
			continue
		}
		seen[m.Id] = true
		next = append(next, m)
	}
	ms.logs[roomId] = append(next, unconfirmed...)
}

// ApplyEdit は対象IDのメッセージの本文と編集フラグのみを更新します
func (ms *MessageSync) ApplyEdit(msg models.Message) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	logs := ms.logs[msg.RoomId]
	for i := range logs {
		if logs[i].Id == msg.Id {
			logs[i].Body = msg.Body
			logs[i].IsEdited = true
			return
		}
	}
}

// ApplyPin は対象IDのメッセージのピン日時のみを更新します。他のメッセージには触れません
func (ms *MessageSync) ApplyPin(p protocol.PinMessagePayload) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	logs := ms.logs[p.RoomId]
	for i := range logs {
		if logs[i].Id == p.MsgId {
			logs[i].PinnedAt = p.PinnedAt
			return
		}
	}
}

// ApplySeen は既読セットへの和集合追記です。減算は決して行いません
// 自分が送信者のメッセージへの自分の既読は no-op です
func (ms *MessageSync) ApplySeen(p protocol.SeenMsgPayload) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	logs := ms.logs[p.RoomId]
	for i := range logs {
		if logs[i].Id != p.MsgId {
			continue
		}
		if logs[i].Sender.UserId == p.SeenBy {
			return
		}
		if logs[i].SeenByUser(p.SeenBy) {
			return
		}
		logs[i].SeenBy = append(logs[i].SeenBy, p.SeenBy)
		return
	}
}

// ApplyDelete は削除イベントを処理します
// forAll=true ならログから除去、自分の個別削除エコーならローカルからのみ除去します
func (ms *MessageSync) ApplyDelete(p protocol.DeleteMsgPayload) {
	if !p.ForAll && p.UserId != ms.me.UserId {
		return // 他人の個別削除は自分のログに影響しない
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	logs := ms.logs[p.RoomId]
	for i := range logs {
		if logs[i].Id == p.MsgId {
			ms.logs[p.RoomId] = append(logs[:i], logs[i+1:]...)
			return
		}
	}
}

// ApplyVoicePlayed はボイスメッセージの再生者を追記します（冪等）
func (ms *MessageSync) ApplyVoicePlayed(p protocol.ListenToVoicePayload) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	logs := ms.logs[p.RoomId]
	for i := range logs {
		if logs[i].Id != p.VoiceId || logs[i].Voice == nil {
			continue
		}
		for _, id := range logs[i].Voice.PlayedBy {
			if id == p.UserId {
				return
			}
		}
		logs[i].Voice.PlayedBy = append(logs[i].Voice.PlayedBy, p.UserId)
		return
	}
}

// MarkSeen は閲覧を既読としてサーバーへ通知します
// 自分が送信したメッセージは対象外です
func (ms *MessageSync) MarkSeen(roomId, msgId string) {
	ms.mu.RLock()
	var target *models.Message
	logs := ms.logs[roomId]
	for i := range logs {
		if logs[i].Id == msgId {
			target = &logs[i]
			break
		}
	}
	if target == nil || target.Sender.UserId == ms.me.UserId || target.SeenByUser(ms.me.UserId) {
		ms.mu.RUnlock()
		return
	}
	sender := target.Sender
	ms.mu.RUnlock()

	_ = ms.emitter.Emit(protocol.EventSeenMsg, protocol.SeenMsgPayload{
		SeenBy: ms.me.UserId,
		Sender: sender,
		MsgId:  msgId,
		RoomId: roomId,
	})
}

// Messages は指定ルームのログのコピーを返します
func (ms *MessageSync) Messages(roomId string) []models.Message {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]models.Message, len(ms.logs[roomId]))
	copy(out, ms.logs[roomId])
	return out
}

// UnseenCount は自分宛ての未読件数を返します
// 自分が送信したメッセージはどんな場合も数えません
func (ms *MessageSync) UnseenCount(roomId string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	count := 0
	for _, m := range ms.logs[roomId] {
		if m.Sender.UserId == ms.me.UserId {
			continue
		}
		if !m.SeenByUser(ms.me.UserId) {
			count++
		}
	}
	return count
}

// Pinned はピン留めメッセージを pinnedAt の降順（新しい順）で返します
func (ms *MessageSync) Pinned(roomId string) []models.Message {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, m := range ms.logs[roomId] {
		if m.PinnedAt != 0 {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PinnedAt > out[j].PinnedAt })
	return out
}

// ActivePin はヘッダーに表示中のピン留めメッセージを返します
func (ms *MessageSync) ActivePin(roomId string) (models.Message, bool) {
	pins := ms.Pinned(roomId)
	if len(pins) == 0 {
		return models.Message{}, false
	}

	ms.mu.Lock()
	idx := ms.activePin[roomId]
	if idx >= len(pins) {
		idx = 0
		ms.activePin[roomId] = 0
	}
	ms.mu.Unlock()
	return pins[idx], true
}

// AdvancePin は表示中のピンを1つ後ろへ回します
// ピン集合のサイズを法として巡回するため、N回進めると元の表示に戻ります
func (ms *MessageSync) AdvancePin(roomId string) {
	pins := ms.Pinned(roomId)
	if len(pins) == 0 {
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.activePin[roomId] = (ms.activePin[roomId] - 1 + len(pins)) % len(pins)
}

// RequestPin はピン留めトグルの意図をサーバーへ送信します
func (ms *MessageSync) RequestPin(roomId, msgId string) {
	ms.mu.RLock()
	logs := ms.logs[roomId]
	isLast := len(logs) > 0 && logs[len(logs)-1].Id == msgId
	ms.mu.RUnlock()

	_ = ms.emitter.Emit(protocol.EventPinMessage, protocol.PinMessagePayload{
		MsgId:         msgId,
		RoomId:        roomId,
		IsLastMessage: isLast,
	})
}

// RequestEdit はメッセージ編集の意図をサーバーへ送信します
func (ms *MessageSync) RequestEdit(roomId, msgId, editedBody string) {
	_ = ms.emitter.Emit(protocol.EventEditMessage, protocol.EditMessagePayload{
		MsgId:     msgId,
		EditedMsg: editedBody,
		RoomId:    roomId,
		UserId:    ms.me.UserId,
	})
}

// RequestDelete はメッセージ削除の意図をサーバーへ送信します
// forAll=false の場合、エコーを待たずローカルから即座に隠します
func (ms *MessageSync) RequestDelete(roomId, msgId string, forAll bool) {
	p := protocol.DeleteMsgPayload{MsgId: msgId, RoomId: roomId, UserId: ms.me.UserId, ForAll: forAll}
	if !forAll {
		ms.ApplyDelete(p)
	}
	_ = ms.emitter.Emit(protocol.EventDeleteMsg, p)
}

// RequestVoicePlayed はボイス再生の記録をサーバーへ送信します
func (ms *MessageSync) RequestVoicePlayed(roomId, voiceId string) {
	_ = ms.emitter.Emit(protocol.EventListenToVoice, protocol.ListenToVoicePayload{
		UserId:  ms.me.UserId,
		VoiceId: voiceId,
		RoomId:  roomId,
	})
}

// DecideScroll は到着メッセージに対するスクロール挙動を決めます
// 自分の送信、または既に最下部を見ている場合のみ自動スクロールします
// 他人のメッセージを最下部以外で受けた場合は未読バッジに留めます
func DecideScroll(msg models.Message, myId string, atBottom bool) ScrollDecision {
	if msg.Sender.UserId == myId || atBottom {
		return ScrollToBottom
	}
	return ScrollUnreadBadge
}

// DecideScrollForCompose は返信/編集コンポーズを開いた際のスクロール挙動です
// ローカル操作は常に最新エントリまでスクロールします
func DecideScrollForCompose() ScrollDecision {
	return ScrollToBottom
}
