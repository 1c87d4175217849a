package client

import (
	"sort"
	"sync"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

// RoomRegistry はこのクライアントにとって正のルーム一覧と「アクティブルーム」ポインタを保持します
// サーバーからの一覧・スナップショットは常に丸ごと置き換えます（last-write-wins）
type RoomRegistry struct {
	mu      sync.RWMutex
	rooms   []models.Room
	active  string
	me      string
	emitter Emitter
}

// NewRoomRegistry は新しいRoomRegistryを作成します
func NewRoomRegistry(me string, emitter Emitter) *RoomRegistry {
	return &RoomRegistry{me: me, emitter: emitter}
}

// RequestRooms はルーム一覧の全量取得を要求します
// 冪等なので再接続のたびに呼んで問題ありません
func (r *RoomRegistry) RequestRooms() {
	_ = r.emitter.Emit(protocol.EventGetRooms, protocol.GetRoomsPayload{UserId: r.me})
}

// Join はルーム購読の意図を送信し、アクティブポインタを切り替えます
// 成功するとサーバーが完全なスナップショットをエコーします
func (r *RoomRegistry) Join(roomId string) {
	r.mu.Lock()
	r.active = roomId
	r.mu.Unlock()
	_ = r.emitter.Emit(protocol.EventJoining, protocol.JoiningPayload{RoomId: roomId, UserId: r.me})
}

// CreateRoom はルーム作成の意図を送信し、仮のルームを一覧へ楽観的に挿入します
// サーバーの確認エコーで HandleCreateRoomEcho が走り、一覧は取り直されます
func (r *RoomRegistry) CreateRoom(room models.Room, first *models.Message) {
	r.mu.Lock()
	if r.indexOf(room.Id) < 0 {
		r.rooms = append(r.rooms, room)
	}
	r.mu.Unlock()
	_ = r.emitter.Emit(protocol.EventCreateRoom, protocol.CreateRoomPayload{NewRoomData: room, FirstMessage: first})
}

// ReplaceAll はルーム一覧を丸ごと置き換えます
// 同一IDの重複は除去されます（再接続時の取り直しで重複が生まれないように）
func (r *RoomRegistry) ReplaceAll(rooms []models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(rooms))
	next := make([]models.Room, 0, len(rooms))
	for _, room := range rooms {
		if seen[room.Id] {
			continue
		}
		seen[room.Id] = true
		next = append(next, room)
	}
	r.rooms = next
}

// ApplySnapshot は joining エコーのスナップショットでルームのメタデータを置き換えます
// ローカルの古いメタデータ編集は破棄されます（意図的な last-write-wins）
func (r *RoomRegistry) ApplySnapshot(room models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(room.Id); i >= 0 {
		r.rooms[i] = room
	} else {
		r.rooms = append(r.rooms, room)
	}
}

// HandleCreateRoomEcho はサーバーのルーム作成確認を処理します
// 一覧を取り直し、自分が作成者なら自動でjoinします
func (r *RoomRegistry) HandleCreateRoomEcho(room models.Room) {
	r.RequestRooms()
	if room.Creator == r.me {
		r.Join(room.Id)
	}
}

// HandleDeleteRoom はサーバー起点のルーム削除を処理します
// 削除されたルームがアクティブだった場合はポインタをクリアします
func (r *RoomRegistry) HandleDeleteRoom(roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(roomId); i >= 0 {
		r.rooms = append(r.rooms[:i], r.rooms[i+1:]...)
	}
	if r.active == roomId {
		r.active = ""
	}
}

// SetLastMessage はルームの最新メッセージスナップショットを更新します
func (r *RoomRegistry) SetLastMessage(roomId string, msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(roomId); i >= 0 {
		m := msg
		r.rooms[i].LastMessage = &m
	}
}

// UnionLastMessageSeen は一覧プレビュー用に最新メッセージの既読セットへ追記します
func (r *RoomRegistry) UnionLastMessageSeen(roomId, msgId, seenBy string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(roomId)
	if i < 0 || r.rooms[i].LastMessage == nil || r.rooms[i].LastMessage.Id != msgId {
		return
	}
	last := r.rooms[i].LastMessage
	if last.SeenByUser(seenBy) {
		return
	}
	last.SeenBy = append(last.SeenBy, seenBy)
}

// ApplyUserData はプロフィール変更を全ルームの参加者情報に反映します
func (r *RoomRegistry) ApplyUserData(p protocol.UpdateUserDataPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.rooms {
		for j := range r.rooms[i].Participants {
			if r.rooms[i].Participants[j].UserId != p.UserId {
				continue
			}
			if p.Name != "" {
				r.rooms[i].Participants[j].Name = p.Name
			}
			if p.UserImage != "" {
				r.rooms[i].Participants[j].UserImage = p.UserImage
			}
			if p.Biography != "" {
				r.rooms[i].Participants[j].Biography = p.Biography
			}
		}
	}
}

// Active はアクティブルームのIDを返します（未選択は空文字）
func (r *RoomRegistry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ClearActive はアクティブポインタをクリアします
func (r *RoomRegistry) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = ""
}

// Rooms は現在のルーム一覧のコピーを返します
func (r *RoomRegistry) Rooms() []models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Room, len(r.rooms))
	copy(out, r.rooms)
	return out
}

// Room は指定IDのルームを返します
func (r *RoomRegistry) Room(roomId string) (models.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(roomId); i >= 0 {
		return r.rooms[i], true
	}
	return models.Room{}, false
}

// RoomsByActivity は表示用の並び（最新メッセージの新しい順）を返します
// 並び順はレジストリの不変条件ではなく、呼び出しのたびに計算される射影です
func (r *RoomRegistry) RoomsByActivity() []models.Room {
	out := r.Rooms()
	sort.SliceStable(out, func(i, j int) bool {
		return lastActivity(out[i]) > lastActivity(out[j])
	})
	return out
}

func lastActivity(room models.Room) int64 {
	if room.LastMessage != nil {
		return room.LastMessage.CreatedAt
	}
	return room.CreatedAt
}

// indexOf は呼び出し側でロックを保持している前提です
func (r *RoomRegistry) indexOf(roomId string) int {
	for i := range r.rooms {
		if r.rooms[i].Id == roomId {
			return i
		}
	}
	return -1
}
