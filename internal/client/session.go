package client

import (
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

// roomSnapshot は joining 応答のワイヤ形式です
type roomSnapshot struct {
	Room     models.Room      `json:"room"`
	Messages []models.Message `json:"messages"`
}

// SessionOptions はSessionの設定です
type SessionOptions struct {
	URL              string        // 接続先のWebSocket URL（userIdクエリ付き）
	Me               models.User   // このセッションのユーザー
	HandshakeTimeout time.Duration // ハンドシェイクのタイムアウト
	ReconnectMin     time.Duration // 再接続バックオフの下限
	ReconnectMax     time.Duration // 再接続バックオフの上限
	TypingDebounce   time.Duration // 入力終了とみなす無入力時間
	DraftsPath       string        // 下書きの永続化先ファイル（空ならメモリのみ）
	OnState          func(State)   // 接続状態遷移の通知
	Dial             Dialer        // テスト用の接続差し替え
}

// Session は1ユーザー分のクライアント状態を束ねるコンテナです
// 全コンポーネントが単一のConnとBusを共有し、サーバーイベントの配線はここに集約されます
//
// 接続確立（再接続含む）のたびに全量再同期が走ります:
// 1. ルーム一覧の取り直し（getRooms）
// 2. アクティブルームがあれば再join（スナップショットで丸ごと置き換え）
// 切断中に失われたイベントはこの再同期で回収されるため、差分の追跡は不要です
type Session struct {
	Me       models.User
	Conn     *Conn
	Bus      *Bus
	Rooms    *RoomRegistry
	Messages *MessageSync
	Typing   *TypingCoordinator
	Presence *PresenceTracker
	Drafts   *DraftStore
	Tracks   *ScrollTracker
	Voice    *VoiceStore

	subs []*Subscription
}

// NewSession は全コンポーネントを配線したSessionを作成します
// Startを呼ぶまで接続は開始されません
func NewSession(opts SessionOptions) *Session {
	bus := NewBus()
	s := &Session{
		Me:       opts.Me,
		Bus:      bus,
		Presence: NewPresenceTracker(),
		Drafts:   NewDraftStore(opts.DraftsPath),
		Voice:    NewVoiceStore(),
	}

	s.Conn = NewConn(ConnOptions{
		URL:              opts.URL,
		HandshakeTimeout: opts.HandshakeTimeout,
		BackoffMin:       opts.ReconnectMin,
		BackoffMax:       opts.ReconnectMax,
		Dial:             opts.Dial,
		OnState:          opts.OnState,
		OnConnected:      s.resync,
	}, bus)

	s.Rooms = NewRoomRegistry(opts.Me.UserId, s.Conn)
	s.Messages = NewMessageSync(opts.Me, s.Conn)
	s.Typing = NewTypingCoordinator(opts.Me, s.Conn, opts.TypingDebounce)
	s.Tracks = NewScrollTracker(opts.Me.UserId, s.Conn)

	s.wire()
	return s
}

// Start は接続ループを開始します
func (s *Session) Start() {
	s.Conn.Start()
}

// Close はセッションを終了します
// 未送信のスクロール位置を送信し、購読とタイマーをすべて解放してから切断します
func (s *Session) Close() {
	s.Tracks.Flush()
	s.Typing.Close()
	for _, sub := range s.subs {
		sub.Release()
	}
	s.subs = nil
	s.Conn.Close()
}

// SendMessage は下書きをクリアしつつメッセージを送信します
func (s *Session) SendMessage(roomId, body string, replyTo *models.ReplyData, voice *models.VoiceData) models.Message {
	s.Typing.Flush(roomId)
	s.Drafts.Clear(roomId)
	return s.Messages.Send(roomId, body, replyTo, voice)
}

// resync は接続確立のたびに呼ばれるエントリーアクションです
func (s *Session) resync() {
	s.Rooms.RequestRooms()
	if active := s.Rooms.Active(); active != "" {
		s.Rooms.Join(active)
	}
}

// wire はサーバーイベントを各コンポーネントへ配線します
func (s *Session) wire() {
	s.on(protocol.EventGetRooms, func(env protocol.Envelope) {
		var rooms []models.Room
		if env.Decode(&rooms) == nil {
			s.Rooms.ReplaceAll(rooms)
		}
	})
	s.on(protocol.EventJoining, func(env protocol.Envelope) {
		var snap roomSnapshot
		if env.Decode(&snap) == nil {
			s.Rooms.ApplySnapshot(snap.Room)
			s.Messages.ApplySnapshot(snap.Room.Id, snap.Messages)
		}
	})
	s.on(protocol.EventCreateRoom, func(env protocol.Envelope) {
		var room models.Room
		if env.Decode(&room) == nil {
			s.Rooms.HandleCreateRoomEcho(room)
		}
	})
	s.on(protocol.EventDeleteRoom, func(env protocol.Envelope) {
		var p protocol.DeleteRoomPayload
		if env.Decode(&p) == nil {
			s.Rooms.HandleDeleteRoom(p.RoomId)
			s.Drafts.Clear(p.RoomId)
		}
	})
	s.on(protocol.EventNewMessage, func(env protocol.Envelope) {
		var msg models.Message
		if env.Decode(&msg) == nil {
			s.Messages.ApplyServerMessage(msg)
		}
	})
	s.on(protocol.EventLastMsgUpdate, func(env protocol.Envelope) {
		var p protocol.LastMsgUpdatePayload
		if env.Decode(&p) == nil {
			s.Rooms.SetLastMessage(p.RoomId, p.Message)
		}
	})
	s.on(protocol.EventEditMessage, func(env protocol.Envelope) {
		var msg models.Message
		if env.Decode(&msg) == nil {
			s.Messages.ApplyEdit(msg)
		}
	})
	s.on(protocol.EventDeleteMsg, func(env protocol.Envelope) {
		var p protocol.DeleteMsgPayload
		if env.Decode(&p) == nil {
			s.Messages.ApplyDelete(p)
		}
	})
	s.on(protocol.EventPinMessage, func(env protocol.Envelope) {
		var p protocol.PinMessagePayload
		if env.Decode(&p) == nil {
			s.Messages.ApplyPin(p)
		}
	})
	s.on(protocol.EventSeenMsg, func(env protocol.Envelope) {
		var p protocol.SeenMsgPayload
		if env.Decode(&p) == nil {
			s.Messages.ApplySeen(p)
			s.Rooms.UnionLastMessageSeen(p.RoomId, p.MsgId, p.SeenBy)
		}
	})
	s.on(protocol.EventTyping, func(env protocol.Envelope) {
		var p protocol.TypingPayload
		if env.Decode(&p) == nil {
			s.Typing.ApplyTyping(p)
		}
	})
	s.on(protocol.EventStopTyping, func(env protocol.Envelope) {
		var p protocol.TypingPayload
		if env.Decode(&p) == nil {
			s.Typing.ApplyStopTyping(p)
		}
	})
	s.on(protocol.EventUpdateOnlineUsers, func(env protocol.Envelope) {
		var entries []models.PresenceEntry
		if env.Decode(&entries) == nil {
			s.Presence.Replace(entries)
		}
	})
	// 接続直後にサーバーが保存済みチェックポイントの全量を配信します
	s.on(protocol.EventUpdateLastMsgPos, func(env protocol.Envelope) {
		var tracks []models.RoomMessageTrack
		if env.Decode(&tracks) == nil {
			s.Tracks.ReplaceAll(tracks)
		}
	})
	s.on(protocol.EventUpdateUserData, func(env protocol.Envelope) {
		var p protocol.UpdateUserDataPayload
		if env.Decode(&p) == nil {
			s.Rooms.ApplyUserData(p)
		}
	})
	s.on(protocol.EventListenToVoice, func(env protocol.Envelope) {
		var p protocol.ListenToVoicePayload
		if env.Decode(&p) == nil {
			s.Messages.ApplyVoicePlayed(p)
		}
	})
	s.on(protocol.EventUpdateRoomData, func(env protocol.Envelope) {
		var room models.Room
		if env.Decode(&room) == nil {
			s.Rooms.ApplySnapshot(room)
		}
	})
}

func (s *Session) on(event string, fn func(protocol.Envelope)) {
	s.subs = append(s.subs, s.Bus.Subscribe(event, fn))
}

// LeaveActiveRoom はアクティブルームから離れ、スクロール位置を永続化します
func (s *Session) LeaveActiveRoom() {
	if active := s.Rooms.Active(); active != "" {
		s.Typing.Flush(active)
	}
	s.Tracks.Flush()
	s.Rooms.ClearActive()
}
