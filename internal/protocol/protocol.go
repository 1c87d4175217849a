// Package protocol はWebSocketで送受信するイベントとペイロードを定義します
// すべてのメッセージは Envelope 形式でやり取りされます
package protocol

import (
	"encoding/json"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
)

// クライアント→サーバーのイベント名
const (
	EventJoining            = "joining"                  // ルーム購読（サーバーはルームスナップショットを返す）
	EventGetRooms           = "getRooms"                 // ルーム一覧の全量取得
	EventCreateRoom         = "createRoom"               // ルーム作成（最初のメッセージ付き）
	EventNewMessage         = "newMessage"               // 新規メッセージ送信
	EventEditMessage        = "editMessage"              // メッセージ編集
	EventDeleteMsg          = "deleteMsg"                // メッセージ削除（forAll または個別非表示）
	EventPinMessage         = "pinMessage"               // ピン留めトグル
	EventSeenMsg            = "seenMsg"                  // 既読通知
	EventTyping             = "typing"                   // 入力中通知
	EventStopTyping         = "stop-typing"              // 入力終了通知
	EventUpdateLastMsgPos   = "updateLastMsgPos"         // スクロール位置のチェックポイント
	EventUpdateUserData     = "updateUserData"           // プロフィール変更の配信
	EventListenToVoice      = "listenToVoice"            // ボイスメッセージ再生の記録
	EventGetVoiceListeners  = "getVoiceMessageListeners" // ボイス再生者一覧の取得
)

// サーバー→クライアント専用のイベント名
const (
	EventUpdateOnlineUsers = "updateOnlineUsers" // オンラインユーザー全量配信
	EventDeleteRoom        = "deleteRoom"        // ルーム削除通知
	EventLastMsgUpdate     = "lastMsgUpdate"     // ルームの最新メッセージ更新
	EventUpdateRoomData    = "updateRoomData"    // ルームメタデータ更新
	EventError             = "error"             // エラー通知（該当ソケットのみ）
)

// Envelope はWebSocketで送受信するメッセージの構造
type Envelope struct {
	Event   string          `json:"event"`             // イベント名
	Payload json.RawMessage `json:"payload,omitempty"` // イベントごとのペイロード
}

// NewEnvelope はペイロードをエンコードしてEnvelopeを作成します
func NewEnvelope(event string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: b}, nil
}

// Decode はEnvelopeのペイロードを指定の構造体にデコードします
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}

// JoiningPayload はルーム購読のペイロード
type JoiningPayload struct {
	RoomId string `json:"roomId"` // 購読するルームのID
	UserId string `json:"userId"` // 購読するユーザーのID
}

// GetRoomsPayload はルーム一覧取得のペイロード
type GetRoomsPayload struct {
	UserId string `json:"userId"` // 対象ユーザーのID
}

// CreateRoomPayload はルーム作成のペイロード
// FirstMessage はルーム作成と同時に永続化されます
type CreateRoomPayload struct {
	NewRoomData  models.Room     `json:"newRoomData"`            // 作成するルームのデータ
	FirstMessage *models.Message `json:"firstMessage,omitempty"` // 最初のメッセージ（オプショナル）
}

// NewMessagePayload は新規メッセージ送信のペイロード
type NewMessagePayload struct {
	RoomId   string            `json:"roomId"`             // 送信先ルームのID
	ClientId string            `json:"clientId"`           // クライアント採番の相関ID
	Body     string            `json:"body"`               // 本文
	Sender   models.User       `json:"sender"`             // 送信者
	ReplyTo  *models.ReplyData `json:"replyTo,omitempty"`  // 返信情報（オプショナル）
	Voice    *models.VoiceData `json:"voice,omitempty"`    // ボイス情報（オプショナル）
}

// EditMessagePayload はメッセージ編集のペイロード
type EditMessagePayload struct {
	MsgId     string `json:"msgId"`     // 対象メッセージのID
	EditedMsg string `json:"editedMsg"` // 編集後の本文
	RoomId    string `json:"roomId"`    // 所属ルームのID
	UserId    string `json:"userId"`    // 編集を要求したユーザーのID
}

// DeleteMsgPayload はメッセージ削除のペイロード
// ForAll がtrueなら全員から削除、falseなら要求者の画面からのみ非表示
type DeleteMsgPayload struct {
	MsgId  string `json:"msgId"`  // 対象メッセージのID
	RoomId string `json:"roomId"` // 所属ルームのID
	UserId string `json:"userId"` // 削除を要求したユーザーのID
	ForAll bool   `json:"forAll"` // 全員から削除するかどうか
}

// PinMessagePayload はピン留めトグルのペイロード
type PinMessagePayload struct {
	MsgId         string `json:"msgId"`         // 対象メッセージのID
	RoomId        string `json:"roomId"`        // 所属ルームのID
	IsLastMessage bool   `json:"isLastMessage"` // 対象がルーム最新メッセージかどうか
	PinnedAt      int64  `json:"pinnedAt"`      // エコー時のみ: 新しいピン日時（0は解除）
}

// SeenMsgPayload は既読通知のペイロード
type SeenMsgPayload struct {
	SeenBy string      `json:"seenBy"` // 既読したユーザーのID
	Sender models.User `json:"sender"` // メッセージの送信者
	MsgId  string      `json:"msgId"`  // 対象メッセージのID
	RoomId string      `json:"roomId"` // 所属ルームのID
}

// TypingPayload は入力中/入力終了通知のペイロード
type TypingPayload struct {
	RoomId string      `json:"roomId"` // 対象ルームのID
	Sender models.User `json:"sender"` // 入力中のユーザー
}

// UpdateLastMsgPosPayload はスクロール位置チェックポイントのペイロード
type UpdateLastMsgPosPayload struct {
	RoomId    string `json:"roomId"`    // 対象ルームのID
	ScrollPos int    `json:"scrollPos"` // スクロールオフセット
	UserId    string `json:"userId"`    // 対象ユーザーのID
}

// UpdateUserDataPayload はプロフィール変更配信のペイロード
type UpdateUserDataPayload struct {
	UserId    string `json:"userId"`              // 対象ユーザーのID
	Name      string `json:"name,omitempty"`      // 新しいユーザー名
	UserImage string `json:"userImage,omitempty"` // 新しいアイコンURL
	Biography string `json:"biography,omitempty"` // 新しい自己紹介文
}

// ListenToVoicePayload はボイス再生記録のペイロード
type ListenToVoicePayload struct {
	UserId  string `json:"userId"`  // 再生したユーザーのID
	VoiceId string `json:"voiceId"` // 対象ボイスメッセージのID
	RoomId  string `json:"roomId"`  // 所属ルームのID
}

// GetVoiceListenersPayload はボイス再生者一覧の要求/応答ペイロード
type GetVoiceListenersPayload struct {
	MsgId     string        `json:"msgId"`               // 対象メッセージのID
	Listeners []models.User `json:"listeners,omitempty"` // 応答時のみ: 再生済みユーザー一覧
}

// DeleteRoomPayload はルーム削除通知のペイロード
type DeleteRoomPayload struct {
	RoomId string `json:"roomId"` // 削除されたルームのID
}

// LastMsgUpdatePayload はルーム最新メッセージ更新のペイロード
type LastMsgUpdatePayload struct {
	RoomId  string         `json:"roomId"`  // 対象ルームのID
	Message models.Message `json:"message"` // 新しい最新メッセージ
}

// ErrorPayload はエラー通知のペイロード
type ErrorPayload struct {
	Message string `json:"message"` // エラーメッセージ
}
