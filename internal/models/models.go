// Package models はアプリケーションで使用するデータ構造を定義します
package models

// RoomType はルームの種別を表します
type RoomType string

const (
	RoomTypePrivate RoomType = "private" // 1対1（参加者2名が同一ならSaved Messages）
	RoomTypeGroup   RoomType = "group"   // グループチャット
	RoomTypeChannel RoomType = "channel" // チャンネル（投稿はadminのみ）
)

// User はチャットに参加するユーザーの情報を表します
type User struct {
	UserId    string `json:"userId"`              // ユーザーの一意な識別子
	Name      string `json:"name"`                // ユーザー名（表示用）
	UserImage string `json:"userImage,omitempty"` // ユーザーのアイコン画像URL（オプショナル）
	Biography string `json:"biography,omitempty"` // 自己紹介文（オプショナル）
}

// ReplyData は返信対象メッセージのスナップショットを表します
// 返信元が削除されても表示できるよう、本文抜粋と送信者名を複製して保持します
type ReplyData struct {
	TargetId   string `json:"targetId"`   // 返信対象メッセージのID
	Snippet    string `json:"snippet"`    // 返信対象メッセージ本文の抜粋
	SenderName string `json:"senderName"` // 返信対象メッセージの送信者名
}

// VoiceData はボイスメッセージの情報を表します
type VoiceData struct {
	Src         string   `json:"src"`         // 音声ファイルのURL
	DurationSec float64  `json:"durationSec"` // 再生時間（秒）
	PlayedBy    []string `json:"playedBy"`    // 再生済みユーザーIDのリスト
}

// Message はルーム内の1メッセージを表します
// SeenBy には送信者自身は決して含まれません
type Message struct {
	Id        string     `json:"id"`                 // サーバーが採番するメッセージID（ULID）
	ClientId  string     `json:"clientId,omitempty"` // 送信クライアントが採番する相関ID（エコー時にそのまま返す）
	RoomId    string     `json:"roomId"`             // 所属ルームのID
	Sender    User       `json:"sender"`             // 送信者
	Body      string     `json:"body"`               // 本文（ボイスのみの場合は空）
	CreatedAt int64      `json:"createdAt"`          // 作成日時（Unixミリ秒）
	IsEdited  bool       `json:"isEdited"`           // 編集済みフラグ
	PinnedAt  int64      `json:"pinnedAt,omitempty"` // ピン留め日時（Unixミリ秒、0は未ピン）
	SeenBy    []string   `json:"seenBy"`             // 既読ユーザーIDのリスト
	HideFor   []string   `json:"hideFor,omitempty"`  // 個別削除したユーザーIDのリスト
	ReplyTo   *ReplyData `json:"replyTo,omitempty"`  // 返信情報（オプショナル）
	Voice     *VoiceData `json:"voice,omitempty"`    // ボイス情報（オプショナル）
}

// Room はチャットルームの情報を表します
// private の場合 Participants は必ず2要素です（2名が同一ユーザーならSaved Messages）
type Room struct {
	Id           string   `json:"id"`                    // ルームの一意な識別子
	Type         RoomType `json:"type"`                  // ルームの種別
	Name         string   `json:"name"`                  // ルーム名（表示用）
	Avatar       string   `json:"avatar,omitempty"`      // ルームのアイコン画像URL（オプショナル）
	Participants []User   `json:"participants"`          // 参加者リスト
	Admins       []string `json:"admins,omitempty"`      // 管理者ユーザーIDのリスト
	Creator      string   `json:"creator"`               // 作成者のユーザーID
	Link         string   `json:"link,omitempty"`        // 招待リンク
	CreatedAt    int64    `json:"createdAt"`             // ルーム作成日時（Unixミリ秒）
	LastMessage  *Message `json:"lastMessage,omitempty"` // 最新メッセージのスナップショット
}

// PresenceEntry はオンラインユーザー1件を表します
// サーバーが全量配信するたびにクライアント側のセットは丸ごと置き換えられます
type PresenceEntry struct {
	SocketId string `json:"socketId"` // 接続の一意な識別子
	UserId   string `json:"userId"`   // ユーザーID
}

// RoomMessageTrack はルームごとのスクロール位置のチェックポイントを表します
type RoomMessageTrack struct {
	RoomId    string `json:"roomId"`    // ルームID
	ScrollPos int    `json:"scrollPos"` // 最後のスクロールオフセット
}

// IsParticipant は指定ユーザーがルームの参加者かどうかを返します
func (r *Room) IsParticipant(userId string) bool {
	for _, p := range r.Participants {
		if p.UserId == userId {
			return true
		}
	}
	return false
}

// IsAdmin は指定ユーザーがルームの管理者かどうかを返します
func (r *Room) IsAdmin(userId string) bool {
	for _, id := range r.Admins {
		if id == userId {
			return true
		}
	}
	return false
}

// HiddenFor は指定ユーザーに対してメッセージが非表示かどうかを返します
func (m *Message) HiddenFor(userId string) bool {
	for _, id := range m.HideFor {
		if id == userId {
			return true
		}
	}
	return false
}

// SeenByUser は指定ユーザーが既読済みかどうかを返します
func (m *Message) SeenByUser(userId string) bool {
	for _, id := range m.SeenBy {
		if id == userId {
			return true
		}
	}
	return false
}
