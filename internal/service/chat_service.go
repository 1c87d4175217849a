// Package service はビジネスロジックを担当します
// ルームの作成・参加・一覧と、メッセージの追記・編集・削除・ピン留め・既読などの処理を提供します
package service

import (
	"context"
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/idgen"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/repo"
)

// ChatService はチャットのビジネスロジックを提供します
type ChatService struct {
	repo   repo.ChatRepo // データ永続化を担当するリポジトリ
	ttlSec int           // ルームの有効期限（秒、0は無期限）
	now    func() int64  // 現在時刻（Unixミリ秒）の取得。テストで差し替え可能
}

// RoomSnapshot は joining 応答で返すルームの完全なスナップショットです
// クライアント側のキャッシュはこのスナップショットで丸ごと置き換えられます（last-write-wins）
type RoomSnapshot struct {
	Room     models.Room      `json:"room"`
	Messages []models.Message `json:"messages"`
}

// NewChatService は新しいChatServiceを作成します
func NewChatService(r repo.ChatRepo, ttlSec int) *ChatService {
	return &ChatService{
		repo:   r,
		ttlSec: ttlSec,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// CreateRoom は新しいルームを作成します
// 処理の流れ:
// 1. ルーム種別の検証（privateは参加者ちょうど2名）
// 2. IDと招待リンクを採番してルームを保存
// 3. 参加者全員のルームセットに追加
// 4. 最初のメッセージがあれば追記
func (s *ChatService) CreateRoom(ctx context.Context, room models.Room, first *models.Message) (models.Room, error) {
	switch room.Type {
	case models.RoomTypePrivate:
		if len(room.Participants) != 2 {
			return models.Room{}, ErrInvalidRoom
		}
	case models.RoomTypeGroup, models.RoomTypeChannel:
		if len(room.Participants) == 0 || room.Creator == "" {
			return models.Room{}, ErrInvalidRoom
		}
	default:
		return models.Room{}, ErrInvalidRoom
	}

	if room.Id == "" {
		room.Id = idgen.NewULID()
	}
	if room.Link == "" {
		link, err := idgen.NewRoomLink()
		if err != nil {
			return models.Room{}, err
		}
		room.Link = link
	}
	room.CreatedAt = s.now()

	if err := s.repo.CreateRoom(ctx, room, s.ttlSec); err != nil {
		return models.Room{}, err
	}
	for _, p := range room.Participants {
		if err := s.repo.AddUserRoom(ctx, p.UserId, room.Id); err != nil {
			return models.Room{}, err
		}
	}

	if first != nil {
		first.RoomId = room.Id
		if _, err := s.AppendMessage(ctx, protocol.NewMessagePayload{
			RoomId:   room.Id,
			ClientId: first.ClientId,
			Body:     first.Body,
			Sender:   first.Sender,
			ReplyTo:  first.ReplyTo,
			Voice:    first.Voice,
		}); err != nil {
			return models.Room{}, err
		}
		// スナップショットを最新化
		if r, ok, err := s.repo.GetRoom(ctx, room.Id); err == nil && ok {
			room = r
		}
	}
	return room, nil
}

// JoinRoom はルームの完全なスナップショットを返します
// 要求者の hideFor に含まれるメッセージは除外されます
func (s *ChatService) JoinRoom(ctx context.Context, roomId, userId string) (RoomSnapshot, error) {
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return RoomSnapshot{}, err
	}
	if !ok {
		return RoomSnapshot{}, ErrRoomNotFound
	}
	msgs, err := s.repo.ListMessages(ctx, roomId)
	if err != nil {
		return RoomSnapshot{}, err
	}
	visible := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.HiddenFor(userId) {
			continue
		}
		visible = append(visible, m)
	}
	return RoomSnapshot{Room: room, Messages: visible}, nil
}

// Room はルームのメタデータのみを返します（メッセージログは含みません）
func (s *ChatService) Room(ctx context.Context, roomId string) (models.Room, error) {
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room, nil
}

// ListRooms はユーザーが所属するルームの全量リストを返します
// 再接続のたびに呼ばれるため冪等です
func (s *ChatService) ListRooms(ctx context.Context, userId string) ([]models.Room, error) {
	return s.repo.ListRooms(ctx, userId)
}

// DeleteRoom はルームを削除します（作成者のみ実行可能）
func (s *ChatService) DeleteRoom(ctx context.Context, roomId, userId string) (models.Room, error) {
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	if room.Creator != userId {
		return models.Room{}, ErrNotParticipant
	}
	return room, s.repo.DeleteRoom(ctx, roomId)
}

// AppendMessage は新規メッセージを永続化します
// サーバーがIDを採番し、クライアント採番の相関IDはそのまま保持してエコーされます
func (s *ChatService) AppendMessage(ctx context.Context, p protocol.NewMessagePayload) (models.Message, error) {
	room, ok, err := s.repo.GetRoom(ctx, p.RoomId)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	if err := s.authorizePost(&room, p.Sender.UserId); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		Id:        idgen.NewULID(),
		ClientId:  p.ClientId,
		RoomId:    p.RoomId,
		Sender:    p.Sender,
		Body:      p.Body,
		CreatedAt: s.now(),
		SeenBy:    []string{},
		ReplyTo:   p.ReplyTo,
		Voice:     p.Voice,
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return models.Message{}, err
	}

	room.LastMessage = &msg
	if err := s.repo.SetRoom(ctx, room); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// authorizePost は投稿権限を検証します
// channel は admin のみ、group/private は参加者のみ投稿可能です
func (s *ChatService) authorizePost(room *models.Room, userId string) error {
	if room.Type == models.RoomTypeChannel {
		if !room.IsAdmin(userId) {
			return ErrNotChannelAdmin
		}
		return nil
	}
	if !room.IsParticipant(userId) {
		return ErrNotParticipant
	}
	return nil
}

// EditMessage は対象メッセージの本文のみを更新します（送信者のみ実行可能）
func (s *ChatService) EditMessage(ctx context.Context, p protocol.EditMessagePayload) (models.Message, error) {
	msg, ok, err := s.repo.GetMessage(ctx, p.RoomId, p.MsgId)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if msg.Sender.UserId != p.UserId {
		return models.Message{}, ErrNotMessageOwner
	}

	msg.Body = p.EditedMsg
	msg.IsEdited = true
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return models.Message{}, err
	}
	s.refreshLastMessage(ctx, p.RoomId, msg)
	return msg, nil
}

// DeleteMessage はメッセージを削除します
// forAll=true なら全員のログから除去、false なら要求者の hideFor に追記するだけです
func (s *ChatService) DeleteMessage(ctx context.Context, p protocol.DeleteMsgPayload) (models.Message, error) {
	msg, ok, err := s.repo.GetMessage(ctx, p.RoomId, p.MsgId)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}

	if !p.ForAll {
		if msg.HiddenFor(p.UserId) { // 冪等
			return msg, nil
		}
		msg.HideFor = append(msg.HideFor, p.UserId)
		return msg, s.repo.UpdateMessage(ctx, msg)
	}

	if err := s.repo.DeleteMessage(ctx, p.RoomId, p.MsgId); err != nil {
		return models.Message{}, err
	}
	// 最新メッセージを消した場合はスナップショットを引き直す
	if room, ok, err := s.repo.GetRoom(ctx, p.RoomId); err == nil && ok &&
		room.LastMessage != nil && room.LastMessage.Id == p.MsgId {
		msgs, err := s.repo.ListMessages(ctx, p.RoomId)
		if err == nil {
			if len(msgs) > 0 {
				room.LastMessage = &msgs[len(msgs)-1]
			} else {
				room.LastMessage = nil
			}
			_ = s.repo.SetRoom(ctx, room)
		}
	}
	return msg, nil
}

// PinMessage はピン留め状態をトグルします
// 複数ピンの表示順は pinnedAt の降順（新しいものが先）です
func (s *ChatService) PinMessage(ctx context.Context, p protocol.PinMessagePayload) (models.Message, error) {
	msg, ok, err := s.repo.GetMessage(ctx, p.RoomId, p.MsgId)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}

	if msg.PinnedAt != 0 {
		msg.PinnedAt = 0
	} else {
		msg.PinnedAt = s.now()
	}
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return models.Message{}, err
	}
	if p.IsLastMessage {
		s.refreshLastMessage(ctx, p.RoomId, msg)
	}
	return msg, nil
}

// MarkSeen は既読セットに閲覧者を追加します
// 自分のメッセージへの既読は no-op、重複追加も no-op（冪等な和集合）です
// 戻り値の bool は状態が変化したかどうかを示します
func (s *ChatService) MarkSeen(ctx context.Context, p protocol.SeenMsgPayload) (models.Message, bool, error) {
	msg, ok, err := s.repo.GetMessage(ctx, p.RoomId, p.MsgId)
	if err != nil {
		return models.Message{}, false, err
	}
	if !ok {
		return models.Message{}, false, ErrMessageNotFound
	}
	if msg.Sender.UserId == p.SeenBy { // 自分のメッセージは既読対象外
		return msg, false, nil
	}
	if msg.SeenByUser(p.SeenBy) {
		return msg, false, nil
	}

	msg.SeenBy = append(msg.SeenBy, p.SeenBy)
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return models.Message{}, false, err
	}
	s.refreshLastMessage(ctx, p.RoomId, msg)
	return msg, true, nil
}

// VoicePlayed はボイスメッセージの再生者を記録します（冪等）
func (s *ChatService) VoicePlayed(ctx context.Context, p protocol.ListenToVoicePayload) (models.Message, error) {
	msg, ok, err := s.repo.GetMessage(ctx, p.RoomId, p.VoiceId)
	if err != nil {
		return models.Message{}, err
	}
	if !ok || msg.Voice == nil {
		return models.Message{}, ErrMessageNotFound
	}
	for _, id := range msg.Voice.PlayedBy {
		if id == p.UserId {
			return msg, nil
		}
	}
	msg.Voice.PlayedBy = append(msg.Voice.PlayedBy, p.UserId)
	return msg, s.repo.UpdateMessage(ctx, msg)
}

// VoiceListeners はボイスメッセージを再生済みのユーザー一覧を返します
func (s *ChatService) VoiceListeners(ctx context.Context, roomId, msgId string) ([]models.User, error) {
	msg, ok, err := s.repo.GetMessage(ctx, roomId, msgId)
	if err != nil {
		return nil, err
	}
	if !ok || msg.Voice == nil {
		return nil, ErrMessageNotFound
	}
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoomNotFound
	}

	listeners := make([]models.User, 0, len(msg.Voice.PlayedBy))
	for _, id := range msg.Voice.PlayedBy {
		for _, p := range room.Participants {
			if p.UserId == id {
				listeners = append(listeners, p)
				break
			}
		}
	}
	return listeners, nil
}

// SaveTrack はスクロール位置のチェックポイントを保存します
func (s *ChatService) SaveTrack(ctx context.Context, p protocol.UpdateLastMsgPosPayload) error {
	return s.repo.SaveTrack(ctx, p.UserId, models.RoomMessageTrack{RoomId: p.RoomId, ScrollPos: p.ScrollPos})
}

// ListTracks はユーザーの全ルームのスクロールチェックポイントを返します
func (s *ChatService) ListTracks(ctx context.Context, userId string) ([]models.RoomMessageTrack, error) {
	return s.repo.ListTracks(ctx, userId)
}

// refreshLastMessage は対象がルームの最新メッセージならスナップショットを更新します
func (s *ChatService) refreshLastMessage(ctx context.Context, roomId string, msg models.Message) {
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil || !ok {
		return
	}
	if room.LastMessage == nil || room.LastMessage.Id != msg.Id {
		return
	}
	room.LastMessage = &msg
	_ = s.repo.SetRoom(ctx, room)
}
