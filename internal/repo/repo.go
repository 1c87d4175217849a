package repo

import (
	"context"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
)

type ChatRepo interface {
	CreateRoom(ctx context.Context, room models.Room, ttlSec int) error
	GetRoom(ctx context.Context, roomId string) (models.Room, bool, error)
	SetRoom(ctx context.Context, room models.Room) error
	DeleteRoom(ctx context.Context, roomId string) error
	ExistsRoom(ctx context.Context, roomId string) (bool, error)

	AddUserRoom(ctx context.Context, userId, roomId string) error
	RemoveUserRoom(ctx context.Context, userId, roomId string) error
	ListRooms(ctx context.Context, userId string) ([]models.Room, error)

	AppendMessage(ctx context.Context, msg models.Message) error
	GetMessage(ctx context.Context, roomId, msgId string) (models.Message, bool, error)
	UpdateMessage(ctx context.Context, msg models.Message) error
	DeleteMessage(ctx context.Context, roomId, msgId string) error
	ListMessages(ctx context.Context, roomId string) ([]models.Message, error)

	SaveTrack(ctx context.Context, userId string, track models.RoomMessageTrack) error
	ListTracks(ctx context.Context, userId string) ([]models.RoomMessageTrack, error)
}
