package service

import "errors"

// カスタムエラー定義
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotParticipant    = errors.New("forbidden: not a room participant")
	ErrNotChannelAdmin   = errors.New("forbidden: only admins can post to a channel")
	ErrNotMessageOwner   = errors.New("forbidden: not the message sender")
	ErrInvalidRoom       = errors.New("invalid room payload")
	ErrRoomAlreadyExists = errors.New("room already exists")
)
