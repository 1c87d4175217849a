package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID はサーバー採番のメッセージ/ルームIDを生成します
// 単調増加のため同一プロセス内では生成順にソート可能です
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewRoomLink は招待リンク用の短いランダムIDを生成します
func NewRoomLink() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 7)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = chars[b[i]%byte(len(chars))]
	}
	return string(b), nil
}

// NewClientID はクライアント側で採番する相関IDを生成します
// 楽観的挿入したメッセージとサーバーエコーの照合に使用します
func NewClientID() string {
	return uuid.NewString()
}
