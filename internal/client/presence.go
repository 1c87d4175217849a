package client

import (
	"sync"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
)

// PresenceTracker はオンライン参加者の一覧を保持します
// サーバーからの updateOnlineUsers は常に全量配信なので、差分適用ではなく丸ごと置き換えます
type PresenceTracker struct {
	mu      sync.RWMutex
	entries []models.PresenceEntry
	byUser  map[string]bool
}

// NewPresenceTracker は新しいPresenceTrackerを作成します
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{byUser: make(map[string]bool)}
}

// Replace はオンライン一覧を丸ごと置き換えます
func (pt *PresenceTracker) Replace(entries []models.PresenceEntry) {
	byUser := make(map[string]bool, len(entries))
	for _, e := range entries {
		byUser[e.UserId] = true
	}

	pt.mu.Lock()
	pt.entries = entries
	pt.byUser = byUser
	pt.mu.Unlock()
}

// IsOnline は指定ユーザーがオンラインかどうかを返します
func (pt *PresenceTracker) IsOnline(userId string) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.byUser[userId]
}

// Online は現在のオンライン一覧のコピーを返します
func (pt *PresenceTracker) Online() []models.PresenceEntry {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make([]models.PresenceEntry, len(pt.entries))
	copy(out, pt.entries)
	return out
}

// OnlineCount はオンライン参加者数を返します
func (pt *PresenceTracker) OnlineCount() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.entries)
}
