package client

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

// DraftStore はルームごとの下書き本文を保持します
// ルームを切り替えても下書きは残り、送信時とルーム削除時に明示的にクリアします
// 変更のたびにファイルへ書き出すため、クライアントを再起動しても下書きは復元されます
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]string
	path   string // 永続化先のファイル。空ならメモリのみ
}

// NewDraftStore は新しいDraftStoreを作成します
// path のファイルが存在すれば保存済みの下書きを読み込みます
func NewDraftStore(path string) *DraftStore {
	ds := &DraftStore{drafts: make(map[string]string), path: path}
	ds.load()
	return ds
}

func (ds *DraftStore) load() {
	if ds.path == "" {
		return
	}
	b, err := os.ReadFile(ds.path)
	if err != nil {
		return // 初回起動はファイルがない
	}
	saved := make(map[string]string)
	if err := json.Unmarshal(b, &saved); err != nil {
		log.Printf("failed to load drafts from %s: %v", ds.path, err)
		return
	}
	ds.drafts = saved
}

// persist は呼び出し側でロックを保持している前提です
func (ds *DraftStore) persist() {
	if ds.path == "" {
		return
	}
	b, err := json.Marshal(ds.drafts)
	if err != nil {
		return
	}
	if err := os.WriteFile(ds.path, b, 0o600); err != nil {
		log.Printf("failed to save drafts to %s: %v", ds.path, err)
	}
}

// Set は下書きを保存します。空文字の保存はクリアと同義です
func (ds *DraftStore) Set(roomId, body string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if body == "" {
		delete(ds.drafts, roomId)
	} else {
		ds.drafts[roomId] = body
	}
	ds.persist()
}

// Get は下書きを返します。なければ空文字です
func (ds *DraftStore) Get(roomId string) string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.drafts[roomId]
}

// Clear は下書きを破棄します。送信時とルーム削除時に呼びます
func (ds *DraftStore) Clear(roomId string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.drafts, roomId)
	ds.persist()
}

// ScrollTracker はルームごとの最終閲覧スクロール位置を保持します
// ローカル更新は即座にメモリへ反映し、Flush でサーバーへ永続化します
type ScrollTracker struct {
	mu      sync.Mutex
	tracks  map[string]int
	dirty   map[string]bool
	me      string
	emitter Emitter
}

// NewScrollTracker は新しいScrollTrackerを作成します
func NewScrollTracker(userId string, emitter Emitter) *ScrollTracker {
	return &ScrollTracker{
		tracks:  make(map[string]int),
		dirty:   make(map[string]bool),
		me:      userId,
		emitter: emitter,
	}
}

// Update はスクロール位置をローカルに記録します
func (st *ScrollTracker) Update(roomId string, pos int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.tracks[roomId] = pos
	st.dirty[roomId] = true
}

// Position は記録済みのスクロール位置を返します
func (st *ScrollTracker) Position(roomId string) (int, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	pos, ok := st.tracks[roomId]
	return pos, ok
}

// Flush は未送信の位置をサーバーへ送信します。ルーム退出やクライアント終了時に呼びます
func (st *ScrollTracker) Flush() {
	st.mu.Lock()
	pending := make([]protocol.UpdateLastMsgPosPayload, 0, len(st.dirty))
	for roomId := range st.dirty {
		pending = append(pending, protocol.UpdateLastMsgPosPayload{
			RoomId:    roomId,
			ScrollPos: st.tracks[roomId],
			UserId:    st.me,
		})
		delete(st.dirty, roomId)
	}
	st.mu.Unlock()

	for _, p := range pending {
		_ = st.emitter.Emit(protocol.EventUpdateLastMsgPos, p)
	}
}

// ReplaceAll はサーバー保存分の位置一覧でローカル状態を初期化します
// 接続直後の初回配信で呼ばれます。未送信のローカル更新は上書きしません
func (st *ScrollTracker) ReplaceAll(tracks []models.RoomMessageTrack) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, t := range tracks {
		if st.dirty[t.RoomId] {
			continue
		}
		st.tracks[t.RoomId] = t.ScrollPos
	}
}

// VoiceFetchState はボイスメッセージのローカル取得状態です
type VoiceFetchState int

const (
	VoiceUnstarted   VoiceFetchState = iota // 未取得
	VoiceDownloading                        // 取得中
	VoiceDownloaded                         // 取得済み・再生可能
	VoiceError                              // 取得失敗。次のタップで再試行できる
)

// VoiceStore はボイスメッセージの取得状態と再生状態を管理します
// 同時に再生できるボイスは1つだけで、別のボイスを再生すると前のものは停止します
type VoiceStore struct {
	mu      sync.Mutex
	states  map[string]VoiceFetchState // ボイスID -> 取得状態
	playing string                     // 再生中のボイスID。空なら停止中
}

// NewVoiceStore は新しいVoiceStoreを作成します
func NewVoiceStore() *VoiceStore {
	return &VoiceStore{states: make(map[string]VoiceFetchState)}
}

// StartDownload は未取得または取得失敗のボイスを取得中に遷移させます
// 既に取得中か取得済みなら false を返します
func (vs *VoiceStore) StartDownload(voiceId string) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	switch vs.states[voiceId] {
	case VoiceUnstarted, VoiceError:
		vs.states[voiceId] = VoiceDownloading
		return true
	}
	return false
}

// FinishDownload は取得完了を記録します
func (vs *VoiceStore) FinishDownload(voiceId string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.states[voiceId] = VoiceDownloaded
}

// FailDownload は取得失敗を記録します
func (vs *VoiceStore) FailDownload(voiceId string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.states[voiceId] = VoiceError
	if vs.playing == voiceId {
		vs.playing = ""
	}
}

// State は取得状態を返します
func (vs *VoiceStore) State(voiceId string) VoiceFetchState {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.states[voiceId]
}

// Play は再生を開始します。取得済みでなければ false を返します
// 別のボイスが再生中ならそれを置き換えます
func (vs *VoiceStore) Play(voiceId string) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.states[voiceId] != VoiceDownloaded {
		return false
	}
	vs.playing = voiceId
	return true
}

// Stop は再生を停止します
func (vs *VoiceStore) Stop() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.playing = ""
}

// Playing は再生中のボイスIDを返します。停止中は空文字です
func (vs *VoiceStore) Playing() string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.playing
}
