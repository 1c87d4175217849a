package client

import (
	"path/filepath"
	"testing"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

func TestDraftLifecycle(t *testing.T) {
	ds := NewDraftStore("")

	ds.Set("r1", "half-written")
	ds.Set("r2", "another")

	// ルームを切り替えても下書きは残る
	if ds.Get("r1") != "half-written" {
		t.Fatal("draft must survive room switches")
	}

	ds.Clear("r1")
	if ds.Get("r1") != "" {
		t.Fatal("cleared draft must be empty")
	}
	if ds.Get("r2") != "another" {
		t.Fatal("clearing one room must not touch others")
	}

	// 空文字の保存はクリアと同義
	ds.Set("r2", "")
	if ds.Get("r2") != "" {
		t.Fatal("setting empty body must clear the draft")
	}
}

func TestDraftSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.json")

	ds := NewDraftStore(path)
	ds.Set("r1", "hello")
	ds.Set("r2", "other")

	// 再起動相当: 同じファイルから新しいストアを作る
	restored := NewDraftStore(path)
	if restored.Get("r1") != "hello" {
		t.Fatalf("restored draft = %q, want hello", restored.Get("r1"))
	}

	restored.Clear("r1")
	again := NewDraftStore(path)
	if again.Get("r1") != "" {
		t.Fatal("cleared draft must not reappear after restart")
	}
	if again.Get("r2") != "other" {
		t.Fatal("clearing one room must not lose the other room's draft")
	}
}

func TestScrollTrackerFlushSendsDirtyOnly(t *testing.T) {
	em := &fakeEmitter{}
	st := NewScrollTracker("u1", em)

	st.Update("r1", 42)
	st.Update("r1", 50) // 上書き
	st.Update("r2", 7)
	st.Flush()

	if got := em.count(protocol.EventUpdateLastMsgPos); got != 2 {
		t.Fatalf("flush emitted %d updates, want 2 (one per dirty room)", got)
	}

	// 変更がなければ何も送らない
	st.Flush()
	if got := em.count(protocol.EventUpdateLastMsgPos); got != 2 {
		t.Fatalf("idle flush emitted extra updates: %d", got)
	}
}

func TestScrollTrackerReplaceAllKeepsDirty(t *testing.T) {
	em := &fakeEmitter{}
	st := NewScrollTracker("u1", em)

	st.Update("r1", 99) // 未送信のローカル更新

	st.ReplaceAll([]models.RoomMessageTrack{
		{RoomId: "r1", ScrollPos: 10},
		{RoomId: "r2", ScrollPos: 20},
	})

	if pos, _ := st.Position("r1"); pos != 99 {
		t.Fatalf("r1 position = %d, want local 99 kept", pos)
	}
	if pos, ok := st.Position("r2"); !ok || pos != 20 {
		t.Fatalf("r2 position = %d, want server 20", pos)
	}
}

func TestVoiceDownloadStateMachine(t *testing.T) {
	vs := NewVoiceStore()

	if !vs.StartDownload("v1") {
		t.Fatal("first tap must start the download")
	}
	if vs.StartDownload("v1") {
		t.Fatal("second tap while downloading must be a no-op")
	}

	vs.FinishDownload("v1")
	if vs.State("v1") != VoiceDownloaded {
		t.Fatal("finished download must be downloaded")
	}
	if vs.StartDownload("v1") {
		t.Fatal("downloaded voice must not restart")
	}

	// 失敗はエラー状態として観測でき、再タップで再試行できる
	vs.StartDownload("v2")
	vs.FailDownload("v2")
	if vs.State("v2") != VoiceError {
		t.Fatal("failed download must be observable as an error")
	}
	if !vs.StartDownload("v2") {
		t.Fatal("retry after failure must start again")
	}
	if vs.State("v2") != VoiceDownloading {
		t.Fatal("retry must transition back to downloading")
	}
}

func TestVoiceSinglePlayback(t *testing.T) {
	vs := NewVoiceStore()
	vs.StartDownload("v1")
	vs.FinishDownload("v1")
	vs.StartDownload("v2")
	vs.FinishDownload("v2")

	if vs.Play("v3") {
		t.Fatal("undownloaded voice must not play")
	}
	if !vs.Play("v1") {
		t.Fatal("downloaded voice must play")
	}

	// 別ボイスの再生は前のものを置き換える
	if !vs.Play("v2") {
		t.Fatal("second voice must play")
	}
	if vs.Playing() != "v2" {
		t.Fatalf("Playing = %q, want v2", vs.Playing())
	}

	vs.Stop()
	if vs.Playing() != "" {
		t.Fatal("stop must clear playback")
	}
}
