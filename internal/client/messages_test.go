package client

import (
	"sync"
	"testing"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

// fakeEmitter は送信されたイベントを記録するテスト用のEmitterです
type fakeEmitter struct {
	mu     sync.Mutex
	events []string
	loads  []any
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.loads = append(f.loads, payload)
	return nil
}

func (f *fakeEmitter) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) last() (string, any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return "", nil
	}
	return f.events[len(f.events)-1], f.loads[len(f.loads)-1]
}

var me = models.User{UserId: "u1", Name: "Alice"}

func newTestSync() (*MessageSync, *fakeEmitter) {
	em := &fakeEmitter{}
	ms := NewMessageSync(me, em)
	ms.now = func() int64 { return 1000 }
	return ms, em
}

func serverEcho(provisional models.Message, serverId string) models.Message {
	echo := provisional
	echo.Id = serverId
	return echo
}

func TestSendOptimisticInsertAndReconcile(t *testing.T) {
	ms, em := newTestSync()

	prov := ms.Send("r1", "hello", nil, nil)
	if prov.ClientId == "" {
		t.Fatal("provisional message must carry a correlation id")
	}
	if prov.Id != "" {
		t.Fatal("provisional message must not have a server id")
	}
	if got := len(ms.Messages("r1")); got != 1 {
		t.Fatalf("log length = %d, want 1", got)
	}
	if em.count(protocol.EventNewMessage) != 1 {
		t.Fatal("newMessage must be emitted once")
	}

	// サーバーエコーで仮エントリがその場で置き換わる
	ms.ApplyServerMessage(serverEcho(prov, "srv1"))
	msgs := ms.Messages("r1")
	if len(msgs) != 1 {
		t.Fatalf("log length after echo = %d, want 1", len(msgs))
	}
	if msgs[0].Id != "srv1" {
		t.Fatalf("Id = %q, want srv1", msgs[0].Id)
	}
}

func TestDuplicateEchoIsIdempotent(t *testing.T) {
	ms, _ := newTestSync()

	prov := ms.Send("r1", "hello", nil, nil)
	echo := serverEcho(prov, "srv1")
	ms.ApplyServerMessage(echo)
	ms.ApplyServerMessage(echo)
	ms.ApplyServerMessage(echo)

	if got := len(ms.Messages("r1")); got != 1 {
		t.Fatalf("log length = %d, want 1", got)
	}
}

func TestRemoteMessageAppends(t *testing.T) {
	ms, _ := newTestSync()

	remote := models.Message{Id: "srv2", RoomId: "r1", Sender: models.User{UserId: "u2"}, Body: "hi"}
	ms.ApplyServerMessage(remote)
	ms.ApplyServerMessage(remote) // 重複配信

	if got := len(ms.Messages("r1")); got != 1 {
		t.Fatalf("log length = %d, want 1", got)
	}
}

func TestSnapshotPreservesUnconfirmed(t *testing.T) {
	ms, _ := newTestSync()

	confirmed := ms.Send("r1", "first", nil, nil)
	ms.ApplyServerMessage(serverEcho(confirmed, "srv1"))
	pending := ms.Send("r1", "second", nil, nil)

	// スナップショットには確認済みのみ含まれる
	ms.ApplySnapshot("r1", []models.Message{serverEcho(confirmed, "srv1")})

	msgs := ms.Messages("r1")
	if len(msgs) != 2 {
		t.Fatalf("log length = %d, want 2", len(msgs))
	}
	if msgs[1].ClientId != pending.ClientId {
		t.Fatal("unconfirmed optimistic entry must survive snapshot replacement")
	}

	// 遅れてきたエコーで仮エントリが確定する
	ms.ApplyServerMessage(serverEcho(pending, "srv2"))
	msgs = ms.Messages("r1")
	if len(msgs) != 2 || msgs[1].Id != "srv2" {
		t.Fatalf("late echo must reconcile in place, got %+v", msgs)
	}
}

func TestApplySeenIdempotentUnion(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1", Sender: models.User{UserId: "u2"}})

	p := protocol.SeenMsgPayload{SeenBy: "u1", MsgId: "m1", RoomId: "r1"}
	ms.ApplySeen(p)
	ms.ApplySeen(p)
	ms.ApplySeen(p)

	msgs := ms.Messages("r1")
	if len(msgs[0].SeenBy) != 1 {
		t.Fatalf("SeenBy = %v, want exactly one entry", msgs[0].SeenBy)
	}
}

func TestApplySeenOwnMessageNoop(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1", Sender: models.User{UserId: "u2"}})

	// 送信者自身の既読は状態を変えない
	ms.ApplySeen(protocol.SeenMsgPayload{SeenBy: "u2", MsgId: "m1", RoomId: "r1"})
	if got := len(ms.Messages("r1")[0].SeenBy); got != 0 {
		t.Fatalf("SeenBy length = %d, want 0", got)
	}
}

func TestMarkSeenSkipsOwnAndAlreadySeen(t *testing.T) {
	ms, em := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "own", RoomId: "r1", Sender: me})
	ms.ApplyServerMessage(models.Message{Id: "seen", RoomId: "r1", Sender: models.User{UserId: "u2"}, SeenBy: []string{"u1"}})
	ms.ApplyServerMessage(models.Message{Id: "fresh", RoomId: "r1", Sender: models.User{UserId: "u2"}})

	ms.MarkSeen("r1", "own")
	ms.MarkSeen("r1", "seen")
	ms.MarkSeen("r1", "fresh")

	if em.count(protocol.EventSeenMsg) != 1 {
		t.Fatalf("seenMsg emitted %d times, want 1", em.count(protocol.EventSeenMsg))
	}
}

func TestUnseenCountExcludesOwnMessages(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1", Sender: me})
	ms.ApplyServerMessage(models.Message{Id: "m2", RoomId: "r1", Sender: models.User{UserId: "u2"}})
	ms.ApplyServerMessage(models.Message{Id: "m3", RoomId: "r1", Sender: models.User{UserId: "u2"}, SeenBy: []string{"u1"}})

	if got := ms.UnseenCount("r1"); got != 1 {
		t.Fatalf("UnseenCount = %d, want 1", got)
	}
}

func TestPinnedOrderNewestFirst(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1", PinnedAt: 100})
	ms.ApplyServerMessage(models.Message{Id: "m2", RoomId: "r1"})
	ms.ApplyServerMessage(models.Message{Id: "m3", RoomId: "r1", PinnedAt: 300})
	ms.ApplyServerMessage(models.Message{Id: "m4", RoomId: "r1", PinnedAt: 200})

	pins := ms.Pinned("r1")
	want := []string{"m3", "m4", "m1"}
	if len(pins) != len(want) {
		t.Fatalf("pinned length = %d, want %d", len(pins), len(want))
	}
	for i, id := range want {
		if pins[i].Id != id {
			t.Fatalf("pins[%d].Id = %q, want %q", i, pins[i].Id, id)
		}
	}
}

func TestAdvancePinCyclesThroughAll(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1", PinnedAt: 100})
	ms.ApplyServerMessage(models.Message{Id: "m2", RoomId: "r1", PinnedAt: 200})
	ms.ApplyServerMessage(models.Message{Id: "m3", RoomId: "r1", PinnedAt: 300})

	visited := make(map[string]bool)
	for i := 0; i < 3; i++ {
		m, ok := ms.ActivePin("r1")
		if !ok {
			t.Fatal("expected an active pin")
		}
		visited[m.Id] = true
		ms.AdvancePin("r1")
	}
	if len(visited) != 3 {
		t.Fatalf("visited %d distinct pins, want 3", len(visited))
	}

	// N回進めると最初の表示に戻る
	first, _ := ms.ActivePin("r1")
	for i := 0; i < 3; i++ {
		ms.AdvancePin("r1")
	}
	back, _ := ms.ActivePin("r1")
	if first.Id != back.Id {
		t.Fatalf("after full cycle ActivePin = %q, want %q", back.Id, first.Id)
	}
}

func TestApplyPinTargetsOnlyThatMessage(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1", PinnedAt: 100})
	ms.ApplyServerMessage(models.Message{Id: "m2", RoomId: "r1"})

	ms.ApplyPin(protocol.PinMessagePayload{MsgId: "m2", RoomId: "r1", PinnedAt: 500})

	msgs := ms.Messages("r1")
	if msgs[0].PinnedAt != 100 || msgs[1].PinnedAt != 500 {
		t.Fatalf("PinnedAt = (%d, %d), want (100, 500)", msgs[0].PinnedAt, msgs[1].PinnedAt)
	}
}

func TestDeleteForAllRemovesFromLog(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1"})
	ms.ApplyServerMessage(models.Message{Id: "m2", RoomId: "r1"})

	ms.ApplyDelete(protocol.DeleteMsgPayload{MsgId: "m1", RoomId: "r1", UserId: "u2", ForAll: true})

	msgs := ms.Messages("r1")
	if len(msgs) != 1 || msgs[0].Id != "m2" {
		t.Fatalf("log = %+v, want only m2", msgs)
	}
}

func TestDeleteForSelfOnlyAffectsRequester(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1"})

	// 他人の個別削除エコーは自分のログに影響しない
	ms.ApplyDelete(protocol.DeleteMsgPayload{MsgId: "m1", RoomId: "r1", UserId: "u2", ForAll: false})
	if got := len(ms.Messages("r1")); got != 1 {
		t.Fatalf("log length = %d, want 1", got)
	}

	// 自分の個別削除はローカルから即座に消える
	ms.RequestDelete("r1", "m1", false)
	if got := len(ms.Messages("r1")); got != 0 {
		t.Fatalf("log length = %d, want 0", got)
	}
}

func TestApplyEditTargetsBodyOnly(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "m1", RoomId: "r1", Body: "before", PinnedAt: 100, SeenBy: []string{"u2"}})

	ms.ApplyEdit(models.Message{Id: "m1", RoomId: "r1", Body: "after"})

	got := ms.Messages("r1")[0]
	if got.Body != "after" || !got.IsEdited {
		t.Fatalf("edit not applied: %+v", got)
	}
	if got.PinnedAt != 100 || len(got.SeenBy) != 1 {
		t.Fatal("edit must not disturb pin or seen state")
	}
}

func TestApplyVoicePlayedIdempotent(t *testing.T) {
	ms, _ := newTestSync()
	ms.ApplyServerMessage(models.Message{Id: "v1", RoomId: "r1", Voice: &models.VoiceData{Src: "a.ogg"}})

	p := protocol.ListenToVoicePayload{UserId: "u2", VoiceId: "v1", RoomId: "r1"}
	ms.ApplyVoicePlayed(p)
	ms.ApplyVoicePlayed(p)

	voice := ms.Messages("r1")[0].Voice
	if len(voice.PlayedBy) != 1 || voice.PlayedBy[0] != "u2" {
		t.Fatalf("PlayedBy = %v, want [u2]", voice.PlayedBy)
	}
}

func TestDecideScroll(t *testing.T) {
	mine := models.Message{Sender: me}
	theirs := models.Message{Sender: models.User{UserId: "u2"}}

	if DecideScroll(mine, me.UserId, false) != ScrollToBottom {
		t.Fatal("own message must scroll to bottom")
	}
	if DecideScroll(theirs, me.UserId, true) != ScrollToBottom {
		t.Fatal("at bottom must follow new messages")
	}
	if DecideScroll(theirs, me.UserId, false) != ScrollUnreadBadge {
		t.Fatal("remote message away from bottom must not force scroll")
	}
}
