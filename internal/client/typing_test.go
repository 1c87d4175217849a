package client

import (
	"testing"
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

func newTestTyping(debounce time.Duration) (*TypingCoordinator, *fakeEmitter) {
	em := &fakeEmitter{}
	return NewTypingCoordinator(me, em, debounce), em
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBurstEmitsSingleTypingAndSingleStop(t *testing.T) {
	tc, em := newTestTyping(30 * time.Millisecond)
	defer tc.Close()

	// バースト: 連打してもtypingは最初の1回だけ
	for i := 0; i < 10; i++ {
		tc.Keystroke("r1")
		time.Sleep(2 * time.Millisecond)
	}
	if got := em.count(protocol.EventTyping); got != 1 {
		t.Fatalf("typing emitted %d times during burst, want 1", got)
	}
	if em.count(protocol.EventStopTyping) != 0 {
		t.Fatal("stop-typing must not fire while keystrokes continue")
	}

	// 最後の打鍵からdebounce経過で一度だけstop-typing
	waitFor(t, func() bool { return em.count(protocol.EventStopTyping) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := em.count(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stop-typing emitted %d times, want 1", got)
	}
}

func TestNewBurstAfterExpiry(t *testing.T) {
	tc, em := newTestTyping(20 * time.Millisecond)
	defer tc.Close()

	tc.Keystroke("r1")
	waitFor(t, func() bool { return em.count(protocol.EventStopTyping) == 1 })

	tc.Keystroke("r1")
	if got := em.count(protocol.EventTyping); got != 2 {
		t.Fatalf("typing emitted %d times, want 2 (new burst)", got)
	}
}

func TestFlushEndsBurstImmediately(t *testing.T) {
	tc, em := newTestTyping(time.Hour) // 自然満了しない長さ
	defer tc.Close()

	tc.Keystroke("r1")
	tc.Flush("r1")
	if got := em.count(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stop-typing emitted %d times after flush, want 1", got)
	}

	// バースト外のFlushは何も送らない
	tc.Flush("r1")
	if got := em.count(protocol.EventStopTyping); got != 1 {
		t.Fatalf("stop-typing emitted %d times after idle flush, want 1", got)
	}
}

func TestRoomsDebounceIndependently(t *testing.T) {
	tc, em := newTestTyping(time.Hour)
	defer tc.Close()

	tc.Keystroke("r1")
	tc.Keystroke("r2")
	if got := em.count(protocol.EventTyping); got != 2 {
		t.Fatalf("typing emitted %d times, want 2 (one per room)", got)
	}

	tc.Flush("r1")
	if got := em.count(protocol.EventStopTyping); got != 1 {
		t.Fatalf("flushing r1 must not end r2's burst, got %d stops", got)
	}
}

func TestRemoteTypersAggregate(t *testing.T) {
	tc, _ := newTestTyping(0)
	defer tc.Close()

	bob := models.User{UserId: "u2", Name: "Bob"}
	carol := models.User{UserId: "u3", Name: "Carol"}

	tc.ApplyTyping(protocol.TypingPayload{RoomId: "r1", Sender: bob})
	tc.ApplyTyping(protocol.TypingPayload{RoomId: "r1", Sender: bob}) // 重複
	tc.ApplyTyping(protocol.TypingPayload{RoomId: "r1", Sender: carol})
	tc.ApplyTyping(protocol.TypingPayload{RoomId: "r1", Sender: me}) // 自分のエコー

	typers := tc.Typers("r1")
	if len(typers) != 2 {
		t.Fatalf("typers = %v, want [Bob Carol]", typers)
	}

	// Bobのstop-typingはBobだけを消す
	tc.ApplyStopTyping(protocol.TypingPayload{RoomId: "r1", Sender: bob})
	typers = tc.Typers("r1")
	if len(typers) != 1 || typers[0] != "Carol" {
		t.Fatalf("typers = %v, want [Carol]", typers)
	}
}
