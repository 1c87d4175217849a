package client

import (
	"testing"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	// Dialは呼ばれない前提（Startしないテスト用）
	sess := NewSession(SessionOptions{
		URL: "ws://test",
		Me:  me,
	})
	t.Cleanup(sess.Close)
	return sess
}

func publish(t *testing.T, s *Session, event string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	s.Bus.Publish(env)
}

func TestSessionRoutesRoomList(t *testing.T) {
	sess := newTestSession(t)

	publish(t, sess, protocol.EventGetRooms, []models.Room{{Id: "r1"}, {Id: "r2"}})
	if got := len(sess.Rooms.Rooms()); got != 2 {
		t.Fatalf("rooms length = %d, want 2", got)
	}
}

func TestSessionRoutesJoinSnapshot(t *testing.T) {
	sess := newTestSession(t)

	publish(t, sess, protocol.EventJoining, roomSnapshot{
		Room:     models.Room{Id: "r1", Name: "general"},
		Messages: []models.Message{{Id: "m1", RoomId: "r1"}, {Id: "m2", RoomId: "r1"}},
	})

	if room, ok := sess.Rooms.Room("r1"); !ok || room.Name != "general" {
		t.Fatal("snapshot room must be registered")
	}
	if got := len(sess.Messages.Messages("r1")); got != 2 {
		t.Fatalf("message log length = %d, want 2", got)
	}
}

func TestSessionRoutesMessageEvents(t *testing.T) {
	sess := newTestSession(t)

	publish(t, sess, protocol.EventNewMessage, models.Message{Id: "m1", RoomId: "r1", Sender: models.User{UserId: "u2"}})
	publish(t, sess, protocol.EventSeenMsg, protocol.SeenMsgPayload{SeenBy: "u3", MsgId: "m1", RoomId: "r1"})
	publish(t, sess, protocol.EventEditMessage, models.Message{Id: "m1", RoomId: "r1", Body: "edited"})

	msgs := sess.Messages.Messages("r1")
	if len(msgs) != 1 {
		t.Fatalf("message log length = %d, want 1", len(msgs))
	}
	if !msgs[0].SeenByUser("u3") || msgs[0].Body != "edited" || !msgs[0].IsEdited {
		t.Fatalf("events not applied: %+v", msgs[0])
	}

	publish(t, sess, protocol.EventDeleteMsg, protocol.DeleteMsgPayload{MsgId: "m1", RoomId: "r1", UserId: "u2", ForAll: true})
	if got := len(sess.Messages.Messages("r1")); got != 0 {
		t.Fatalf("message log length after delete = %d, want 0", got)
	}
}

func TestSessionRoutesPresenceAndTyping(t *testing.T) {
	sess := newTestSession(t)

	publish(t, sess, protocol.EventUpdateOnlineUsers, []models.PresenceEntry{{SocketId: "s2", UserId: "u2"}})
	if !sess.Presence.IsOnline("u2") {
		t.Fatal("presence must be replaced")
	}

	bob := models.User{UserId: "u2", Name: "Bob"}
	publish(t, sess, protocol.EventTyping, protocol.TypingPayload{RoomId: "r1", Sender: bob})
	if got := sess.Typing.Typers("r1"); len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("typers = %v, want [Bob]", got)
	}
	publish(t, sess, protocol.EventStopTyping, protocol.TypingPayload{RoomId: "r1", Sender: bob})
	if got := len(sess.Typing.Typers("r1")); got != 0 {
		t.Fatalf("typers length = %d, want 0", got)
	}
}

func TestSessionRoutesTracksAndRoomData(t *testing.T) {
	sess := newTestSession(t)

	publish(t, sess, protocol.EventUpdateLastMsgPos, []models.RoomMessageTrack{{RoomId: "r1", ScrollPos: 42}})
	if pos, ok := sess.Tracks.Position("r1"); !ok || pos != 42 {
		t.Fatalf("track position = %d, want 42", pos)
	}

	publish(t, sess, protocol.EventUpdateRoomData, models.Room{Id: "r1", Name: "renamed"})
	if room, _ := sess.Rooms.Room("r1"); room.Name != "renamed" {
		t.Fatal("room data update must apply")
	}

	publish(t, sess, protocol.EventDeleteRoom, protocol.DeleteRoomPayload{RoomId: "r1"})
	if _, ok := sess.Rooms.Room("r1"); ok {
		t.Fatal("deleted room must be removed")
	}
}

func TestSessionDeleteRoomClearsDraft(t *testing.T) {
	sess := newTestSession(t)

	publish(t, sess, protocol.EventGetRooms, []models.Room{{Id: "r1"}})
	sess.Drafts.Set("r1", "half-written")

	publish(t, sess, protocol.EventDeleteRoom, protocol.DeleteRoomPayload{RoomId: "r1"})
	if sess.Drafts.Get("r1") != "" {
		t.Fatal("deleting a room must drop its draft")
	}
}

func TestSessionCloseReleasesSubscriptions(t *testing.T) {
	sess := newTestSession(t)
	sess.Close()

	publish(t, sess, protocol.EventGetRooms, []models.Room{{Id: "r1"}})
	if got := len(sess.Rooms.Rooms()); got != 0 {
		t.Fatal("events after Close must not be routed")
	}
}

func TestSendMessageClearsDraftAndEndsTyping(t *testing.T) {
	sess := newTestSession(t)

	sess.Drafts.Set("r1", "half-written")
	sess.Typing.Keystroke("r1")
	sess.SendMessage("r1", "hello", nil, nil)

	if sess.Drafts.Get("r1") != "" {
		t.Fatal("sending must clear the draft")
	}
	if got := len(sess.Messages.Messages("r1")); got != 1 {
		t.Fatalf("message log length = %d, want 1", got)
	}
}
