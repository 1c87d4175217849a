package client

import (
	"testing"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
)

func newTestRegistry() (*RoomRegistry, *fakeEmitter) {
	em := &fakeEmitter{}
	return NewRoomRegistry("u1", em), em
}

func TestReplaceAllDeduplicates(t *testing.T) {
	r, _ := newTestRegistry()

	r.ReplaceAll([]models.Room{{Id: "r1"}, {Id: "r2"}, {Id: "r1"}})
	if got := len(r.Rooms()); got != 2 {
		t.Fatalf("rooms length = %d, want 2", got)
	}

	// 再接続後の取り直しは丸ごと置き換え
	r.ReplaceAll([]models.Room{{Id: "r2"}})
	rooms := r.Rooms()
	if len(rooms) != 1 || rooms[0].Id != "r2" {
		t.Fatalf("rooms = %+v, want only r2", rooms)
	}
}

func TestApplySnapshotLastWriteWins(t *testing.T) {
	r, _ := newTestRegistry()
	r.ReplaceAll([]models.Room{{Id: "r1", Name: "old"}})

	r.ApplySnapshot(models.Room{Id: "r1", Name: "new"})
	if room, _ := r.Room("r1"); room.Name != "new" {
		t.Fatalf("Name = %q, want new", room.Name)
	}

	// 未知のルームは追加される
	r.ApplySnapshot(models.Room{Id: "r2", Name: "fresh"})
	if got := len(r.Rooms()); got != 2 {
		t.Fatalf("rooms length = %d, want 2", got)
	}
}

func TestJoinSetsActiveAndEmits(t *testing.T) {
	r, em := newTestRegistry()

	r.Join("r1")
	if r.Active() != "r1" {
		t.Fatalf("Active = %q, want r1", r.Active())
	}
	if em.count(protocol.EventJoining) != 1 {
		t.Fatal("joining must be emitted")
	}
}

func TestCreateRoomOptimisticInsert(t *testing.T) {
	r, em := newTestRegistry()

	r.CreateRoom(models.Room{Id: "r1", Creator: "u1"}, nil)
	if got := len(r.Rooms()); got != 1 {
		t.Fatalf("rooms length = %d, want 1", got)
	}
	if em.count(protocol.EventCreateRoom) != 1 {
		t.Fatal("createRoom must be emitted")
	}
}

func TestCreateRoomEchoAutoJoinsCreator(t *testing.T) {
	r, em := newTestRegistry()

	r.HandleCreateRoomEcho(models.Room{Id: "r1", Creator: "u1"})
	if em.count(protocol.EventGetRooms) != 1 {
		t.Fatal("echo must trigger a room list refresh")
	}
	if r.Active() != "r1" {
		t.Fatal("creator must auto-join the new room")
	}

	// 他人が作ったルームにはjoinしない
	r.ClearActive()
	r.HandleCreateRoomEcho(models.Room{Id: "r2", Creator: "u2"})
	if r.Active() != "" {
		t.Fatal("non-creator must not auto-join")
	}
}

func TestHandleDeleteRoomClearsActive(t *testing.T) {
	r, _ := newTestRegistry()
	r.ReplaceAll([]models.Room{{Id: "r1"}, {Id: "r2"}})
	r.Join("r1")

	r.HandleDeleteRoom("r1")
	if r.Active() != "" {
		t.Fatal("deleting the active room must clear the active pointer")
	}
	if got := len(r.Rooms()); got != 1 {
		t.Fatalf("rooms length = %d, want 1", got)
	}

	// アクティブでないルームの削除はポインタに触れない
	r.Join("r2")
	r.HandleDeleteRoom("r3")
	if r.Active() != "r2" {
		t.Fatal("deleting another room must not clear the active pointer")
	}
}

func TestRoomsByActivityOrdersNewestFirst(t *testing.T) {
	r, _ := newTestRegistry()
	r.ReplaceAll([]models.Room{
		{Id: "quiet", CreatedAt: 50},
		{Id: "busy", CreatedAt: 10, LastMessage: &models.Message{CreatedAt: 300}},
		{Id: "recent", CreatedAt: 10, LastMessage: &models.Message{CreatedAt: 100}},
	})

	order := r.RoomsByActivity()
	want := []string{"busy", "recent", "quiet"}
	for i, id := range want {
		if order[i].Id != id {
			t.Fatalf("order[%d] = %q, want %q", i, order[i].Id, id)
		}
	}
}

func TestUnionLastMessageSeen(t *testing.T) {
	r, _ := newTestRegistry()
	r.ReplaceAll([]models.Room{{Id: "r1", LastMessage: &models.Message{Id: "m1"}}})

	r.UnionLastMessageSeen("r1", "m1", "u2")
	r.UnionLastMessageSeen("r1", "m1", "u2") // 冪等
	r.UnionLastMessageSeen("r1", "stale", "u3")

	room, _ := r.Room("r1")
	if len(room.LastMessage.SeenBy) != 1 || room.LastMessage.SeenBy[0] != "u2" {
		t.Fatalf("SeenBy = %v, want [u2]", room.LastMessage.SeenBy)
	}
}

func TestApplyUserDataUpdatesParticipants(t *testing.T) {
	r, _ := newTestRegistry()
	r.ReplaceAll([]models.Room{
		{Id: "r1", Participants: []models.User{{UserId: "u2", Name: "Bob"}}},
		{Id: "r2", Participants: []models.User{{UserId: "u2", Name: "Bob"}, {UserId: "u3", Name: "Carol"}}},
	})

	r.ApplyUserData(protocol.UpdateUserDataPayload{UserId: "u2", Name: "Robert"})

	for _, id := range []string{"r1", "r2"} {
		room, _ := r.Room(id)
		if room.Participants[0].Name != "Robert" {
			t.Fatalf("room %s participant name = %q, want Robert", id, room.Participants[0].Name)
		}
	}
	room, _ := r.Room("r2")
	if room.Participants[1].Name != "Carol" {
		t.Fatal("other participants must be untouched")
	}
}
