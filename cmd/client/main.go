// チャットクライアントのエントリーポイント
// 同期エンジン（internal/client）を端末から操作する対話型クライアントです
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/client"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/config"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
)

func main() {
	userId := flag.String("user", "", "user id")
	name := flag.String("name", "", "display name")
	flag.Parse()

	if *userId == "" {
		log.Fatal("-user is required")
	}
	if *name == "" {
		*name = *userId
	}

	cfg := config.Load()

	u, err := url.Parse(cfg.SocketURL)
	if err != nil {
		log.Fatalf("invalid SOCKET_URL: %v", err)
	}
	q := u.Query()
	q.Set("userId", *userId)
	u.RawQuery = q.Encode()

	sess := client.NewSession(client.SessionOptions{
		URL:              u.String(),
		Me:               models.User{UserId: *userId, Name: *name},
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReconnectMin:     cfg.ReconnectMin,
		ReconnectMax:     cfg.ReconnectMax,
		TypingDebounce:   cfg.TypingDebounce,
		DraftsPath:       draftsPath(*userId),
		OnState: func(s client.State) {
			fmt.Printf("\n[%s]\n", s)
		},
	})
	sess.Start()
	defer sess.Close()

	printHelp()
	repl(sess)
}

// draftsPath は下書きの永続化先を返します
// ユーザーごとに分離し、再起動しても下書きが復元されるようにします
func draftsPath(userId string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	dir = filepath.Join(dir, "telehive")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return filepath.Join(".", "drafts_"+userId+".json")
	}
	return filepath.Join(dir, "drafts_"+userId+".json")
}

func printHelp() {
	fmt.Println(`commands:
  /rooms              list rooms (latest activity first)
  /join <roomId>      join a room
  /pins               show pinned messages of the active room
  /nextpin            rotate the banner pin
  /online             show online users
  /typing             show who is typing in the active room
  /edit <id> <body>   edit a message
  /del <id>           delete a message for yourself
  /delall <id>        delete a message for everyone
  /pin <id>           toggle pin on a message
  /quit               exit
anything else is sent to the active room`)
}

// repl は標準入力のコマンドループです
// コマンドでない行はそのままアクティブルームへ送信します
func repl(sess *client.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			active := sess.Rooms.Active()
			if active == "" {
				fmt.Println("no active room (use /join)")
				continue
			}
			sess.SendMessage(active, line, nil, nil)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			return
		case "/rooms":
			for _, r := range sess.Rooms.RoomsByActivity() {
				preview := ""
				if r.LastMessage != nil {
					preview = r.LastMessage.Body
				}
				fmt.Printf("  %s  %-20s %s\n", r.Id, r.Name, preview)
			}
		case "/join":
			sess.LeaveActiveRoom()
			sess.Rooms.Join(arg)
		case "/pins":
			active := sess.Rooms.Active()
			for _, m := range sess.Messages.Pinned(active) {
				fmt.Printf("  %s  %s\n", m.Id, m.Body)
			}
		case "/nextpin":
			active := sess.Rooms.Active()
			sess.Messages.AdvancePin(active)
			if m, ok := sess.Messages.ActivePin(active); ok {
				fmt.Printf("  pinned: %s\n", m.Body)
			}
		case "/online":
			for _, e := range sess.Presence.Online() {
				fmt.Printf("  %s\n", e.UserId)
			}
		case "/typing":
			fmt.Printf("  %s\n", strings.Join(sess.Typing.Typers(sess.Rooms.Active()), ", "))
		case "/edit":
			id, body, _ := strings.Cut(arg, " ")
			sess.Messages.RequestEdit(sess.Rooms.Active(), id, body)
		case "/del":
			sess.Messages.RequestDelete(sess.Rooms.Active(), arg, false)
		case "/delall":
			sess.Messages.RequestDelete(sess.Rooms.Active(), arg, true)
		case "/pin":
			sess.Messages.RequestPin(sess.Rooms.Active(), arg)
		default:
			printHelp()
		}
	}
}
