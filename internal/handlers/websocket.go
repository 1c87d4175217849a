package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/idgen"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/service"
	"github.com/gorilla/websocket"
)

// 接続維持用の定数
var (
	writeWait  = 10 * time.Second    // 書き込みのタイムアウト
	pongWait   = 60 * time.Second    // pong応答の待機時間
	pingPeriod = (pongWait * 9) / 10 // ping送信の間隔
)

// ChatHub は全WebSocket接続とルームごとの購読を管理します
// スレッドセーフな実装により、複数のgoroutineから同時にアクセス可能です
type ChatHub struct {
	clients map[string]*Client            // ソケットIDをキーとしたクライアントのマップ
	rooms   map[string]map[string]*Client // ルームID -> ソケットID -> クライアント
	mu      sync.RWMutex                  // 読み書きのロック
}

// Client は1つのWebSocket接続を表します
type Client struct {
	socketId string          // 接続の一意な識別子
	userId   string          // ユーザーID
	conn     *websocket.Conn // WebSocket接続
	send     chan protocol.Envelope
	once     sync.Once // sendチャネルの二重closeを防ぐ
}

// close はクライアントの送信チャネルを閉じます
func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	svc      *service.ChatService // ビジネスロジックを担当するサービス
	hub      *ChatHub             // WebSocket接続を管理するハブ
	upgrader websocket.Upgrader   // HTTPからWebSocketへのアップグレーダー
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(s *service.ChatService) *WebSocketHandler {
	return &WebSocketHandler{
		svc: s,
		hub: &ChatHub{
			clients: make(map[string]*Client),
			rooms:   make(map[string]map[string]*Client),
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 本番環境では適切なOriginチェックを実装してください
				return true
			},
		},
	}
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. HTTPからWebSocketへのアップグレード
// 2. クライアントの登録と所属ルームの購読
// 3. オンラインユーザー全量とスクロールチェックポイントの配信
// 4. メッセージ受信ループの開始
// 5. 切断時のクリーンアップとオンラインユーザー再配信
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userId, err := requireID("userId", r.URL.Query().Get("userId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		socketId: idgen.NewULID(),
		userId:   userId,
		conn:     conn,
		send:     make(chan protocol.Envelope, 32),
	}

	h.hub.register(client)
	go client.writePump()

	// 所属ルームをすべて購読（接続時の全量再同期の受け皿）
	h.subscribeUserRooms(r.Context(), client)

	h.broadcastOnlineUsers()
	h.sendTracks(r.Context(), client)

	log.Printf("WebSocket connected: socketId=%s, userId=%s", client.socketId, userId)

	defer func() {
		h.hub.unregister(client)
		client.close()
		conn.Close()
		h.broadcastOnlineUsers()
		log.Printf("WebSocket disconnected: socketId=%s, userId=%s", client.socketId, userId)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// メッセージ受信ループ
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		h.dispatch(r.Context(), client, env)
	}
}

// writePump はクライアントへの送信とpingを直列化します
// conn.WriteJSON は並行呼び出しできないため、送信はすべてこのgoroutine経由で行います
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Printf("Failed to send to socketId=%s: %v", c.socketId, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch はイベント名に応じてメッセージを処理します
func (h *WebSocketHandler) dispatch(ctx context.Context, client *Client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoining:
		h.handleJoining(ctx, client, env)
	case protocol.EventGetRooms:
		h.handleGetRooms(ctx, client)
	case protocol.EventCreateRoom:
		h.handleCreateRoom(ctx, client, env)
	case protocol.EventNewMessage:
		h.handleNewMessage(ctx, client, env)
	case protocol.EventEditMessage:
		h.handleEditMessage(ctx, client, env)
	case protocol.EventDeleteMsg:
		h.handleDeleteMsg(ctx, client, env)
	case protocol.EventPinMessage:
		h.handlePinMessage(ctx, client, env)
	case protocol.EventSeenMsg:
		h.handleSeenMsg(ctx, client, env)
	case protocol.EventTyping, protocol.EventStopTyping:
		h.handleTyping(client, env)
	case protocol.EventUpdateLastMsgPos:
		h.handleUpdateLastMsgPos(ctx, client, env)
	case protocol.EventUpdateUserData:
		h.handleUpdateUserData(client, env)
	case protocol.EventListenToVoice:
		h.handleListenToVoice(ctx, client, env)
	case protocol.EventGetVoiceListeners:
		h.handleGetVoiceListeners(ctx, client, env)
	case protocol.EventDeleteRoom:
		h.handleDeleteRoom(ctx, client, env)
	default:
		log.Printf("Unknown event: %s", env.Event)
	}
}

// handleJoining はルーム購読を処理し、完全なスナップショットを返します
func (h *WebSocketHandler) handleJoining(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.JoiningPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("Failed to decode joining payload: %v", err)
		return
	}
	if _, err := requireID("roomId", p.RoomId); err != nil {
		return
	}

	snap, err := h.svc.JoinRoom(ctx, p.RoomId, client.userId)
	if err != nil {
		h.sendError(client, "failed to join room")
		return
	}

	h.hub.subscribe(p.RoomId, client)
	h.sendTo(client, protocol.EventJoining, snap)
}

// handleGetRooms はルーム一覧の全量を返します
// 再接続のたびに呼ばれるため、結果はクライアント側で丸ごと置き換えられます
func (h *WebSocketHandler) handleGetRooms(ctx context.Context, client *Client) {
	rooms, err := h.svc.ListRooms(ctx, client.userId)
	if err != nil {
		h.sendError(client, "failed to list rooms")
		return
	}
	h.subscribeUserRooms(ctx, client)
	h.sendTo(client, protocol.EventGetRooms, rooms)
}

// handleCreateRoom はルーム作成を処理します
// 処理の流れ:
// 1. ルームと最初のメッセージを永続化
// 2. 参加者の接続済みクライアントを購読に追加
// 3. 参加者全員に createRoom を配信（クライアント側で再同期と自動joinが走る）
func (h *WebSocketHandler) handleCreateRoom(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.CreateRoomPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("Failed to decode createRoom payload: %v", err)
		return
	}

	room, err := h.svc.CreateRoom(ctx, p.NewRoomData, p.FirstMessage)
	if err != nil {
		h.sendError(client, "failed to create room")
		return
	}

	userIds := make([]string, 0, len(room.Participants))
	for _, u := range room.Participants {
		userIds = append(userIds, u.UserId)
	}
	h.subscribeUsers(room.Id, userIds)
	h.broadcastToUsers(userIds, protocol.EventCreateRoom, room)
}

// handleNewMessage は新規メッセージを処理します
// 送信者を含むルーム全員にエコーし、参加者全員に最新メッセージ更新を配信します
func (h *WebSocketHandler) handleNewMessage(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.NewMessagePayload
	if err := env.Decode(&p); err != nil {
		log.Printf("Failed to decode newMessage payload: %v", err)
		return
	}
	// なりすまし防止
	if p.Sender.UserId != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, p.Sender.UserId)
		return
	}

	msg, err := h.svc.AppendMessage(ctx, p)
	if err != nil {
		h.sendError(client, "failed to send message")
		return
	}

	// 送信者を含めてエコー（クライアントは相関IDで楽観的挿入と照合する）
	h.broadcastToRoom(msg.RoomId, protocol.EventNewMessage, msg, "")
	h.broadcastToRoomUsers(ctx, msg.RoomId, protocol.EventLastMsgUpdate,
		protocol.LastMsgUpdatePayload{RoomId: msg.RoomId, Message: msg})
}

// handleEditMessage はメッセージ編集を処理します
func (h *WebSocketHandler) handleEditMessage(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.EditMessagePayload
	if err := env.Decode(&p); err != nil {
		log.Printf("Failed to decode editMessage payload: %v", err)
		return
	}
	p.UserId = client.userId

	msg, err := h.svc.EditMessage(ctx, p)
	if err != nil {
		h.sendError(client, "failed to edit message")
		return
	}
	h.broadcastToRoom(p.RoomId, protocol.EventEditMessage, msg, "")
}

// handleDeleteMsg はメッセージ削除を処理します
// forAll=true ならルーム全員に配信、false なら要求したソケットにのみエコーします
func (h *WebSocketHandler) handleDeleteMsg(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.DeleteMsgPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("Failed to decode deleteMsg payload: %v", err)
		return
	}
	p.UserId = client.userId

	if _, err := h.svc.DeleteMessage(ctx, p); err != nil {
		h.sendError(client, "failed to delete message")
		return
	}

	if p.ForAll {
		h.broadcastToRoom(p.RoomId, protocol.EventDeleteMsg, p, "")
	} else {
		h.sendTo(client, protocol.EventDeleteMsg, p)
	}
}

// handlePinMessage はピン留めトグルを処理します
func (h *WebSocketHandler) handlePinMessage(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.PinMessagePayload
	if err := env.Decode(&p); err != nil {
		log.Printf("Failed to decode pinMessage payload: %v", err)
		return
	}

	msg, err := h.svc.PinMessage(ctx, p)
	if err != nil {
		h.sendError(client, "failed to pin message")
		return
	}
	p.PinnedAt = msg.PinnedAt
	h.broadcastToRoom(p.RoomId, protocol.EventPinMessage, p, "")
}

// handleSeenMsg は既読通知を処理します
// 状態が変化した場合のみルーム全員に配信します（重複エコーの抑制）
func (h *WebSocketHandler) handleSeenMsg(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.SeenMsgPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("Failed to decode seenMsg payload: %v", err)
		return
	}
	p.SeenBy = client.userId

	_, changed, err := h.svc.MarkSeen(ctx, p)
	if err != nil {
		return
	}
	if changed {
		h.broadcastToRoom(p.RoomId, protocol.EventSeenMsg, p, "")
	}
}

// handleTyping は入力中/入力終了通知を送信者以外のルームメンバーに中継します
func (h *WebSocketHandler) handleTyping(client *Client, env protocol.Envelope) {
	var p protocol.TypingPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	h.broadcastToRoom(p.RoomId, env.Event, p, client.socketId)
}

// handleUpdateLastMsgPos はスクロール位置のチェックポイントを保存します
func (h *WebSocketHandler) handleUpdateLastMsgPos(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.UpdateLastMsgPosPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	p.UserId = client.userId
	if err := h.svc.SaveTrack(ctx, p); err != nil {
		log.Printf("Failed to save track: userId=%s, roomId=%s, error=%v", p.UserId, p.RoomId, err)
	}
}

// handleUpdateUserData はプロフィール変更を全接続クライアントに配信します
func (h *WebSocketHandler) handleUpdateUserData(client *Client, env protocol.Envelope) {
	var p protocol.UpdateUserDataPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	if p.UserId != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, p.UserId)
		return
	}
	h.broadcastAll(protocol.EventUpdateUserData, p)
}

// handleListenToVoice はボイス再生の記録を処理します
func (h *WebSocketHandler) handleListenToVoice(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.ListenToVoicePayload
	if err := env.Decode(&p); err != nil {
		return
	}
	p.UserId = client.userId

	if _, err := h.svc.VoicePlayed(ctx, p); err != nil {
		return
	}
	h.broadcastToRoom(p.RoomId, protocol.EventListenToVoice, p, "")
}

// handleGetVoiceListeners はボイス再生者一覧を要求したソケットにのみ返します
func (h *WebSocketHandler) handleGetVoiceListeners(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.GetVoiceListenersPayload
	if err := env.Decode(&p); err != nil {
		return
	}

	// ルームIDはペイロードにないため、購読中のルームから探す
	roomId := h.hub.roomOfMessage(ctx, h.svc, p.MsgId, client)
	if roomId == "" {
		return
	}
	listeners, err := h.svc.VoiceListeners(ctx, roomId, p.MsgId)
	if err != nil {
		return
	}
	p.Listeners = listeners
	h.sendTo(client, protocol.EventGetVoiceListeners, p)
}

// handleDeleteRoom はルーム削除を処理します（作成者のみ）
func (h *WebSocketHandler) handleDeleteRoom(ctx context.Context, client *Client, env protocol.Envelope) {
	var p protocol.DeleteRoomPayload
	if err := env.Decode(&p); err != nil {
		return
	}

	room, err := h.svc.DeleteRoom(ctx, p.RoomId, client.userId)
	if err != nil {
		h.sendError(client, "failed to delete room")
		return
	}

	userIds := make([]string, 0, len(room.Participants))
	for _, u := range room.Participants {
		userIds = append(userIds, u.UserId)
	}
	h.broadcastToUsers(userIds, protocol.EventDeleteRoom, p)
	h.hub.dropRoom(p.RoomId)
}

// subscribeUsers は指定ユーザーの接続済みクライアントをルームの購読者に追加します
func (h *WebSocketHandler) subscribeUsers(roomId string, userIds []string) {
	targets := make(map[string]bool, len(userIds))
	for _, id := range userIds {
		targets[id] = true
	}

	h.hub.mu.RLock()
	clients := make([]*Client, 0, len(h.hub.clients))
	for _, c := range h.hub.clients {
		if targets[c.userId] {
			clients = append(clients, c)
		}
	}
	h.hub.mu.RUnlock()

	for _, c := range clients {
		h.hub.subscribe(roomId, c)
	}
}

// subscribeUserRooms はユーザーが所属する全ルームをこの接続の購読に追加します
func (h *WebSocketHandler) subscribeUserRooms(ctx context.Context, client *Client) {
	rooms, err := h.svc.ListRooms(ctx, client.userId)
	if err != nil {
		log.Printf("Failed to list rooms for subscribe: userId=%s, error=%v", client.userId, err)
		return
	}
	for _, room := range rooms {
		h.hub.subscribe(room.Id, client)
	}
}

// sendTracks はスクロールチェックポイントの全量をこの接続に送信します
func (h *WebSocketHandler) sendTracks(ctx context.Context, client *Client) {
	tracks, err := h.svc.ListTracks(ctx, client.userId)
	if err != nil {
		return
	}
	h.sendTo(client, protocol.EventUpdateLastMsgPos, tracks)
}

// broadcastOnlineUsers はオンラインユーザーの全量を全接続に配信します
// 差分配信は行いません。1回取りこぼしても次の配信で自己回復します
func (h *WebSocketHandler) broadcastOnlineUsers() {
	h.hub.mu.RLock()
	online := make([]models.PresenceEntry, 0, len(h.hub.clients))
	for _, c := range h.hub.clients {
		online = append(online, models.PresenceEntry{SocketId: c.socketId, UserId: c.userId})
	}
	h.hub.mu.RUnlock()

	h.broadcastAll(protocol.EventUpdateOnlineUsers, online)
}

// sendTo は1つの接続にイベントを送信します
// 送信バッファが詰まっている場合は破棄します（配信はat-least-onceではなくベストエフォート）
func (h *WebSocketHandler) sendTo(client *Client, event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("Failed to encode %s payload: %v", event, err)
		return
	}
	select {
	case client.send <- env:
	default:
	}
}

// sendError はエラーをこの接続にのみ通知します
func (h *WebSocketHandler) sendError(client *Client, msg string) {
	h.sendTo(client, protocol.EventError, protocol.ErrorPayload{Message: msg})
}

// broadcastToRoom はルームの購読者全員にイベントを配信します
// excludeSocketId が空でない場合はそのソケットを除外します
func (h *WebSocketHandler) broadcastToRoom(roomId, event string, payload any, excludeSocketId string) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("Failed to encode %s payload: %v", event, err)
		return
	}

	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	for socketId, c := range h.hub.rooms[roomId] {
		if socketId == excludeSocketId {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// broadcastToUsers は指定ユーザーの全接続にイベントを配信します
func (h *WebSocketHandler) broadcastToUsers(userIds []string, event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return
	}
	targets := make(map[string]bool, len(userIds))
	for _, id := range userIds {
		targets[id] = true
	}

	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	for _, c := range h.hub.clients {
		if !targets[c.userId] {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// broadcastToRoomUsers はルーム参加者の全接続に配信します（ルームを開いていない接続を含む）
func (h *WebSocketHandler) broadcastToRoomUsers(ctx context.Context, roomId, event string, payload any) {
	room, err := h.svc.Room(ctx, roomId)
	if err != nil {
		return
	}
	userIds := make([]string, 0, len(room.Participants))
	for _, u := range room.Participants {
		userIds = append(userIds, u.UserId)
	}
	h.broadcastToUsers(userIds, event, payload)
}

// broadcastAll は全接続にイベントを配信します
func (h *WebSocketHandler) broadcastAll(event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return
	}
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	for _, c := range h.hub.clients {
		select {
		case c.send <- env:
		default:
		}
	}
}

// register はクライアントを登録します
func (hub *ChatHub) register(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.clients[client.socketId] = client
}

// unregister はクライアントの登録と全ルームの購読を解除します
func (hub *ChatHub) unregister(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.clients, client.socketId)
	for roomId, members := range hub.rooms {
		delete(members, client.socketId)
		if len(members) == 0 {
			delete(hub.rooms, roomId)
		}
	}
}

// subscribe はクライアントをルームの購読者に追加します
func (hub *ChatHub) subscribe(roomId string, client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	members, ok := hub.rooms[roomId]
	if !ok {
		members = make(map[string]*Client)
		hub.rooms[roomId] = members
	}
	members[client.socketId] = client
}

// dropRoom はルームの購読情報を破棄します
func (hub *ChatHub) dropRoom(roomId string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.rooms, roomId)
}

// roomOfMessage はクライアントが購読中のルームから対象メッセージの所属先を探します
func (hub *ChatHub) roomOfMessage(ctx context.Context, svc *service.ChatService, msgId string, client *Client) string {
	hub.mu.RLock()
	roomIds := make([]string, 0)
	for roomId, members := range hub.rooms {
		if _, ok := members[client.socketId]; ok {
			roomIds = append(roomIds, roomId)
		}
	}
	hub.mu.RUnlock()

	for _, roomId := range roomIds {
		if _, err := svc.VoiceListeners(ctx, roomId, msgId); err == nil {
			return roomId
		}
	}
	return ""
}
