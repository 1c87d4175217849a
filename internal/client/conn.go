package client

import (
	"log"
	"sync"
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/protocol"
	"github.com/gorilla/websocket"
)

// State は接続の状態を表します
type State string

const (
	StateConnecting   State = "connecting"   // 初回接続の試行中
	StateConnected    State = "connected"    // 接続確立済み
	StateReconnecting State = "reconnecting" // 切断後の再接続試行中
	StateDisconnected State = "disconnected" // 明示的な切断またはオフライン
)

// Emitter はプロトコルイベントを送信できるものを表します
// 本番ではConn、テストではフェイクを注入します
type Emitter interface {
	Emit(event string, payload any) error
}

// wsConn はConnが必要とするWebSocket接続の最小インターフェース
// テストではフェイク実装に差し替えます
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer は接続を確立する関数です
type Dialer func(url string, handshakeTimeout time.Duration) (wsConn, error)

// gorillaDial は既定のDialerです
func gorillaDial(url string, handshakeTimeout time.Duration) (wsConn, error) {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	c, _, err := d.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ConnOptions はConnの設定です
type ConnOptions struct {
	URL              string        // 接続先のWebSocket URL
	HandshakeTimeout time.Duration // ハンドシェイクのタイムアウト（既定20秒）
	BackoffMin       time.Duration // 再接続バックオフの下限（既定1秒）
	BackoffMax       time.Duration // 再接続バックオフの上限（既定5秒）
	Dial             Dialer        // 接続確立関数（テスト用に差し替え可能）
	OnState          func(State)   // 状態遷移の通知コールバック
	OnConnected      func()        // connected遷移時のエントリーアクション（全量再同期）
}

// Conn は1セッションにつき1本の論理接続を維持します
// 再接続は無限に繰り返され、この層でエラーが致命的になることはありません
// 送信は fire-and-forget で、未接続時のEmitは黙って破棄されます
type Conn struct {
	opts ConnOptions
	bus  *Bus

	mu     sync.Mutex
	ws     wsConn
	state  State
	online bool

	resume    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn は新しいConnを作成します。Startを呼ぶまで接続は開始されません
func NewConn(opts ConnOptions, bus *Bus) *Conn {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 20 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 5 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = gorillaDial
	}
	return &Conn{
		opts:   opts,
		bus:    bus,
		state:  StateDisconnected,
		online: true,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start は接続ループを開始します
func (c *Conn) Start() {
	go c.run()
}

// run は接続・受信・再接続のループです
// 状態機械: disconnected -> connecting -> connected -> reconnecting -> connected ...
func (c *Conn) run() {
	attempt := 0
	backoff := c.opts.BackoffMin

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if !c.waitOnline() {
			return
		}

		if attempt == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		ws, err := c.opts.Dial(c.opts.URL, c.opts.HandshakeTimeout)
		if err != nil {
			log.Printf("dial failed (attempt %d): %v", attempt+1, err)
			attempt++
			if !c.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > c.opts.BackoffMax {
				backoff = c.opts.BackoffMax
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		backoff = c.opts.BackoffMin

		c.setState(StateConnected)
		if c.opts.OnConnected != nil {
			c.opts.OnConnected()
		}

		c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()

		select {
		case <-c.done:
			return
		default:
		}
		attempt++
	}
}

// readLoop は受信したEnvelopeをBusに配り続けます。エラーで抜けます
func (c *Conn) readLoop(ws wsConn) {
	for {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		c.bus.Publish(env)
	}
}

// Emit はイベントを送信します
// 未接続時は黙って破棄します。呼び出し側は再同期での回復を前提にしてください
func (c *Conn) Emit(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.ws == nil {
		return nil
	}
	return c.ws.WriteJSON(env)
}

// State は現在の接続状態を返します
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NetworkOffline はネットワーク喪失シグナルを受けて接続を即座に破棄します
// トランスポート層のタイムアウトを待つより回復が速くなります
func (c *Conn) NetworkOffline() {
	c.mu.Lock()
	c.online = false
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.setState(StateDisconnected)
}

// NetworkOnline はネットワーク回復シグナルを受けて接続を再構築します
func (c *Conn) NetworkOnline() {
	c.mu.Lock()
	c.online = true
	c.mu.Unlock()

	select {
	case c.resume <- struct{}{}:
	default:
	}
}

// Close は接続を明示的に終了します。再接続は行われません
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
	c.setState(StateDisconnected)
}

// setState は状態を更新し、変化した場合のみコールバックを呼びます
func (c *Conn) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	cb := c.opts.OnState
	c.mu.Unlock()

	if changed && cb != nil {
		cb(s)
	}
}

// waitOnline はオフライン中は再開シグナルを待ちます
// Closeされた場合はfalseを返します
func (c *Conn) waitOnline() bool {
	for {
		c.mu.Lock()
		online := c.online
		c.mu.Unlock()
		if online {
			return true
		}
		select {
		case <-c.done:
			return false
		case <-c.resume:
		}
	}
}

// sleep は再接続バックオフの待機です。Closeされた場合はfalseを返します
func (c *Conn) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}
