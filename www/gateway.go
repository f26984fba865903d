package www

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleetwatch/bus"
	"fleetwatch/engine"
)

const (
	sendQueueSize  = 64
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Gateway relays bus traffic to observer websockets and tracks who is
// watching which robot. A connection must authenticate before it receives
// anything beyond protocol replies.
type Gateway struct {
	eng      *engine.Engine
	tokens   *tokenCodec
	upgrader websocket.Upgrader
	ping     time.Duration

	mu     sync.RWMutex
	conns  map[*wsConn]struct{}
	closed bool
}

type wsConn struct {
	id         string
	ws         *websocket.Conn
	send       chan []byte
	operatorID int64 // written by the reader under Gateway.mu
	authed     bool
}

type inbound struct {
	Type    string          `json:"type"`
	Token   string          `json:"token"`
	RobotID json.RawMessage `json:"robotId"`
}

func NewGateway(eng *engine.Engine, tokens *tokenCodec, ping time.Duration) *Gateway {
	if ping <= 0 {
		ping = 30 * time.Second
	}
	g := &Gateway{
		eng:    eng,
		tokens: tokens,
		ping:   ping,
		conns:  make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, ch := range bus.Channels {
		if err := eng.Bus().Subscribe(ch, g.relay); err != nil {
			log.Printf("gateway: subscribe %s: %v", ch, err)
		}
	}
	return g
}

// relay stamps a bus payload with serverTime and fans it out.
func (g *Gateway) relay(payload []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("gateway: drop malformed bus payload: %v", err)
		return
	}
	msg["serverTime"] = json.RawMessage(strconv.FormatInt(time.Now().UnixMilli(), 10))
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	g.broadcast(data)
}

func (g *Gateway) broadcast(data []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.conns {
		if !c.authed {
			continue
		}
		select {
		case c.send <- data:
		default:
			g.eng.Metrics().FanoutDropped()
		}
	}
}

func (g *Gateway) broadcastJSON(msg map[string]any) {
	data, err := encode(msg)
	if err != nil {
		log.Printf("gateway: encode %v: %v", msg["type"], err)
		return
	}
	g.broadcast(data)
}

func (g *Gateway) broadcastPresence() {
	st := g.eng.PresenceState()
	g.broadcastJSON(map[string]any{"type": "presence", "operatorsOnline": st.OperatorsOnline})
	g.broadcastOpsState()
}

func (g *Gateway) broadcastOpsState() {
	st := g.eng.PresenceState()
	g.broadcastJSON(map[string]any{"type": "ops_state", "operatorsOnline": st.OperatorsOnline, "focusCounts": st.FocusCounts})
}

// encode adds serverTime in milliseconds to msg.
func encode(msg map[string]any) ([]byte, error) {
	msg["serverTime"] = time.Now().UnixMilli()
	return json.Marshal(msg)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade: %v", err)
		return
	}
	c := &wsConn{id: uuid.NewString(), ws: ws, send: make(chan []byte, sendQueueSize)}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		ws.Close()
		return
	}
	g.conns[c] = struct{}{}
	g.mu.Unlock()
	g.eng.Metrics().ConnectionOpened()

	go g.writeLoop(c)
	g.readLoop(c)
	g.drop(c)
}

func (g *Gateway) drop(c *wsConn) {
	g.mu.Lock()
	if _, ok := g.conns[c]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, c)
	close(c.send)
	authed, opID := c.authed, c.operatorID
	g.mu.Unlock()
	g.eng.Metrics().ConnectionClosed()

	if authed {
		if _, changed := g.eng.OperatorLeft(opID, c.id); changed {
			g.broadcastPresence()
		}
	}
}

func (g *Gateway) readLoop(c *wsConn) {
	pongWait := g.ping * 2
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("gateway: read %s: %v", c.id, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("gateway: bad message from %s: %v", c.id, err)
			continue
		}
		g.handle(c, msg)
	}
}

func (g *Gateway) handle(c *wsConn, msg inbound) {
	if msg.Type == "auth" {
		g.authenticate(c, msg.Token)
		return
	}
	if !c.authed {
		g.reply(c, map[string]any{"type": "error", "error": "Not authenticated"})
		return
	}
	switch msg.Type {
	case "ping":
		g.reply(c, map[string]any{"type": "pong", "timestamp": time.Now().UnixMilli()})
	case "focus":
		g.eng.SetFocus(c.operatorID, focusTarget(msg.RobotID))
		g.broadcastOpsState()
	default:
		log.Printf("gateway: unknown message type %q", msg.Type)
	}
}

func (g *Gateway) authenticate(c *wsConn, token string) {
	id, err := g.tokens.Verify(token)
	if err == nil {
		_, err = g.eng.DB().GetOperator(id)
	}
	if err != nil {
		g.reply(c, map[string]any{"type": "auth_error", "error": "Invalid token"})
		return
	}
	if c.authed && c.operatorID != id {
		g.eng.OperatorLeft(c.operatorID, c.id)
	}
	g.mu.Lock()
	c.operatorID = id
	c.authed = true
	g.mu.Unlock()

	g.eng.OperatorJoined(id, c.id)
	g.reply(c, map[string]any{"type": "auth_success", "userId": id})
	g.broadcastPresence()
	log.Printf("gateway: operator %d authenticated on %s", id, c.id)
}

// focusTarget accepts a numeric or string robot id. Anything else clears
// the focus.
func focusTarget(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}

// reply queues a message for one connection. Only the reader calls it, so
// the send channel is still open.
func (g *Gateway) reply(c *wsConn, msg map[string]any) {
	data, err := encode(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		g.eng.Metrics().FanoutDropped()
	}
}

func (g *Gateway) writeLoop(c *wsConn) {
	ticker := time.NewTicker(g.ping)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// ConnectionCount reports open connections, authenticated or not.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Close disconnects every observer and ignores later bus traffic.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	conns := make([]*wsConn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}
