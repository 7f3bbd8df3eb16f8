package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/glyphnet/internal/bus"
	"github.com/ssd-technologies/glyphnet/internal/runtime"
)

const wsFrameBudgetPerMinute = 60

// upgrader allows any origin; agents connect from non-browser processes and
// there is no same-origin policy to enforce.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the client-to-server message shape. Op selects the action.
type wsFrame struct {
	Op      string         `json:"op"`
	Topic   string         `json:"topic,omitempty"`
	Tx      *wsTx          `json:"tx,omitempty"`
	Capsule map[string]any `json:"capsule,omitempty"`
}

type wsTx struct {
	Recipient string         `json:"recipient,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Capsule   map[string]any `json:"capsule"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// handleWS upgrades the connection and serves the bidirectional GIP stream:
// subscribe/unsubscribe to topics, submit tx frames, receive capsule fan-out.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r, ""); err != nil {
		writeFailure(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)

	client := &wsClient{
		srv:  s,
		conn: conn,
		key:  r.RemoteAddr,
		subs: make(map[string]*bus.Subscription),
	}
	defer client.close()
	client.readLoop(r)
}

type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	key  string     // frame budget key, the peer's remote address
	wmu  sync.Mutex // gorilla connections forbid concurrent writers
	mu   sync.Mutex
	subs map[string]*bus.Subscription
}

func (c *wsClient) readLoop(r *http.Request) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.srv.wsBudget.Allow(c.key) {
			c.send(map[string]any{"type": "error", "error": "rate limit exceeded"})
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.send(map[string]any{"type": "error", "error": "invalid frame"})
			continue
		}

		switch frame.Op {
		case "subscribe":
			c.subscribe(frame.Topic)
		case "unsubscribe":
			c.unsubscribe(frame.Topic)
		case "tx":
			c.tx(r, frame.Tx)
		default:
			c.send(map[string]any{"type": "error", "error": "unknown op"})
		}
	}
}

func (c *wsClient) subscribe(topic string) {
	if topic == "" {
		c.send(map[string]any{"type": "error", "error": "topic required"})
		return
	}
	c.mu.Lock()
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return
	}
	sub := c.srv.rt.Bus.Subscribe(topic)
	c.subs[topic] = sub
	c.mu.Unlock()

	go func() {
		for env := range sub.C {
			c.send(map[string]any{
				"type":     "glyphnet_capsule",
				"topic":    topic,
				"envelope": env,
			})
		}
	}()
	c.send(map[string]any{"type": "subscribed", "topic": topic})
}

func (c *wsClient) unsubscribe(topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		c.srv.rt.Bus.Unsubscribe(topic, sub.ID)
	}
}

func (c *wsClient) tx(r *http.Request, tx *wsTx) {
	if tx == nil {
		c.send(map[string]any{"type": "error", "error": "tx body required"})
		return
	}
	res, err := c.srv.rt.HandleTx(r.Context(), runtime.TxRequest{
		Recipient: tx.Recipient,
		Topic:     tx.Topic,
		Capsule:   tx.Capsule,
		Meta:      tx.Meta,
	})
	if err != nil {
		c.send(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	c.send(map[string]any{"type": "tx_result", "result": res})
}

func (c *wsClient) send(v any) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.WriteJSON(v)
}

func (c *wsClient) close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*bus.Subscription)
	c.mu.Unlock()
	for topic, sub := range subs {
		c.srv.rt.Bus.Unsubscribe(topic, sub.ID)
	}
	c.conn.Close()
}
