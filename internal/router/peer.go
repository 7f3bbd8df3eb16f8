package router

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/gip"
)

// peerConn wraps a websocket connection with a write mutex.
// gorilla/websocket connections do not support concurrent writers, so every
// write must be serialized per connection.
type peerConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex // guards writes
}

func (p *peerConn) send(frame string) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Peers manages outbound WebSocket links to remote fabric nodes, keyed by
// address. Each link runs a read loop that decodes inbound GIP frames and
// hands them to a registered receiver.
type Peers struct {
	mu      sync.Mutex
	conns   map[string]*peerConn
	receive func(p *gip.Packet, from string)
	log     zerolog.Logger
}

// NewPeers creates an empty peer table.
func NewPeers(log zerolog.Logger) *Peers {
	return &Peers{
		conns: make(map[string]*peerConn),
		log:   log.With().Str("component", "peers").Logger(),
	}
}

// SetReceiver registers the callback for inbound packets.
func (ps *Peers) SetReceiver(fn func(p *gip.Packet, from string)) {
	ps.mu.Lock()
	ps.receive = fn
	ps.mu.Unlock()
}

// Connect dials the peer's GIP endpoint and starts its read loop. Connecting
// to an already-linked address is a no-op.
func (ps *Peers) Connect(addr string) error {
	ps.mu.Lock()
	if _, ok := ps.conns[addr]; ok {
		ps.mu.Unlock()
		return nil
	}
	ps.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/gip", nil)
	if err != nil {
		return fmt.Errorf("dial peer %s: %w", addr, err)
	}
	conn.SetReadLimit(1 << 20)

	pc := &peerConn{conn: conn}
	ps.mu.Lock()
	ps.conns[addr] = pc
	ps.mu.Unlock()

	go ps.readLoop(addr, pc)
	return nil
}

func (ps *Peers) readLoop(addr string, pc *peerConn) {
	defer ps.drop(addr)
	for {
		_, data, err := pc.conn.ReadMessage()
		if err != nil {
			ps.log.Debug().Str("peer", addr).Err(err).Msg("peer link closed")
			return
		}
		p, err := gip.Decode(string(data))
		if err != nil {
			ps.log.Warn().Str("peer", addr).Err(err).Msg("undecodable peer frame")
			continue
		}
		ps.mu.Lock()
		fn := ps.receive
		ps.mu.Unlock()
		if fn != nil {
			fn(p, addr)
		}
	}
}

// Send encodes and writes a packet to every linked peer, returning the
// number of successful writes.
func (ps *Peers) Send(p *gip.Packet) int {
	frame, err := gip.Encode(p)
	if err != nil {
		ps.log.Error().Str("packet", p.ID).Err(err).Msg("encode for peers failed")
		return 0
	}

	ps.mu.Lock()
	conns := make(map[string]*peerConn, len(ps.conns))
	for addr, pc := range ps.conns {
		conns[addr] = pc
	}
	ps.mu.Unlock()

	sent := 0
	for addr, pc := range conns {
		if err := pc.send(frame); err != nil {
			ps.log.Warn().Str("peer", addr).Err(err).Msg("peer write failed")
			ps.drop(addr)
			continue
		}
		sent++
	}
	return sent
}

// Count reports the number of live peer links.
func (ps *Peers) Count() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.conns)
}

func (ps *Peers) drop(addr string) {
	ps.mu.Lock()
	pc, ok := ps.conns[addr]
	delete(ps.conns, addr)
	ps.mu.Unlock()
	if ok {
		pc.conn.Close()
	}
}

// Close tears down every peer link.
func (ps *Peers) Close() {
	ps.mu.Lock()
	conns := ps.conns
	ps.conns = make(map[string]*peerConn)
	ps.mu.Unlock()
	for _, pc := range conns {
		pc.conn.Close()
	}
}
