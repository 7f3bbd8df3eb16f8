package router

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
)

// Radio framing: 4 data shards + 2 parity shards, so a burst losing any two
// shards still reassembles.
const (
	radioDataShards   = 4
	radioParityShards = 2
)

// RadioFrame is one erasure-coded transmission unit.
type RadioFrame struct {
	PacketID string
	Index    int
	Total    int
	Size     int // original payload length, for join
	Data     []byte
}

// RadioCoder splits encoded packets into FEC shards and reassembles them.
type RadioCoder struct {
	enc reedsolomon.Encoder
}

// NewRadioCoder builds the shard codec.
func NewRadioCoder() (*RadioCoder, error) {
	enc, err := reedsolomon.New(radioDataShards, radioParityShards)
	if err != nil {
		return nil, fmt.Errorf("reedsolomon init: %w", err)
	}
	return &RadioCoder{enc: enc}, nil
}

// Shard splits payload into data+parity frames for packetID.
func (c *RadioCoder) Shard(packetID string, payload []byte) ([]RadioFrame, error) {
	shards, err := c.enc.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("split payload: %w", err)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}

	frames := make([]RadioFrame, len(shards))
	for i, s := range shards {
		frames[i] = RadioFrame{
			PacketID: packetID,
			Index:    i,
			Total:    len(shards),
			Size:     len(payload),
			Data:     s,
		}
	}
	return frames, nil
}

// Reassemble recovers the original payload from frames, tolerating up to two
// missing shards. Frames may arrive in any order.
func (c *RadioCoder) Reassemble(frames []RadioFrame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames")
	}
	total := radioDataShards + radioParityShards
	size := frames[0].Size

	shards := make([][]byte, total)
	for _, f := range frames {
		if f.Index < 0 || f.Index >= total {
			return nil, fmt.Errorf("frame index %d out of range", f.Index)
		}
		shards[f.Index] = f.Data
	}

	if err := c.enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	var buf bytes.Buffer
	if err := c.enc.Join(&buf, shards, size); err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	return buf.Bytes(), nil
}

// AirLog is the simulated RF medium: an in-memory record of transmitted
// frames, keyed by packet id.
type AirLog struct {
	mu     sync.Mutex
	frames map[string][]RadioFrame
}

// NewAirLog creates an empty air log.
func NewAirLog() *AirLog {
	return &AirLog{frames: make(map[string][]RadioFrame)}
}

// Transmit records frames on the air.
func (a *AirLog) Transmit(frames []RadioFrame) {
	a.mu.Lock()
	for _, f := range frames {
		a.frames[f.PacketID] = append(a.frames[f.PacketID], f)
	}
	a.mu.Unlock()
}

// Receive returns the frames heard for packetID.
func (a *AirLog) Receive(packetID string) []RadioFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]RadioFrame(nil), a.frames[packetID]...)
}
