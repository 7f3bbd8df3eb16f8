package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ssd-technologies/glyphnet/internal/bus"
	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/lock"
	"github.com/ssd-technologies/glyphnet/internal/router"
	"github.com/ssd-technologies/glyphnet/internal/threadlog"
)

// voiceFloorTTLMS is the lease granted when a voice frame soft-acquires its
// channel floor.
const voiceFloorTTLMS = 4000

// TxRequest is the ingress payload: a capsule addressed to a recipient or an
// explicit topic.
type TxRequest struct {
	Recipient string         `json:"recipient,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Capsule   map[string]any `json:"capsule"`
	Meta      map[string]any `json:"meta,omitempty"`
	Token     string         `json:"token,omitempty"`
	Sender    string         `json:"-"`
}

// TxResult reports what the runtime did with the capsule.
type TxResult struct {
	Status    string      `json:"status"`
	Kind      string      `json:"kind"`
	Delivered int         `json:"delivered"`
	Duplicate bool        `json:"duplicate"`
	MsgID     string      `json:"msg_id,omitempty"`
	Topic     string      `json:"topic,omitempty"`
	Lock      *lock.Event `json:"lock,omitempty"`
}

// HandleTx processes one ingress capsule. Three shapes are understood: lock
// operations, voice frames, and glyph capsules. Everything else is invalid
// input.
func (r *Runtime) HandleTx(ctx context.Context, req TxRequest) (*TxResult, error) {
	if req.Recipient == "" && req.Topic == "" {
		return nil, fmt.Errorf("%w: recipient or topic required", ErrInvalidInput)
	}
	if req.Capsule == nil {
		return nil, fmt.Errorf("%w: capsule required", ErrInvalidInput)
	}

	topic := req.Topic
	if topic == "" {
		topic = "gnet:" + req.Recipient
	}
	if req.Recipient != "" {
		if err := r.ACL.Check(req.Recipient); err != nil {
			return nil, err
		}
	}

	switch req.Capsule["type"] {
	case "entanglement_lock":
		return r.handleLock(topic, req)
	case "voice_frame":
		return r.handleVoice(topic, req)
	default:
		return r.handleCapsule(topic, req)
	}
}

func (r *Runtime) handleLock(topic string, req TxRequest) (*TxResult, error) {
	op, _ := req.Capsule["op"].(string)
	resource, _ := req.Capsule["resource"].(string)
	owner, _ := req.Capsule["owner"].(string)
	if resource == "" || owner == "" {
		return nil, fmt.Errorf("%w: lock capsule requires resource and owner", ErrInvalidInput)
	}
	switch op {
	case lock.OpAcquire, lock.OpRefresh, lock.OpRelease:
	default:
		return nil, fmt.Errorf("%w: unknown lock op %q", ErrInvalidInput, op)
	}
	ttl := int64(voiceFloorTTLMS)
	if v, ok := req.Capsule["ttl_ms"].(float64); ok && v > 0 {
		ttl = int64(v)
	}

	ev := r.Locks.Apply(topic, op, resource, owner, ttl)
	r.appendLog(topic, req, "lock", map[string]any{
		"type": ev.Type, "resource": ev.Resource, "state": ev.State,
		"owner": ev.Owner, "until": ev.Until, "granted": ev.Granted,
	})
	return &TxResult{Status: "ok", Kind: "lock", Topic: topic, Lock: &ev}, nil
}

func (r *Runtime) handleVoice(topic string, req TxRequest) (*TxResult, error) {
	channel, _ := req.Capsule["channel"].(string)
	mime, _ := req.Capsule["mime"].(string)
	data, _ := req.Capsule["data_b64"].(string)
	_, hasSeq := req.Capsule["seq"]
	_, hasTS := req.Capsule["ts"]
	if channel == "" || mime == "" || data == "" || !hasSeq || !hasTS {
		return nil, fmt.Errorf("%w: voice frame requires channel, seq, ts, mime, data_b64", ErrInvalidInput)
	}
	if len(data) > r.Cfg.MaxTextLen {
		return nil, fmt.Errorf("%w: voice frame exceeds %d bytes", ErrTooLarge, r.Cfg.MaxTextLen)
	}

	// Soft floor acquire. Denial does not block the frame; the lock manager
	// remains the source of truth and listeners resolve contention.
	owner := req.Sender
	if owner == "" {
		owner = channel
	}
	r.Locks.Apply(topic, lock.OpRefresh, "voice:"+channel, owner, voiceFloorTTLMS)

	return r.dedupAndPublish(topic, req, "voice")
}

func (r *Runtime) handleCapsule(topic string, req TxRequest) (*TxResult, error) {
	if glyphs, ok := req.Capsule["glyphs"].([]any); ok {
		if len(glyphs) > r.Cfg.MaxGlyphs {
			return nil, fmt.Errorf("%w: %d glyphs exceeds %d", ErrTooLarge, len(glyphs), r.Cfg.MaxGlyphs)
		}
	}
	if text, ok := req.Capsule["text"].(string); ok {
		if len(text) > r.Cfg.MaxTextLen {
			return nil, fmt.Errorf("%w: text exceeds %d bytes", ErrTooLarge, r.Cfg.MaxTextLen)
		}
	}
	return r.dedupAndPublish(topic, req, "capsule")
}

func (r *Runtime) dedupAndPublish(topic string, req TxRequest, kind string) (*TxResult, error) {
	msgID := gip.CanonicalID(topic, req.Capsule)
	if r.Dedup.CheckAndMark(msgID) {
		r.Metrics.DedupHits.Inc()
		return &TxResult{Status: "ok", Kind: kind, Duplicate: true, MsgID: msgID, Topic: topic}, nil
	}

	delivered := r.Bus.Publish(topic, bus.Envelope{
		ID:        msgID,
		TS:        float64(time.Now().UnixNano()) / 1e9,
		Op:        kind,
		Recipient: req.Recipient,
		Capsule:   req.Capsule,
		Meta:      req.Meta,
	})
	r.Metrics.Published.Inc()
	r.appendLog(topic, req, kind, req.Capsule)

	return &TxResult{Status: "ok", Kind: kind, Delivered: delivered, MsgID: msgID, Topic: topic}, nil
}

func (r *Runtime) appendLog(topic string, req TxRequest, kind string, payload map[string]any) {
	graph, _ := req.Meta["graph"].(string)
	err := r.ThreadLog.Append(threadlog.Event{
		Topic:     topic,
		Graph:     graph,
		Type:      kind,
		TS:        float64(time.Now().UnixNano()) / 1e9,
		Direction: "in",
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Payload:   payload,
	})
	if err != nil {
		r.log.Warn().Str("topic", topic).Err(err).Msg("thread log append failed")
	}
}

// HandlePush routes a raw GIP packet through the transport fabric with
// auto-selection.
func (r *Runtime) HandlePush(ctx context.Context, p *gip.Packet) (bool, error) {
	if p.Target != "" {
		if err := r.ACL.Check(p.Target); err != nil {
			return false, err
		}
	}
	return r.Router.Dispatch(ctx, p, "", router.Options{GKey: r.GKeys.ByPair(p.Sender, p.Target)})
}

// Thread reads persisted events for a topic.
func (r *Runtime) Thread(topic, graph string, limit int) ([]threadlog.Event, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic required", ErrInvalidInput)
	}
	return r.ThreadLog.Read(topic, graph, limit)
}
