package gip

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Voice frames are fingerprinted rather than full-hashed: the base64 audio
// body is replaced by its length plus 12-character head and tail, keeping
// canonical IDs cheap for high-rate frames.
const voiceEdgeLen = 12

// CanonicalID derives the stable content-addressed message id for a capsule
// on a topic. Retransmissions of a canonically equal capsule map to the same
// id, which is what the dedup cache keys on.
func CanonicalID(topic string, capsule map[string]any) string {
	record := map[string]any{
		"t": topic,
		"c": fingerprintCapsule(capsule),
	}
	// encoding/json emits map keys sorted, giving a canonical byte form.
	data, err := json.Marshal(record)
	if err != nil {
		data = fmt.Appendf(nil, "%v", record)
	}
	sum := sha1.Sum(data)
	return "msg_" + hex.EncodeToString(sum[:])
}

func fingerprintCapsule(capsule map[string]any) map[string]any {
	b64, ok := capsule["data_b64"].(string)
	if !ok {
		return capsule
	}

	head, tail := b64, b64
	if len(b64) > voiceEdgeLen {
		head = b64[:voiceEdgeLen]
		tail = b64[len(b64)-voiceEdgeLen:]
	}

	fp := make(map[string]any, len(capsule))
	for k, v := range capsule {
		if k == "data_b64" {
			continue
		}
		fp[k] = v
	}
	fp["b64_len"] = len(b64)
	fp["b64_head"] = head
	fp["b64_tail"] = tail
	return fp
}
