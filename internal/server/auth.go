package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/ssd-technologies/glyphnet/internal/crypto"
	"github.com/ssd-technologies/glyphnet/internal/runtime"
)

// devTokens are accepted only when the configuration opts in.
var devTokens = map[string]string{
	"dev-token": "dev",
	"local-dev": "dev",
}

// authenticate resolves the agent identity from the bearer header, the
// x-agent-token header, or the request body token, in that order. Configured
// tokens are stored as argon2 digests; raw tokens never persist.
func (s *Server) authenticate(r *http.Request, bodyToken string) (string, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.Header.Get("x-agent-token")
	}
	if token == "" {
		token = bodyToken
	}
	if token == "" {
		if s.rt.Cfg.AllowDevToken && len(s.rt.Cfg.TokenHashes) == 0 {
			return "anonymous", nil
		}
		return "", fmt.Errorf("%w: token required", runtime.ErrUnauthorized)
	}

	if s.rt.Cfg.AllowDevToken {
		if agent, ok := devTokens[token]; ok {
			return agent, nil
		}
	}

	for _, encoded := range s.rt.Cfg.TokenHashes {
		stored, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if crypto.VerifyToken(token, stored) {
			return "agent", nil
		}
	}
	return "", fmt.Errorf("%w: token rejected", runtime.ErrUnauthorized)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
