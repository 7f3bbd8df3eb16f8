package runtime

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the fabric's boot configuration. Values resolve in three layers:
// built-in defaults, then an optional TOML file, then environment
// overrides.
type Config struct {
	Env           string   `toml:"env"`
	ListenAddr    string   `toml:"listen_addr"`
	KeysDir       string   `toml:"keys_dir"`
	ThreadLogDB   string   `toml:"threadlog_db"`
	GWEnabled     bool     `toml:"gw_enabled"`
	MaxGlyphs     int      `toml:"max_glyphs"`
	MaxTextLen    int      `toml:"max_text_len"`
	AllowDevToken bool     `toml:"allow_dev_token"`
	StrictProdACL bool     `toml:"strict_prod_acl"`
	AllowPrefixes []string `toml:"allow_recipient_prefixes"`
	DenyPrefixes  []string `toml:"deny_recipient_prefixes"`
	AllowRegex    []string `toml:"allow_recipient_regex"`
	DenyRegex     []string `toml:"deny_recipient_regex"`
	PeerAddrs     []string `toml:"peer_addrs"`
	// TokenHashes are argon2 digests of accepted agent tokens, as produced
	// by the glyphnet CLI.
	TokenHashes []string `toml:"token_hashes"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Env:         "development",
		ListenAddr:  ":8490",
		KeysDir:     "keys",
		ThreadLogDB: "glyphnet_thread.db",
		GWEnabled:   true,
		MaxGlyphs:   65536,
		MaxTextLen:  200000,
	}
}

// LoadConfig resolves the configuration. path may be empty; a missing file
// at an explicit path is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("GLYPHNET_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("GLYPH_THREADLOG_DB"); v != "" {
		c.ThreadLogDB = v
	}
	if v := os.Getenv("GW_ENABLED"); v != "" {
		c.GWEnabled = truthy(v)
	}
	if v := os.Getenv("MAX_GLYPHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxGlyphs = n
		}
	}
	if v := os.Getenv("MAX_TEXT_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxTextLen = n
		}
	}
	if v := os.Getenv("GLYPHNET_ALLOW_DEV_TOKEN"); v != "" {
		c.AllowDevToken = truthy(v)
	}
	if v := os.Getenv("GLYPHNET_STRICT_PROD_ACL"); v != "" {
		c.StrictProdACL = v == "1" || truthy(v)
	}
	if v := os.Getenv("GLYPHNET_ALLOW_RECIPIENT_PREFIXES"); v != "" {
		c.AllowPrefixes = splitList(v)
	}
	if v := os.Getenv("GLYPHNET_DENY_RECIPIENT_PREFIXES"); v != "" {
		c.DenyPrefixes = splitList(v)
	}
	if v := os.Getenv("GLYPHNET_ALLOW_RECIPIENT_REGEX"); v != "" {
		c.AllowRegex = splitList(v)
	}
	if v := os.Getenv("GLYPHNET_DENY_RECIPIENT_REGEX"); v != "" {
		c.DenyRegex = splitList(v)
	}
}

// Production reports whether the fabric runs with production admission
// defaults.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
