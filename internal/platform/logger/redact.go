package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	redactedMarker = "[REDACTED]"
	bodyClipRunes  = 120
)

type fieldAction int

const (
	keepField fieldAction = iota
	dropField
	hashField
	clipField
)

// Secrets. Token counters such as prompt_tokens share the substring and are
// exempted by suffix.
var secretNeedles = []string{"token", "authorization", "password", "secret", "cookie", "api_key", "apikey", "jwt"}

// Identifiers that link log lines to a person.
var identityKeys = map[string]struct{}{
	"user_id":    {},
	"created_by": {},
	"owner_id":   {},
	"email":      {},
}

// Free text supplied by users or the model.
var bodyKeys = map[string]struct{}{
	"content":       {},
	"text":          {},
	"query":         {},
	"prompt_text":   {},
	"system_prompt": {},
	"instruction":   {},
	"memory":        {},
	"delta":         {},
}

// Redactor rewrites log field values by key: secrets are replaced, identities
// are replaced by a salted hash, and free text is clipped.
type Redactor struct {
	salt string
}

func redactorFromEnv() *Redactor {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		return nil
	}
	return &Redactor{salt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))}
}

// NewRedactor returns a Redactor that hashes identities with salt.
func NewRedactor(salt string) *Redactor {
	return &Redactor{salt: salt}
}

func classify(key string) fieldAction {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return keepField
	}
	if !strings.HasSuffix(key, "_tokens") {
		for _, n := range secretNeedles {
			if strings.Contains(key, n) {
				return dropField
			}
		}
	}
	if _, ok := identityKeys[key]; ok || strings.HasSuffix(key, "_user_id") {
		return hashField
	}
	if _, ok := bodyKeys[key]; ok {
		return clipField
	}
	return keepField
}

// fields rewrites a zap key/value list. A trailing key without a value is
// passed through for zap to report.
func (r *Redactor) fields(kv []interface{}) []interface{} {
	if r == nil || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key := stringify(kv[i])
		out = append(out, key, r.value(classify(key), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func (r *Redactor) value(action fieldAction, v interface{}) interface{} {
	switch action {
	case dropField:
		return redactedMarker
	case hashField:
		return r.hash(stringify(v))
	case clipField:
		return clipRunes(stringify(v), bodyClipRunes)
	}
	if s, ok := v.(string); ok && isBearerShaped(s) {
		return redactedMarker
	}
	return v
}

func (r *Redactor) hash(raw string) string {
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// isBearerShaped matches compact JWS strings so a token logged under an
// innocuous key is still hidden.
func isBearerShaped(s string) bool {
	parts := strings.Split(strings.TrimPrefix(s, "Bearer "), ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
