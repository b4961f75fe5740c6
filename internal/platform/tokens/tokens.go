// Package tokens estimates token counts when a provider does not report usage.
package tokens

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encodings ship with the binary so counting never reaches the network.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

const defaultEncoding = "cl100k_base"

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(model string) *tiktoken.Tiktoken {
	key := strings.TrimSpace(model)
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[key]; ok {
		return enc
	}
	var enc *tiktoken.Tiktoken
	if key != "" {
		if e, err := tiktoken.EncodingForModel(key); err == nil {
			enc = e
		}
	}
	if enc == nil {
		if e, err := tiktoken.GetEncoding(defaultEncoding); err == nil {
			enc = e
		}
	}
	// nil is cached too so an unavailable encoding is not retried per call.
	encCache[key] = enc
	return enc
}

// Count returns the token count of text under model's encoding, falling back
// to a rune-based estimate when no encoding is available.
func Count(model, text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if enc := encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate is the rune/4 heuristic.
func Estimate(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(text))) / 4.0))
}
