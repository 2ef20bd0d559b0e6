package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"math"

	"go.uber.org/zap"
)

const (
	// DefaultMinWordLen is the shortest token scored by the entropy gate.
	DefaultMinWordLen = 5

	// DefaultMaxWordLen bounds how much of a token the entropy gate scores.
	DefaultMaxWordLen = 40

	// standaloneMinLen is the shortest base64 or hex token considered for
	// standalone entropy findings.
	standaloneMinLen = 20

	// decodedKeyspace scores decoded base64 and hex bytes.
	decodedKeyspace = 255
)

// wordTrim is stripped from both ends of standalone entropy candidates.
const wordTrim = "'\"\r\n()"

func isWordSplit(r rune) bool {
	switch r {
	case ' ', '"', '\'', '(', ')', ':', '=', '`':
		return true
	}
	return false
}

func tokenize(b []byte) [][]byte {
	return bytes.FieldsFunc(b, isWordSplit)
}

func isBase64Byte(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '+' || c == '/'
}

func isHexByte(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func all(b []byte, pred func(byte) bool) bool {
	for _, c := range b {
		if !pred(c) {
			return false
		}
	}
	return true
}

// GuessKeyspace classifies a token's alphabet. Base64 is checked before hex
// because every hex digit is also a base64 character; a hex guess also asks
// for lowercase folding.
func GuessKeyspace(b []byte) (keyspace int, lowercase bool) {
	switch {
	case all(b, isBase64Byte):
		return 64, false
	case all(b, isHexByte):
		return 16, true
	default:
		return 128, false
	}
}

// shannonEntropy returns the Shannon entropy of b in bits per byte.
func shannonEntropy(b []byte, lowercase bool) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		if lowercase && c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		counts[c]++
	}

	n := float64(len(b))
	var h float64
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		h -= p * math.Log2(p)
	}
	return h
}

// NormalizedEntropy returns the Shannon entropy of b divided by the bits
// needed to encode one symbol of the keyspace. A keyspace below 2 is
// guessed from b. The input is never modified.
func NormalizedEntropy(b []byte, keyspace int, lowercase bool) float64 {
	if len(b) == 0 {
		return 0
	}
	if keyspace < 2 {
		var guessedLower bool
		keyspace, guessedLower = GuessKeyspace(b)
		lowercase = lowercase || guessedLower
	}
	return shannonEntropy(b, lowercase) / math.Log2(float64(keyspace))
}

// maxEntropy scores every token of text that is at least minWordLen long,
// truncated to maxWordLen, and returns the highest score.
func (e *Engine) maxEntropy(text []byte, keyspace int, lowercase bool) float64 {
	var highest float64
	for _, word := range tokenize(text) {
		if len(word) < e.minWordLen {
			continue
		}
		if len(word) > e.maxWordLen {
			word = word[:e.maxWordLen]
		}
		if h := NormalizedEntropy(word, keyspace, lowercase); h > highest {
			highest = h
		}
	}
	return highest
}

// CheckEntropy reports whether text passes the entropy gate of the named
// rule. Rules without an entropy filter always pass. An unknown name passes
// only when it is EntropyReason.
func (e *Engine) CheckEntropy(reason string, text []byte) bool {
	rule, ok := e.rules.Rule(reason)
	if !ok {
		return reason == EntropyReason
	}
	if !rule.EntropyFilter {
		return true
	}
	return e.maxEntropy(text, rule.Keyspace, rule.Lowercase) > rule.EntropyThreshold
}

// StandaloneEntropy finds base64 and hex tokens in line whose decoded bytes
// score above threshold, independent of any rule. Each distinct token is
// reported once, at its first offset in line.
func (e *Engine) StandaloneEntropy(line []byte, threshold float64) []Match {
	var words [][]byte
	for _, w := range tokenize(line) {
		w = bytes.Trim(w, wordTrim)
		if len(w) >= standaloneMinLen {
			words = append(words, w)
		}
	}

	var candidates []string
	seen := make(map[string]struct{})
	keep := func(token string) {
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		candidates = append(candidates, token)
	}

	b64 := base64.RawStdEncoding.Strict()
	for _, w := range words {
		if !all(w, isBase64Byte) {
			continue
		}
		decoded, err := b64.DecodeString(string(w))
		if err != nil {
			continue
		}
		if NormalizedEntropy(decoded, decodedKeyspace, false) > threshold {
			keep(b64.EncodeToString(decoded))
		}
	}
	for _, w := range words {
		if !all(w, isHexByte) {
			continue
		}
		decoded, err := hex.DecodeString(string(w))
		if err != nil {
			continue
		}
		if NormalizedEntropy(decoded, decodedKeyspace, true) > threshold {
			keep(hex.EncodeToString(decoded))
		}
	}
	if len(candidates) > 0 {
		e.logger.Trace(context.Background(), "standalone entropy candidates", zap.Strings("tokens", candidates))
	}

	var out []Match
	for _, token := range candidates {
		start := bytes.Index(line, []byte(token))
		if start < 0 {
			// Hex is re-encoded in lowercase.
			start = indexFoldASCII(line, token)
		}
		if start < 0 {
			e.logger.Error(context.Background(), "index error: entropy token not found in line",
				zap.Int("token_len", len(token)))
			continue
		}
		out = append(out, Match{Start: start, End: start + len(token), text: line})
	}
	return out
}

// indexFoldASCII is bytes.Index with ASCII-only case folding of line, so
// offsets stay valid for non-UTF-8 input.
func indexFoldASCII(line []byte, lowerToken string) int {
	folded := make([]byte, len(line))
	for i, c := range line {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		folded[i] = c
	}
	return bytes.Index(folded, []byte(lowerToken))
}
