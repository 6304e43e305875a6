package neodap

import (
	"crypto/rand"
	"strings"
)

// consonants and vowels alternate to build a pronounceable token; no
// ecosystem library in the retrieval pack generates pronounceable IDs, so
// this stays on crypto/rand (see DESIGN.md).
const (
	consonants = "bdfghjklmnprstvwz"
	vowels     = "aeiou"
)

// newSessionID returns a pronounceable identifier with at least 48 bits of
// entropy (spec.md §9: "deterministic pronounceable generator... seed from
// a process-random source"). Eight consonant-vowel pairs drawn from a
// 17x5-symbol alphabet give log2(85^8) ≈ 51.3 bits.
func newSessionID() string {
	const pairs = 8
	buf := make([]byte, pairs*2)
	if _, err := rand.Read(buf); err != nil {
		panic("neodap: failed to read random session id: " + err.Error())
	}

	var sb strings.Builder
	sb.Grow(pairs * 2)
	for i := 0; i < pairs; i++ {
		sb.WriteByte(consonants[int(buf[i*2])%len(consonants)])
		sb.WriteByte(vowels[int(buf[i*2+1])%len(vowels)])
	}
	return sb.String()
}
