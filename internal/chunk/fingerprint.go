package chunk

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a 128-bit hash of normalized chunk content. Formatting-only
// edits produce the same fingerprint, so they trigger no re-embedding.
type Fingerprint [16]byte

// String returns the hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ParseFingerprint decodes the hex form.
func ParseFingerprint(s string) (Fingerprint, bool) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return f, false
	}
	copy(f[:], b)
	return f, true
}

// seeds for the two xxh64 halves of the 128-bit fingerprint.
var (
	fpSeedLo = []byte("loupe/fp/lo")
	fpSeedHi = []byte("loupe/fp/hi")
)

// NewFingerprint normalizes content and hashes it. Two independently seeded
// xxh64 digests form the 128-bit value.
func NewFingerprint(content, language string) Fingerprint {
	norm := Normalize(content, language)

	lo := xxhash.New()
	_, _ = lo.Write(fpSeedLo)
	_, _ = lo.WriteString(norm)

	hi := xxhash.New()
	_, _ = hi.Write(fpSeedHi)
	_, _ = hi.WriteString(norm)

	var f Fingerprint
	binary.BigEndian.PutUint64(f[0:8], lo.Sum64())
	binary.BigEndian.PutUint64(f[8:16], hi.Sum64())
	return f
}

// lineCommentPrefix returns the line-comment marker for a language, or "".
func lineCommentPrefix(language string) string {
	switch language {
	case "go", "rust", "javascript", "typescript":
		return "//"
	case "python":
		return "#"
	default:
		return ""
	}
}

// Normalize collapses whitespace runs to single spaces and strips line
// comments. Line numbers and indentation never reach the hash.
func Normalize(content, language string) string {
	marker := lineCommentPrefix(language)

	var b strings.Builder
	b.Grow(len(content))

	for _, line := range strings.Split(content, "\n") {
		if marker != "" {
			if idx := commentStart(line, marker); idx >= 0 {
				line = line[:idx]
			}
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	return collapseSpaces(b.String())
}

// commentStart finds the line-comment marker outside string literals.
// A simple quote-state scan; escapes inside strings are honored.
func commentStart(line, marker string) int {
	var quote byte
	for i := 0; i+len(marker) <= len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		default:
			if line[i:i+len(marker)] == marker {
				return i
			}
		}
	}
	return -1
}

// collapseSpaces replaces every run of whitespace with a single space.
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
