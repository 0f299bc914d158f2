// Package runid generates short identifiers for analysis runs and chat
// sessions.
//
// ID Format: <kind:2>-<base62_ts:4><base62_rand:4> (11 chars total including dash)
//
// Kinds:
//   - rf = analysis of a local file
//   - ru = analysis of a URL
//   - ch = chat session
//
// The timestamp component wraps every 62^4 units, so IDs are short but only
// unique together with the random component.
package runid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// Kinds
const (
	KindFileRun = "rf"
	KindURLRun  = "ru"
	KindChat    = "ch"
)

const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// base62Max is 62^4
const base62Max = 62 * 62 * 62 * 62

var validKinds = map[string]bool{
	KindFileRun: true,
	KindURLRun:  true,
	KindChat:    true,
}

var ErrInvalidFormat = errors.New("invalid run ID format")

// New generates an ID of the given kind. Panics on an unknown kind.
func New(kind string) string {
	if !validKinds[kind] {
		panic(fmt.Sprintf("runid: invalid kind: %q", kind))
	}
	ts := encodeBase62(uint64(time.Now().UnixNano()/1000) % base62Max)
	return kind + "-" + ts + randomBase62(4)
}

// ForSource returns a new run ID matching the kind of src.
func ForSource(src video.Source) string {
	if src.Kind == video.SourceURL {
		return New(KindURLRun)
	}
	return New(KindFileRun)
}

// Kind returns the kind prefix of a well-formed id.
func Kind(id string) (string, error) {
	if len(id) != 11 || id[2] != '-' {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, id)
	}
	if !validKinds[id[:2]] {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidFormat, id[:2])
	}
	for _, c := range id[3:] {
		if !isBase62(c) {
			return "", fmt.Errorf("%w: %q has non-base62 characters", ErrInvalidFormat, id)
		}
	}
	return id[:2], nil
}

func encodeBase62(n uint64) string {
	out := make([]byte, 4)
	for i := 3; i >= 0; i-- {
		out[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(out)
}

// randomBase62 uses rejection sampling so every symbol is equally likely.
func randomBase62(length int) string {
	const maxUnbiased = 248
	out := make([]byte, 0, length)
	var buf [16]byte
	for len(out) < length {
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("runid: read random: %v", err))
		}
		for _, b := range buf {
			if b < maxUnbiased && len(out) < length {
				out = append(out, base62Alphabet[b%62])
			}
		}
	}
	return string(out)
}

func isBase62(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
