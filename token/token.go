// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: token.go — Word tokens and the fixed-width slot codec
//
// Purpose:
//   - Normalises raw words into the token alphabet (lowercase ASCII a-z0-9).
//   - Encodes tokens into 256-byte slots and decodes them back.
//
// Notes:
//   - A slot is one length byte plus up to MaxTokenLength payload bytes; the
//     tail beyond the length is zeroed on encode so stale bytes never leak.
//   - The sentinel travels through exactly the same codec as data.
// ─────────────────────────────────────────────────────────────────────────────

package token

import (
	"errors"
	"fmt"

	"wordpipe/constants"
	"wordpipe/utils"
)

// ErrShortSlot is returned when a slot buffer is smaller than SlotSize.
var ErrShortSlot = errors.New("token: slot buffer too small")

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// NORMALISATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Normalize keeps ASCII letters and digits of raw, lower-cased, and drops
// every other byte. The result is truncated to MaxTokenLength and may be
// empty, in which case the caller drops the word.
func Normalize(raw string) string {
	var buf [constants.MaxTokenLength]byte
	n := 0
	for i := 0; i < len(raw) && n < len(buf); i++ {
		if c, ok := fold(raw[i]); ok {
			buf[n] = c
			n++
		}
	}
	return string(buf[:n])
}

// fold maps one input byte into the token alphabet. Bytes outside it,
// including every byte of a multi-byte UTF-8 sequence, are rejected.
//
//go:nosplit
func fold(c byte) (byte, bool) {
	switch {
	case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return c, true
	case c >= 'A' && c <= 'Z':
		return c + ('a' - 'A'), true
	}
	return 0, false
}

// IsSentinel reports whether b is the end-of-stream marker.
//
//go:inline
func IsSentinel(b []byte) bool {
	return utils.B2s(b) == constants.Sentinel
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SLOT CODEC
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Encode writes tok into dst using the slot format. tok must already be
// bounded; anything past MaxTokenLength is rejected rather than cut.
func Encode(dst []byte, tok string) error {
	if len(dst) < constants.SlotSize {
		return ErrShortSlot
	}
	if len(tok) > constants.MaxTokenLength {
		return fmt.Errorf("token: %d bytes exceeds limit %d", len(tok), constants.MaxTokenLength)
	}
	dst[0] = byte(len(tok))
	n := copy(dst[1:constants.SlotSize], tok)
	clear(dst[1+n : constants.SlotSize])
	return nil
}

// EncodeSentinel writes the end-of-stream marker into dst.
func EncodeSentinel(dst []byte) error {
	return Encode(dst, constants.Sentinel)
}

// Decode returns the payload view of a slot. The view aliases src; callers
// copy it before the slot can be reused.
func Decode(src []byte) ([]byte, error) {
	if len(src) < constants.SlotSize {
		return nil, ErrShortSlot
	}
	n := int(src[0])
	return src[1 : 1+n], nil
}
