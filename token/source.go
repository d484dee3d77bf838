package token

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode"
	"unicode/utf8"

	"wordpipe/constants"
)

// Source yields normalised, non-empty tokens from whitespace-separated text.
// Words of any length are accepted: only the first MaxTokenLength bytes that
// survive normalisation are kept, the rest of the word is read and skipped.
type Source struct {
	r       *bufio.Reader
	closer  io.Closer
	err     error
	done    bool
	raw     int
	dropped int
}

// NewSource reads words from r.
func NewSource(r io.Reader) *Source {
	return &Source{r: bufio.NewReaderSize(r, 64*1024)}
}

// Open opens the UTF-8 text file at path as a Source.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file %s: %w", path, err)
	}
	s := NewSource(f)
	s.closer = f
	return s, nil
}

// Next returns the next token. Words that normalise to nothing are skipped.
// ok is false once the input is exhausted or a read error occurred.
func (s *Source) Next() (tok string, ok bool) {
	for {
		if tok, ok = s.word(); !ok {
			return "", false
		}
		s.raw++
		if tok != "" {
			return tok, true
		}
		s.dropped++
	}
}

// word reads one whitespace-delimited word and returns its normalised form.
// ok is false when no word was started before the input ended.
func (s *Source) word() (tok string, ok bool) {
	if s.done {
		return "", false
	}

	var r rune
	for {
		if r = s.read(); s.done {
			return "", false
		}
		if !unicode.IsSpace(r) {
			break
		}
	}

	var buf [constants.MaxTokenLength]byte
	n := 0
	for {
		if r < utf8.RuneSelf && n < len(buf) {
			if c, keep := fold(byte(r)); keep {
				buf[n] = c
				n++
			}
		}
		if r = s.read(); s.done || unicode.IsSpace(r) {
			return string(buf[:n]), true
		}
	}
}

// read returns the next rune, marking the source done on EOF or error.
func (s *Source) read() rune {
	r, _, err := s.r.ReadRune()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
	}
	return r
}

// Err reports the first read error, if any.
func (s *Source) Err() error {
	return s.err
}

// Raw is the number of whitespace-separated words read so far.
func (s *Source) Raw() int { return s.raw }

// Dropped is the number of words that normalised to the empty token.
func (s *Source) Dropped() int { return s.dropped }

// Close releases the underlying file, if any.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
