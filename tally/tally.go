// tally.go — per-consumer word frequency table and its file sink
//
// A consumer owns exactly one Table for its whole run; nothing here is
// shared across processes or goroutines. The sink format is one
// "token<TAB>count" line per entry, which the aggregator reads back.

package tally

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Table maps tokens to occurrence counts.
type Table struct {
	counts map[string]uint64
	total  uint64
}

// New returns an empty table.
func New() *Table {
	return &Table{counts: make(map[string]uint64)}
}

// Add records one occurrence of tok. The bytes are copied, so tok may alias
// reusable memory.
func (t *Table) Add(tok []byte) {
	t.counts[string(tok)]++
	t.total++
}

// Len is the number of distinct tokens.
func (t *Table) Len() int { return len(t.counts) }

// Total is the number of recorded occurrences.
func (t *Table) Total() uint64 { return t.total }

// Count returns the count of tok.
func (t *Table) Count(tok string) uint64 { return t.counts[tok] }

// Each calls fn for every entry in token order.
func (t *Table) Each(fn func(tok string, n uint64)) {
	keys := make([]string, 0, len(t.counts))
	for k := range t.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(k, t.counts[k])
	}
}

// WriteFile writes the table to path, replacing any previous file. The
// content lands in a temp file first so a reader never sees half a table.
func (t *Table) WriteFile(path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tally-*")
	if err != nil {
		return fmt.Errorf("failed to create output for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	var buf []byte
	t.Each(func(tok string, n uint64) {
		buf = append(buf[:0], tok...)
		buf = append(buf, '\t')
		buf = strconv.AppendUint(buf, n, 10)
		buf = append(buf, '\n')
		w.Write(buf)
	})
	if err = w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}
