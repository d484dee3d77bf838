// Package aggregate merges the per-consumer frequency files of a run into one
// ranked table. It runs offline, after every consumer has exited, and never
// touches the shared segment.
package aggregate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/llxisdsh/pb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoData is returned when the input files hold no valid record.
var ErrNoData = errors.New("aggregate: no word count data found")

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// DISCOVERY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Discover lists the regular files in dir named prefix + id + suffix with a
// non-empty id, in name order.
func Discover(dir, prefix, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() ||
			len(name) <= len(prefix)+len(suffix) ||
			!strings.HasPrefix(name, prefix) ||
			!strings.HasSuffix(name, suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PARSING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Record is one parsed sink line: either a token count or a skip with its
// reason.
type Record struct {
	Token   string
	Count   uint64
	Skipped bool
	Reason  string
}

func skipped(reason string) Record {
	return Record{Skipped: true, Reason: reason}
}

// ParseLine decodes "token<TAB>count". Malformed lines are reported as
// skipped, never as errors.
func ParseLine(line string) Record {
	tok, num, ok := strings.Cut(line, "\t")
	switch {
	case !ok:
		return skipped("missing tab")
	case tok == "":
		return skipped("empty token")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	switch {
	case err != nil:
		return skipped("bad count")
	case n < 0:
		return skipped("negative count")
	}
	return Record{Token: tok, Count: uint64(n)}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MERGE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Entry is one token of the merged table.
type Entry struct {
	Token string `json:"token"`
	Count uint64 `json:"count"`
	Rank  int    `json:"rank"`
}

// Summary is the merged result of a run.
type Summary struct {
	Ranked     []Entry
	Total      uint64 // sum of all valid counts
	Unique     int
	Skipped    int // malformed lines
	Files      []string
	Unreadable []string
}

// Options tunes Run.
type Options struct {
	// Workers bounds concurrent file reads; zero means GOMAXPROCS.
	Workers int
	Log     *zap.Logger
}

// Run merges files concurrently. A file that cannot be read to the end is
// logged and listed in Summary.Unreadable; none of its lines are counted and
// it does not fail the run.
func Run(ctx context.Context, files []string, opts Options) (*Summary, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		counts     pb.MapOf[string, uint64]
		total      atomic.Uint64
		bad        atomic.Int64
		unreadable = make([]bool, len(files))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Info("reading", zap.String("file", filepath.Base(path)))
			part, err := readFile(path, log)
			if err != nil {
				log.Error("could not read file", zap.String("file", path), zap.Error(err))
				unreadable[i] = true
				return nil
			}
			for tok, n := range part.counts {
				add(&counts, tok, n)
			}
			total.Add(part.sum)
			bad.Add(int64(part.skip))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Summary{
		Total:   total.Load(),
		Skipped: int(bad.Load()),
		Files:   files,
	}
	for i, u := range unreadable {
		if u {
			s.Unreadable = append(s.Unreadable, files[i])
		}
	}
	counts.Range(func(tok string, n uint64) bool {
		s.Ranked = append(s.Ranked, Entry{Token: tok, Count: n})
		return true
	})
	Rank(s.Ranked)
	s.Unique = len(s.Ranked)
	return s, nil
}

// filePart is one file's contribution, applied to the shared table only once
// the whole file has been read.
type filePart struct {
	counts map[string]uint64
	sum    uint64
	skip   int
}

func readFile(path string, log *zap.Logger) (*filePart, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	part := &filePart{counts: make(map[string]uint64)}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		rec := ParseLine(line)
		if rec.Skipped {
			part.skip++
			log.Warn("skipping line",
				zap.String("file", filepath.Base(path)), zap.String("reason", rec.Reason), zap.String("line", line))
			continue
		}
		part.counts[rec.Token] += rec.Count
		part.sum += rec.Count
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return part, nil
}

func add(counts *pb.MapOf[string, uint64], tok string, n uint64) {
	counts.ProcessEntry(tok,
		func(e *pb.EntryOf[string, uint64]) (*pb.EntryOf[string, uint64], uint64, bool) {
			if e != nil {
				v := e.Value + n
				return &pb.EntryOf[string, uint64]{Value: v}, v, true
			}
			return &pb.EntryOf[string, uint64]{Value: n}, n, false
		},
	)
}

// Rank orders entries by count descending, token ascending on ties, and
// numbers them from 1. The order is a pure function of the multiset of
// entries, so repeated aggregation is byte-identical.
func Rank(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Token < entries[j].Token
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
