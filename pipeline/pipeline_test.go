package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"wordpipe/config"
	"wordpipe/constants"
	"wordpipe/ring"
	"wordpipe/sem"
)

// ============================================================================
// HELPERS
// ============================================================================

func testConfig(t *testing.T, capacity int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Capacity = capacity
	cfg.FloodPacing = config.Duration(time.Millisecond)
	return cfg
}

func writeInput(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestProducer(cfg *config.Config) *Producer {
	p := NewProducer(cfg)
	p.Stop = new(uint32)
	p.Log = zap.NewNop()
	return p
}

func newTestConsumer(t *testing.T, cfg *config.Config, id string, expected int) *Consumer {
	t.Helper()
	c, err := NewConsumer(cfg, id, expected)
	if err != nil {
		t.Fatal(err)
	}
	c.Stop = new(uint32)
	c.Log = zap.NewNop()
	return c
}

type producerOutcome struct {
	res ProducerResult
	err error
}

func startProducer(p *Producer, path string) <-chan producerOutcome {
	ch := make(chan producerOutcome, 1)
	go func() {
		res, err := p.Run(path)
		ch <- producerOutcome{res, err}
	}()
	return ch
}

type consumerOutcome struct {
	res ConsumerResult
	err error
}

func startConsumer(c *Consumer) <-chan consumerOutcome {
	ch := make(chan consumerOutcome, 1)
	go func() {
		res, err := c.Run()
		ch <- consumerOutcome{res, err}
	}()
	return ch
}

// observe attaches a read-only view of the run once a producer has
// initialised it.
func observe(t *testing.T, cfg *config.Config) (*ring.Segment, *Triple) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		seg, err := ring.Attach(cfg, nil)
		if err == nil {
			if err := seg.WaitReady(nil); err != nil {
				t.Fatal(err)
			}
			tri, err := OpenTriple(cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() {
				tri.Close()
				seg.Close()
			})
			return seg, tri
		}
		if !errors.Is(err, ring.ErrNotExist) || time.Now().After(deadline) {
			t.Fatalf("attach: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitProducer(t *testing.T, ch <-chan producerOutcome) ProducerResult {
	t.Helper()
	select {
	case out := <-ch:
		if out.err != nil {
			t.Fatalf("producer: %v", out.err)
		}
		return out.res
	case <-time.After(10 * time.Second):
		t.Fatal("producer did not finish")
	}
	return ProducerResult{}
}

func waitConsumer(t *testing.T, ch <-chan consumerOutcome) ConsumerResult {
	t.Helper()
	select {
	case out := <-ch:
		if out.err != nil {
			t.Fatalf("consumer: %v", out.err)
		}
		return out.res
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not terminate")
	}
	return ConsumerResult{}
}

func readOutput(t *testing.T, path string) map[string]int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	counts := map[string]int{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		tok, n, ok := strings.Cut(sc.Text(), "\t")
		if !ok {
			t.Fatalf("malformed line %q", sc.Text())
		}
		v, err := strconv.Atoi(n)
		if err != nil {
			t.Fatal(err)
		}
		counts[tok] += v
	}
	return counts
}

// ============================================================================
// END-TO-END SCENARIOS
// ============================================================================

func TestSingleProducerSingleConsumer(t *testing.T) {
	cfg := testConfig(t, 10)
	input := writeInput(t, "The cat sat on the mat.")

	pch := startProducer(newTestProducer(cfg), input)
	seg, tri := observe(t, cfg)
	cres := waitConsumer(t, startConsumer(newTestConsumer(t, cfg, "1", 1)))
	pres := waitProducer(t, pch)

	want := map[string]int{"the": 2, "cat": 1, "sat": 1, "on": 1, "mat": 1}
	got := readOutput(t, cfg.OutputPath("1"))
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("table %v, want %v", got, want)
	}
	if cres.Processed != 6 || cres.Unique != 5 || cres.Cancelled {
		t.Fatalf("consumer result %+v", cres)
	}
	if pres.Produced != 6 || !pres.LastProducer || pres.Remaining != 0 {
		t.Fatalf("producer result %+v", pres)
	}
	if pres.SentinelsSent != 1+cfg.EffectiveFloodSize() {
		t.Fatalf("sentinels %d", pres.SentinelsSent)
	}
	if seg.ActiveProducers() != 0 || seg.EOFSignals() < 1 {
		t.Fatalf("active=%d eof=%d", seg.ActiveProducers(), seg.EOFSignals())
	}
	if occ := tri.Occupancy(); occ < 0 || occ > int32(cfg.Capacity) {
		t.Fatalf("occupancy %d out of range", occ)
	}
}

func TestTwoProducersTwoConsumers(t *testing.T) {
	cfg := testConfig(t, 2)
	a := writeInput(t, "alpha beta gamma delta epsilon")
	b := writeInput(t, "zeta eta theta iota kappa")

	// Both producers must have joined before either can finish, otherwise
	// the first one's flood would end the run early.
	p1 := startProducer(newTestProducer(cfg), a)
	seg, _ := observe(t, cfg)
	p2 := startProducer(newTestProducer(cfg), b)
	eventually(t, "both producers", func() bool { return seg.ProducersAttached() == 2 })

	c1 := startConsumer(newTestConsumer(t, cfg, "c1", 2))
	c2 := startConsumer(newTestConsumer(t, cfg, "c2", 2))

	r1, r2 := waitConsumer(t, c1), waitConsumer(t, c2)
	waitProducer(t, p1)
	waitProducer(t, p2)

	union := map[string]int{}
	for _, id := range []string{"c1", "c2"} {
		for tok, n := range readOutput(t, cfg.OutputPath(id)) {
			union[tok] += n
		}
	}
	if len(union) != 10 {
		t.Fatalf("union has %d tokens: %v", len(union), union)
	}
	for tok, n := range union {
		if n != 1 {
			t.Fatalf("%q seen %d times", tok, n)
		}
	}
	if r1.Processed+r2.Processed != 10 {
		t.Fatalf("processed %d + %d", r1.Processed, r2.Processed)
	}
}

// TestConsumerUnblocksFullBuffer starts the consumer only after the producer
// is parked on a full buffer.
func TestConsumerUnblocksFullBuffer(t *testing.T) {
	cfg := testConfig(t, 2)
	pch := startProducer(newTestProducer(cfg), writeInput(t, "one two three"))

	seg, tri := observe(t, cfg)
	eventually(t, "full buffer", func() bool { return tri.Occupancy() == 2 })
	select {
	case out := <-pch:
		t.Fatalf("producer finished on a full buffer: %+v", out)
	case <-time.After(30 * time.Millisecond):
	}
	if seg.ActiveProducers() != 1 {
		t.Fatalf("active %d while blocked", seg.ActiveProducers())
	}

	cres := waitConsumer(t, startConsumer(newTestConsumer(t, cfg, "late", 1)))
	pres := waitProducer(t, pch)

	if cres.Processed != 3 || pres.Produced != 3 {
		t.Fatalf("consumer %+v producer %+v", cres, pres)
	}
}

func TestMissingSourceLeavesCountUntouched(t *testing.T) {
	cfg := testConfig(t, 4)
	p := newTestProducer(cfg)

	res, err := p.Run(filepath.Join(t.TempDir(), "absent.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want os.ErrNotExist", err)
	}
	if res.Produced != 0 || res.SentinelsSent != 0 || res.Remaining != 0 {
		t.Fatalf("result %+v", res)
	}

	seg, tri := observe(t, cfg)
	if seg.ActiveProducers() != 0 || tri.Occupancy() != 0 {
		t.Fatalf("active=%d occupancy=%d", seg.ActiveProducers(), tri.Occupancy())
	}
}

// ============================================================================
// PROPERTIES
// ============================================================================

// TestNoLossNoDuplication runs several producers and consumers over a tiny
// buffer and checks every produced token arrives exactly once.
func TestNoLossNoDuplication(t *testing.T) {
	const (
		producers = 4
		consumers = 3
		perSource = 200
	)
	cfg := testConfig(t, 3)

	var pchs []<-chan producerOutcome
	for p := 0; p < producers; p++ {
		var sb strings.Builder
		for i := 0; i < perSource; i++ {
			fmt.Fprintf(&sb, "p%dw%d ", p, i)
		}
		pchs = append(pchs, startProducer(newTestProducer(cfg), writeInput(t, sb.String())))
	}
	seg, _ := observe(t, cfg)
	eventually(t, "all producers", func() bool { return seg.ProducersAttached() == producers })

	var cchs []<-chan consumerOutcome
	for c := 0; c < consumers; c++ {
		cchs = append(cchs, startConsumer(newTestConsumer(t, cfg, strconv.Itoa(c), producers)))
	}

	total := 0
	for _, ch := range cchs {
		total += waitConsumer(t, ch).Processed
	}
	for _, ch := range pchs {
		waitProducer(t, ch)
	}

	seen := map[string]int{}
	for c := 0; c < consumers; c++ {
		for tok, n := range readOutput(t, cfg.OutputPath(strconv.Itoa(c))) {
			seen[tok] += n
		}
	}
	if total != producers*perSource || len(seen) != producers*perSource {
		t.Fatalf("processed %d, distinct %d, want %d", total, len(seen), producers*perSource)
	}
	for tok, n := range seen {
		if n != 1 {
			t.Fatalf("%q delivered %d times", tok, n)
		}
	}
}

// TestOccupancyBounded samples the full semaphore while a run is in flight.
func TestOccupancyBounded(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.ConsumerJitter = config.Duration(200 * time.Microsecond)
	pch := startProducer(newTestProducer(cfg), writeInput(t, strings.Repeat("w ", 100)))
	seg, tri := observe(t, cfg)
	cch := startConsumer(newTestConsumer(t, cfg, "1", 1))

	var done atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !done.Load() {
			occ, empty := tri.Occupancy(), tri.Empty.Value()
			if occ < 0 || occ > 2 || empty < 0 || empty > 2 {
				t.Errorf("full=%d empty=%d", occ, empty)
				return
			}
			if w, r := seg.WriteIndex(), seg.ReadIndex(); w >= 2 || r >= 2 {
				t.Errorf("write=%d read=%d", w, r)
				return
			}
		}
	}()

	waitConsumer(t, cch)
	waitProducer(t, pch)
	done.Store(true)
	wg.Wait()
}

// ============================================================================
// CANCELLATION
// ============================================================================

func TestCancelledProducerReleasesPermits(t *testing.T) {
	cfg := testConfig(t, 2)
	p := newTestProducer(cfg)
	pch := startProducer(p, writeInput(t, "a b c d e"))

	seg, tri := observe(t, cfg)
	eventually(t, "full buffer", func() bool { return tri.Occupancy() == 2 })
	atomic.StoreUint32(p.Stop, 1)

	out := <-pch
	if out.err != nil {
		t.Fatal(out.err)
	}
	res := out.res
	if !res.Cancelled || res.Produced != 2 || res.SentinelsSent != 0 || res.Remaining != 0 {
		t.Fatalf("result %+v", res)
	}
	if seg.ActiveProducers() != 0 {
		t.Fatalf("active %d", seg.ActiveProducers())
	}
	if tri.Empty.Value() != 0 || tri.Full.Value() != 2 || tri.Mutex.Value() != 1 {
		t.Fatalf("empty=%d full=%d mutex=%d", tri.Empty.Value(), tri.Full.Value(), tri.Mutex.Value())
	}
}

func TestSentinelOnCancelLetsConsumersFinish(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.SentinelOnCancel = true
	p := newTestProducer(cfg)
	pch := startProducer(p, writeInput(t, "a b c d e"))

	_, tri := observe(t, cfg)
	eventually(t, "full buffer", func() bool { return tri.Occupancy() == 2 })
	atomic.StoreUint32(p.Stop, 1)

	cres := waitConsumer(t, startConsumer(newTestConsumer(t, cfg, "1", 1)))
	pres := waitProducer(t, pch)

	if !pres.Cancelled || pres.Produced != 2 || pres.SentinelsSent < 1 {
		t.Fatalf("producer %+v", pres)
	}
	if cres.Processed != 2 || cres.EOFsSeen < 1 {
		t.Fatalf("consumer %+v", cres)
	}
}

func TestCancelledConsumerFlushes(t *testing.T) {
	cfg := testConfig(t, 2)
	p := newTestProducer(cfg)
	pch := startProducer(p, writeInput(t, "x y z w v"))
	_, tri := observe(t, cfg)
	eventually(t, "full buffer", func() bool { return tri.Occupancy() == 2 })

	// One producer sends at most 1+C sentinels, so an expected count of 10
	// keeps the consumer parked until it is cancelled.
	c := newTestConsumer(t, cfg, "stopped", 10)
	cch := startConsumer(c)
	pres := waitProducer(t, pch)

	eventually(t, "drained", func() bool { return tri.Occupancy() == 0 })
	atomic.StoreUint32(c.Stop, 1)
	cres := waitConsumer(t, cch)

	if !cres.Cancelled || cres.Processed != pres.Produced {
		t.Fatalf("consumer %+v producer %+v", cres, pres)
	}
	if got := readOutput(t, cfg.OutputPath("stopped")); len(got) != 5 {
		t.Fatalf("flushed %v", got)
	}
}

func TestConsumerWithoutSegment(t *testing.T) {
	cfg := testConfig(t, 2)
	c := newTestConsumer(t, cfg, "early", 1)

	_, err := c.Run()
	if !errors.Is(err, ring.ErrNotExist) {
		t.Fatalf("got %v, want ring.ErrNotExist", err)
	}
	if _, err := os.Stat(cfg.OutputPath("early")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("output written after failed attach")
	}
}

func TestConsumerCancelledBeforeReady(t *testing.T) {
	cfg := testConfig(t, 2)
	seg, err := ring.AttachOrCreate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer seg.Close()

	c := newTestConsumer(t, cfg, "c", 1)
	atomic.StoreUint32(c.Stop, 1)
	if _, err := c.Run(); !errors.Is(err, sem.ErrStopped) {
		t.Fatalf("got %v, want sem.ErrStopped", err)
	}
}

func TestNewConsumerValidates(t *testing.T) {
	cfg := testConfig(t, 2)
	if _, err := NewConsumer(cfg, "", 1); err == nil {
		t.Fatal("empty id accepted")
	}
	if _, err := NewConsumer(cfg, "x", 0); err == nil {
		t.Fatal("zero expected count accepted")
	}
	for _, n := range []int{math.MaxInt32 + 1, 1<<32 + 1} {
		if c, err := NewConsumer(cfg, "x", n); err == nil {
			t.Fatalf("expected count %d accepted as %d", n, c.Expected)
		}
	}
	c, err := NewConsumer(cfg, "x", math.MaxInt32)
	if err != nil || c.Expected != math.MaxInt32 {
		t.Fatalf("max expected count: %v", err)
	}
}

// TestProducerCancelledOnStuckSemaphore covers a producer whose semaphore was
// left half-initialised by a crashed peer: its own stop flag must end the
// wait.
func TestProducerCancelledOnStuckSemaphore(t *testing.T) {
	cfg := testConfig(t, 2)
	raw := make([]byte, constants.SemHeaderSize)
	raw[constants.SemOffState] = byte(constants.StateInitializing)
	if err := os.WriteFile(filepath.Join(cfg.Dir, cfg.SemEmpty), raw, 0o666); err != nil {
		t.Fatal(err)
	}

	p := newTestProducer(cfg)
	ch := startProducer(p, writeInput(t, "a b c"))
	time.Sleep(20 * time.Millisecond)
	atomic.StoreUint32(p.Stop, 1)

	res := waitProducer(t, ch)
	if !res.Cancelled || res.Produced != 0 || res.SentinelsSent != 0 {
		t.Fatalf("result %+v", res)
	}
	if _, err := os.Stat(cfg.SegmentPath()); !os.IsNotExist(err) {
		t.Fatalf("segment created before the semaphores were ready: %v", err)
	}
}

// ============================================================================
// TRIPLE
// ============================================================================

func TestTripleInitialValues(t *testing.T) {
	cfg := testConfig(t, 7)
	tri, err := CreateTriple(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tri.Close()

	if tri.Empty.Value() != 7 || tri.Full.Value() != 0 || tri.Mutex.Value() != 1 {
		t.Fatalf("empty=%d full=%d mutex=%d", tri.Empty.Value(), tri.Full.Value(), tri.Mutex.Value())
	}
}

func TestTryPushOnFullBuffer(t *testing.T) {
	cfg := testConfig(t, 1)
	seg, err := ring.AttachOrCreate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer seg.Close()
	seg.InitializeOnce()
	tri, err := CreateTriple(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tri.Close()

	if ok, err := tri.TryPush(seg, "a"); !ok || err != nil {
		t.Fatalf("first TryPush %v %v", ok, err)
	}
	if ok, _ := tri.TryPush(seg, "b"); ok {
		t.Fatal("TryPush succeeded on a full buffer")
	}
	tok, sentinel, err := tri.Pop(seg, nil, nil)
	if err != nil || sentinel || string(tok) != "a" {
		t.Fatalf("pop %q %v %v", tok, sentinel, err)
	}
}

func TestResetRemovesEverything(t *testing.T) {
	cfg := testConfig(t, 2)
	seg, _ := ring.AttachOrCreate(cfg)
	seg.Close()
	tri, _ := CreateTriple(cfg, nil)
	tri.Close()

	if err := Reset(cfg); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(cfg.Dir)
	if len(entries) != 0 {
		t.Fatalf("left behind: %v", entries)
	}
}
