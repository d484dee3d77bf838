// consumer.go — Consumer role: drain the shared ring into a local table
// ============================================================================
// CONSUMER LOOP
// ============================================================================
//
// Before every wait the consumer evaluates the termination predicate
//
//     eof_signals_received >= expected  &&  active_producer_count == 0
//
// and stops as soon as it holds. Sentinels are counted inside the pop's
// critical section and never recorded. Whatever ends the loop, the table is
// flushed to the consumer's output file.

package pipeline

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wordpipe/config"
	"wordpipe/constants"
	"wordpipe/control"
	"wordpipe/debug"
	"wordpipe/metrics"
	"wordpipe/ring"
	"wordpipe/sem"
	"wordpipe/tally"
)

// ConsumerResult summarises one consumer run.
type ConsumerResult struct {
	Processed int // tokens recorded
	EOFsSeen  int // sentinels this consumer popped
	Unique    int // distinct tokens recorded
	Cancelled bool
	Output    string // sink file, empty if nothing was written
}

// Consumer drains the shared ring until every expected producer is done.
type Consumer struct {
	Cfg      *config.Config
	ID       string
	Expected int32
	Stop     *uint32
	Instance string
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Table    *tally.Table
}

// NewConsumer validates the identity and expected producer count and wires
// the consumer to the process stop flag.
func NewConsumer(cfg *config.Config, id string, expected int) (*Consumer, error) {
	if id == "" {
		return nil, errors.New("consumer id must not be empty")
	}
	if expected <= 0 || expected > math.MaxInt32 {
		return nil, fmt.Errorf("expected producer count must be in 1..%d, got %d", math.MaxInt32, expected)
	}
	instance := uuid.NewString()
	return &Consumer{
		Cfg:      cfg,
		ID:       id,
		Expected: int32(expected),
		Stop:     control.Flags(),
		Instance: instance,
		Log: debug.L().With(zap.String("role", "consumer"),
			zap.String("id", id), zap.String("instance", instance)),
		Metrics: metrics.New("consumer", id),
		Table:   tally.New(),
	}, nil
}

// Run attaches, drains and flushes. Attach failures are returned before any
// output is written. Cancellation before the segment is ready returns
// sem.ErrStopped; cancellation afterwards flushes and reports Cancelled.
func (c *Consumer) Run() (ConsumerResult, error) {
	var res ConsumerResult

	seg, err := ring.Attach(c.Cfg, c.Stop)
	if err != nil {
		return res, fmt.Errorf("attach segment: %w", err)
	}
	defer seg.Close()

	if err := seg.WaitReady(c.Stop); err != nil {
		return res, err
	}

	tri, err := OpenTriple(c.Cfg, c.Stop)
	if err != nil {
		return res, fmt.Errorf("open semaphores: %w", err)
	}
	defer tri.Close()
	tri.Metrics = c.Metrics

	if cpu := c.Cfg.PinCPU; cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := setAffinity(cpu); err != nil {
			c.Log.Warn("cpu pinning failed", zap.Error(err))
		}
	}

	loopErr := c.drain(seg, tri, &res)

	res.Unique = c.Table.Len()
	c.Metrics.ActiveProducers.Set(float64(seg.ActiveProducers()))
	c.Metrics.Occupancy.Set(float64(tri.Occupancy()))

	out := c.Cfg.OutputPath(c.ID)
	if err := c.Table.WriteFile(out); err != nil {
		return res, errors.Join(loopErr, err)
	}
	res.Output = out
	c.Log.Info("consumer finished",
		zap.Int("processed", res.Processed), zap.Int("unique", res.Unique),
		zap.Int("eofs", res.EOFsSeen), zap.Bool("cancelled", res.Cancelled),
		zap.String("output", out))
	return res, loopErr
}

func (c *Consumer) drain(seg *ring.Segment, tri *Triple, res *ConsumerResult) error {
	buf := make([]byte, 0, constants.MaxTokenLength)
	for {
		if control.Stopped(c.Stop) {
			res.Cancelled = true
			return nil
		}
		if c.finished(seg) {
			return nil
		}

		tok, sentinel, err := tri.Pop(seg, buf, c.Stop)
		if err != nil {
			if errors.Is(err, sem.ErrStopped) {
				res.Cancelled = true
				return nil
			}
			return err
		}
		buf = tok

		if sentinel {
			res.EOFsSeen++
			c.Metrics.SentinelsReceived.Inc()
			c.Log.Debug("sentinel received",
				zap.Int32("eof_total", seg.EOFSignals()), zap.Int32("active", seg.ActiveProducers()))
			continue
		}

		c.Table.Add(tok)
		res.Processed++
		c.Metrics.TokensConsumed.Inc()
		c.jitter()
	}
}

// finished is the termination predicate.
func (c *Consumer) finished(seg *ring.Segment) bool {
	return seg.EOFSignals() >= c.Expected && seg.ActiveProducers() == 0
}

func (c *Consumer) jitter() {
	if d := c.Cfg.ConsumerJitter.Std(); d > 0 {
		time.Sleep(rand.N(d))
	}
}
