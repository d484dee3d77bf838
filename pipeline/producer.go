// producer.go — Producer role: stream one source file into the shared ring
// ============================================================================
// PRODUCER LIFECYCLE
// ============================================================================
//
//   1. create the triple and the segment, win or lose the header CAS,
//      wait ready
//   2. join the active producer count
//   3. push every normalised token, then one sentinel
//   4. leave the active count; the producer that brings it to zero floods
//      extra sentinels so every blocked consumer wakes to re-check
//
// Cancellation is the process stop flag. A cancelled producer aborts its
// in-flight push cleanly and, unless configured otherwise, sends no sentinel.

package pipeline

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wordpipe/config"
	"wordpipe/constants"
	"wordpipe/control"
	"wordpipe/debug"
	"wordpipe/metrics"
	"wordpipe/ring"
	"wordpipe/sem"
	"wordpipe/token"
)

// ProducerResult summarises one producer run.
type ProducerResult struct {
	Produced      int   // tokens pushed, sentinels excluded
	Dropped       int   // input words that normalised to nothing
	SentinelsSent int   // own sentinel plus any flood
	Remaining     int32 // active producer count right after leaving
	Cancelled     bool
	LastProducer  bool // this run brought the active count to zero
}

// Producer pushes the tokens of one source into the shared ring.
type Producer struct {
	Cfg      *config.Config
	Stop     *uint32
	Instance string
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

// NewProducer wires a producer to the process stop flag and logger.
func NewProducer(cfg *config.Config) *Producer {
	id := uuid.NewString()
	return &Producer{
		Cfg:      cfg,
		Stop:     control.Flags(),
		Instance: id,
		Log:      debug.L().With(zap.String("role", "producer"), zap.String("instance", id)),
		Metrics:  metrics.New("producer", id),
	}
}

// Run streams the file at path. The returned error is an environment failure
// (attach, source open, layout) or a mid-stream read error; cancellation is
// reported through the result, not as an error.
func (p *Producer) Run(path string) (ProducerResult, error) {
	var res ProducerResult
	cfg := p.Cfg

	// The triple must exist before the segment becomes visible to consumers.
	tri, err := CreateTriple(cfg, p.Stop)
	if err != nil {
		if errors.Is(err, sem.ErrStopped) {
			res.Cancelled = true
			return res, nil
		}
		return res, fmt.Errorf("open semaphores: %w", err)
	}
	defer tri.Close()
	tri.Metrics = p.Metrics

	seg, err := ring.AttachOrCreate(cfg)
	if err != nil {
		return res, fmt.Errorf("attach segment: %w", err)
	}
	defer seg.Close()

	won, err := seg.InitializeOnce()
	if err != nil {
		return res, err
	}
	if won {
		p.Log.Info("initialised shared segment",
			zap.String("segment", seg.Path()), zap.Int("capacity", seg.Capacity()))
	}
	if err := seg.WaitReady(p.Stop); err != nil {
		if errors.Is(err, sem.ErrStopped) {
			res.Cancelled = true
			return res, nil
		}
		return res, err
	}

	p.Metrics.ActiveProducers.Set(float64(seg.AddActiveProducers(1)))
	seg.MarkAttached()

	src, err := token.Open(path)
	if err != nil {
		res.Remaining = seg.AddActiveProducers(-1)
		p.Metrics.ActiveProducers.Set(float64(res.Remaining))
		return res, err
	}
	defer src.Close()

	// ───── stream ─────
	var fatal error
	for tok, ok := src.Next(); ok; tok, ok = src.Next() {
		if control.Stopped(p.Stop) {
			res.Cancelled = true
			break
		}
		if err := tri.Push(seg, tok, p.Stop); err != nil {
			if errors.Is(err, sem.ErrStopped) {
				p.Metrics.PushesAborted.Inc()
				res.Cancelled = true
			} else {
				fatal = err
			}
			break
		}
		res.Produced++
		p.Metrics.TokensProduced.Inc()
		p.jitter()
	}
	res.Dropped = src.Dropped()
	p.Metrics.TokensDropped.Add(float64(res.Dropped))

	// ───── own sentinel ─────
	switch {
	case fatal != nil:
	case !res.Cancelled:
		if err := tri.Push(seg, constants.Sentinel, p.Stop); err != nil {
			if errors.Is(err, sem.ErrStopped) {
				res.Cancelled = true
			} else {
				fatal = err
			}
		} else {
			res.SentinelsSent++
		}
	case cfg.SentinelOnCancel:
		// Already cancelled: push unconditionally so consumers still count us.
		if err := tri.Push(seg, constants.Sentinel, nil); err != nil {
			fatal = err
		} else {
			res.SentinelsSent++
		}
	}

	// ───── leave ─────
	res.Remaining = seg.AddActiveProducers(-1)
	res.LastProducer = res.Remaining == 0
	p.Metrics.ActiveProducers.Set(float64(res.Remaining))
	p.Log.Debug("left active set",
		zap.Int32("remaining", res.Remaining), zap.Int("produced", res.Produced))

	switch {
	case !res.LastProducer || fatal != nil:
	case !res.Cancelled:
		n, err := p.flood(tri, seg)
		res.SentinelsSent += n
		if errors.Is(err, sem.ErrStopped) {
			res.Cancelled = true
		} else if err != nil {
			fatal = err
		}
	case cfg.SentinelOnCancel:
		// Consumers parked on full need one item each, and parked consumers
		// imply free slots, so a non-blocking fill is enough to wake them.
		n, err := p.floodFree(tri, seg)
		res.SentinelsSent += n
		if err != nil {
			fatal = err
		}
	}
	p.Metrics.SentinelsSent.Add(float64(res.SentinelsSent))
	p.Metrics.Occupancy.Set(float64(tri.Occupancy()))

	if fatal != nil {
		return res, fatal
	}
	if err := src.Err(); err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}
	return res, nil
}

// flood pushes the configured number of extra sentinels, paced so consumers
// blocked on full each get a chance to wake and re-check termination.
func (p *Producer) flood(tri *Triple, seg *ring.Segment) (int, error) {
	limit := rate.Inf
	if p.Cfg.FloodPacing > 0 {
		limit = rate.Every(p.Cfg.FloodPacing.Std())
	}
	limiter := rate.NewLimiter(limit, 1)

	n := p.Cfg.EffectiveFloodSize()
	for i := 0; i < n; i++ {
		time.Sleep(limiter.Reserve().Delay())
		if err := tri.Push(seg, constants.Sentinel, p.Stop); err != nil {
			return i, err
		}
	}
	p.Log.Info("last producer flooded sentinels", zap.Int("count", n))
	return n, nil
}

// floodFree pushes sentinels into whatever slots are free, up to the flood
// size, without ever blocking on empty.
func (p *Producer) floodFree(tri *Triple, seg *ring.Segment) (int, error) {
	n := 0
	for n < p.Cfg.EffectiveFloodSize() {
		ok, err := tri.TryPush(seg, constants.Sentinel)
		if err != nil || !ok {
			return n, err
		}
		n++
	}
	return n, nil
}

func (p *Producer) jitter() {
	if d := p.Cfg.ProducerJitter.Std(); d > 0 {
		time.Sleep(rand.N(d))
	}
}
