// Package sim replays a scenario of lossy flows against window trackers.
//
// Time advances in ticks. On every tick a flow first takes the acks that
// arrive, then expires overdue entries, then sends: retransmissions of
// expired units first, fresh units with whatever rate is left.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"fpwnd/internal/config"
	"fpwnd/internal/logging"
	"fpwnd/internal/tracker"

	"github.com/sirupsen/logrus"
)

// epoch anchors simulated time so runs are reproducible.
var epoch = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)

type Sample struct {
	Tick     int    `json:"tick"`
	Pending  int    `json:"pending"`
	Sent     uint64 `json:"sent"`
	Acked    uint64 `json:"acked"`
	TimedOut uint64 `json:"timed_out"`
	Forced   uint64 `json:"forced"`
}

type FlowResult struct {
	Name        string        `json:"name"`
	Index       int           `json:"index"`
	Stats       tracker.Stats `json:"stats"`
	Retransmits uint64        `json:"retransmits"`
	Lost        uint64        `json:"lost"`
	MaxPending  int           `json:"max_pending"`
	Backlog     int           `json:"backlog"`
	Samples     []Sample      `json:"samples"`
}

type Result struct {
	Scenario string        `json:"scenario"`
	Ticks    int           `json:"ticks"`
	Tick     time.Duration `json:"tick"`
	Flows    []*FlowResult `json:"flows"`
}

// ackEvent acknowledges [lo, hi] when the simulation reaches tick at.
type ackEvent struct {
	at     int
	lo, hi uint64
}

type flowState struct {
	cfg     config.FlowConfig
	flow    *tracker.Flow
	rng     *rand.Rand
	start   int
	stop    int
	acks    []ackEvent // arrival ticks never decrease
	backlog int
	res     *FlowResult
}

// Run simulates cfg and returns per-flow results ordered by flow index.
// On cancellation the partial result is returned together with ctx.Err().
func Run(ctx context.Context, cfg *config.ScenarioConfig, observer tracker.Observer) (*Result, error) {
	logger := logging.GetLogger()
	if cfg == nil {
		return nil, fmt.Errorf("scenario config is nil")
	}

	info := cfg.Scenario
	res := &Result{Scenario: info.Name, Tick: info.Tick}

	var flows []*flowState
	for _, fc := range cfg.GetFlowsSorted() {
		timeout := time.Duration(fc.TimeoutTicks) * info.Tick
		fs := &flowState{
			cfg:   fc,
			flow:  tracker.NewFlow(fc.KeyName, tracker.Options{Timeout: timeout, Observer: observer}, fc.Start),
			rng:   rand.New(rand.NewPCG(info.Seed, uint64(fc.Index))),
			start: fc.GetStartTick(),
			stop:  fc.GetStopTick(info.Ticks),
			res:   &FlowResult{Name: fc.KeyName, Index: fc.Index},
		}
		flows = append(flows, fs)
		res.Flows = append(res.Flows, fs.res)
	}

	logger.WithFields(logrus.Fields{
		"scenario": info.Name,
		"flows":    len(flows),
		"ticks":    info.Ticks,
		"tick":     info.Tick,
	}).Info("Starting simulation")

	for tick := 0; tick < info.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			finish(flows)
			logger.WithField("tick", tick).Warn("Simulation cancelled")
			return res, err
		}
		now := epoch.Add(time.Duration(tick) * info.Tick)
		for _, fs := range flows {
			fs.step(tick, now)
			if info.SampleEvery > 0 && (tick+1)%info.SampleEvery == 0 {
				fs.sample(tick)
			}
		}
		res.Ticks = tick + 1
	}

	finish(flows)
	for _, fs := range flows {
		logger.WithFields(logrus.Fields{
			"flow":        fs.res.Name,
			"sent":        fs.res.Stats.Sent,
			"acked":       fs.res.Stats.Acked,
			"timed_out":   fs.res.Stats.TimedOut,
			"forced":      fs.res.Stats.Forced,
			"retransmits": fs.res.Retransmits,
			"pending":     fs.res.Stats.Pending,
		}).Info("Flow finished")
	}
	logger.WithField("scenario", info.Name).Info("Simulation complete")
	return res, nil
}

func finish(flows []*flowState) {
	for _, fs := range flows {
		fs.res.Stats = fs.flow.Stats()
		fs.res.Backlog = fs.backlog
	}
}

func (fs *flowState) step(tick int, now time.Time) {
	fs.deliverAcks(tick)

	expired := fs.flow.Expire(now)
	forced := fs.flow.Expired()
	fs.backlog += len(expired) + len(forced)

	budget := fs.cfg.Rate
	if tick < fs.start {
		return
	}
	retransmit := min(fs.backlog, budget)
	fs.backlog -= retransmit
	fs.res.Retransmits += uint64(retransmit)
	n := retransmit
	if tick < fs.stop {
		n = budget
	}
	if n > 0 {
		fs.send(tick, now, n)
	}

	// a full window may have pushed out entries while sending
	fs.backlog += len(fs.flow.Expired())
	fs.res.MaxPending = max(fs.res.MaxPending, fs.flow.Pending())
}

func (fs *flowState) deliverAcks(tick int) {
	i := 0
	for ; i < len(fs.acks) && fs.acks[i].at <= tick; i++ {
		ev := fs.acks[i]
		if fs.cfg.SelectiveAcks {
			fs.flow.AckRange(ev.lo, ev.hi)
			continue
		}
		for s := ev.lo; ; s++ {
			fs.flow.Ack(s)
			if s == ev.hi {
				break
			}
		}
	}
	fs.acks = fs.acks[i:]
}

// send issues n sequence numbers and schedules acks for the ones that
// survive the link. With selective acks, runs of consecutive survivors are
// acknowledged as a single range.
func (fs *flowState) send(tick int, now time.Time, n int) {
	var first uint64
	if fs.cfg.Batch {
		first, n = fs.flow.SendBatch(n, now)
	} else {
		first = fs.flow.Send(now)
		for i := 1; i < n; i++ {
			fs.flow.Send(now)
		}
	}

	at := tick + fs.cfg.RTTTicks
	runStart, inRun := uint64(0), false
	for i := 0; i < n; i++ {
		seqno := first + uint64(i)
		if fs.rng.Float64() < fs.cfg.Loss {
			fs.res.Lost++
			if inRun {
				fs.acks = append(fs.acks, ackEvent{at: at, lo: runStart, hi: seqno - 1})
				inRun = false
			}
			continue
		}
		if !fs.cfg.SelectiveAcks {
			fs.acks = append(fs.acks, ackEvent{at: at, lo: seqno, hi: seqno})
			continue
		}
		if !inRun {
			runStart, inRun = seqno, true
		}
	}
	if inRun {
		fs.acks = append(fs.acks, ackEvent{at: at, lo: runStart, hi: first + uint64(n) - 1})
	}
}

func (fs *flowState) sample(tick int) {
	st := fs.flow.Stats()
	fs.res.Samples = append(fs.res.Samples, Sample{
		Tick:     tick,
		Pending:  st.Pending,
		Sent:     st.Sent,
		Acked:    st.Acked,
		TimedOut: st.TimedOut,
		Forced:   st.Forced,
	})
}
