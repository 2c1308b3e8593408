// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquire runs the acquisition loop: it reads frames from the
// sensor board, routes them to calibration or localization depending on
// the mode, and publishes an immutable Snapshot after every update.
//
// The loop goroutine is the only writer of the rolling window, the
// calibration state and the history. Mode commands arrive from other
// goroutines and take the same lock as a frame update, so they never
// interleave with one. Readers only see whole snapshots through Latest or
// Subscribe.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/bokobox/internal/calibration"
	"github.com/relabs-tech/bokobox/internal/frame"
	"github.com/relabs-tech/bokobox/internal/history"
	"github.com/relabs-tech/bokobox/internal/localize"
	"github.com/relabs-tech/bokobox/internal/logging"
	"github.com/relabs-tech/bokobox/internal/metrics"
	"github.com/relabs-tech/bokobox/internal/telemetry"
	"github.com/relabs-tech/bokobox/internal/window"
)

// ErrTransport marks a fatal failure of the serial source.
var ErrTransport = errors.New("transport failure")

// TransportError wraps the error that ended the loop.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "acquire: transport failure: " + e.Err.Error() }

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Options configures a Loop. Localizer and Calibration are required.
type Options struct {
	Localizer *localize.Localizer
	// Calibration is the initial vector, usually from calibration.LoadOrDefault.
	Calibration calibration.Vector
	// Store receives the vector after each completed calibration.
	Store             calibration.Store
	WindowSize        int
	SamplesPerChannel int
	History           *history.Tracker
	// ChannelLabels name the channels in calibration prompts.
	ChannelLabels []string

	Logger  logging.Logger
	Metrics *metrics.Collector
	Clock   func() time.Time
}

// Loop owns the acquisition state.
type Loop struct {
	src     telemetry.LineSource
	parser  *frame.Parser
	loc     *localize.Localizer
	store   calibration.Store
	labels  []string
	log     logging.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu        sync.Mutex
	mode      Mode
	cal       calibration.Vector
	calState  *calibration.State
	win       *window.Window
	hist      *history.Tracker
	reading   frame.Reading
	stats     []window.ChannelStats
	estimate  *Estimate
	lastFrame time.Time
	seq       uint64

	latest atomic.Pointer[Snapshot]

	subsMu  sync.Mutex
	subs    map[int]chan *Snapshot
	nextSub int
	closed  bool
}

// New builds a loop reading from src.
func New(src telemetry.LineSource, opts Options) (*Loop, error) {
	if src == nil {
		return nil, errors.New("acquire: nil line source")
	}
	if opts.Localizer == nil {
		return nil, errors.New("acquire: localizer is required")
	}
	channels := opts.Localizer.Channels()
	if err := opts.Calibration.Validate(channels); err != nil {
		return nil, fmt.Errorf("acquire: initial calibration: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.History == nil {
		opts.History = history.NewLifetime(history.DefaultLifetime)
	}
	labels := opts.ChannelLabels
	if len(labels) != channels {
		labels = make([]string, channels)
		for i := range labels {
			labels[i] = fmt.Sprintf("ch%d", i+1)
		}
	}

	log := opts.Logger.With(logging.Component("acquire"))
	return &Loop{
		src:      src,
		parser:   frame.NewParser(log),
		loc:      opts.Localizer,
		store:    opts.Store,
		labels:   labels,
		log:      log,
		metrics:  opts.Metrics,
		now:      opts.Clock,
		mode:     Acquiring,
		cal:      opts.Calibration.Clone(),
		calState: calibration.NewState(channels, opts.SamplesPerChannel),
		win:      window.New(opts.WindowSize, channels),
		hist:     opts.History,
		subs:     make(map[int]chan *Snapshot),
	}, nil
}

// Run reads and processes frames until ctx is cancelled or the source
// fails. It closes the source before returning. Cancellation returns nil;
// a source failure returns a *TransportError.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeSubscribers()
	defer l.src.Close()

	l.log.Info(ctx, "acquire: loop started",
		logging.Int("channels", l.loc.Channels()),
		logging.Int("window", l.win.Capacity()),
		logging.String("history", l.hist.Policy().String()),
		logging.String("calibration", l.Calibration().String()))

	for {
		if ctx.Err() != nil {
			l.log.Info(ctx, "acquire: loop stopped")
			return nil
		}

		line, err := l.src.ReadLine(ctx)
		switch {
		case err == nil:
		case errors.Is(err, telemetry.ErrTimeout):
			l.idle()
			continue
		case ctx.Err() != nil:
			l.log.Info(ctx, "acquire: loop stopped")
			return nil
		default:
			l.metrics.ObserveTransportError()
			l.log.Error(ctx, "acquire: serial transport failed", logging.Err(err))
			l.abortCalibration(ctx)
			return &TransportError{Err: err}
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		l.handleLine(ctx, line)
	}
}

func (l *Loop) handleLine(ctx context.Context, line string) {
	start := time.Now()
	r, err := l.parser.Parse(ctx, line)
	if err != nil {
		l.metrics.ObserveFrame(metrics.FrameMalformed, time.Since(start))
		return
	}

	l.mu.Lock()
	var (
		outcome string
		save    calibration.Vector
	)
	if l.mode == Calibrating {
		outcome, save = l.calibrate(ctx, r)
	} else {
		outcome = l.locate(ctx, r)
	}
	l.mu.Unlock()

	l.metrics.ObserveFrame(outcome, time.Since(start))
	if save != nil {
		l.persist(ctx, save)
	}
}

// calibrate handles one reading in calibration mode. l.mu is held.
func (l *Loop) calibrate(ctx context.Context, r frame.Reading) (string, calibration.Vector) {
	p := l.calState.Progress()
	v, done, err := l.calState.Handle(r)
	if err != nil && !done {
		l.log.Warn(ctx, "acquire: calibration sample rejected", logging.Err(err))
		return metrics.FrameDimensionMismatch, nil
	}

	now := l.now()
	l.reading = r
	l.lastFrame = now

	if err != nil {
		l.log.Warn(ctx, "acquire: calibration failed, keeping previous factors",
			logging.String("factors", l.cal.String()), logging.Err(err))
		l.metrics.ObserveCalibration(metrics.CalibrationFailed)
		l.setMode(Acquiring)
		l.publish(now)
		return metrics.FrameDegenerate, nil
	}

	l.log.Info(ctx, "acquire: calibration sample",
		logging.String("channel", l.labels[p.Channel]),
		logging.Int("sample", p.Sample+1),
		logging.Int("of", p.SamplesPerChannel),
		logging.Float("value", r[p.Channel]))

	if !done {
		if next := l.calState.Progress(); next.Channel != p.Channel {
			l.log.Info(ctx, "acquire: next channel", logging.String("tap", l.labels[next.Channel]))
		}
		l.publish(now)
		return metrics.FrameCalibration, nil
	}

	l.cal = v
	l.log.Info(ctx, "acquire: calibration complete", logging.String("factors", v.String()))
	l.metrics.ObserveCalibration(metrics.CalibrationCompleted)
	l.setMode(Acquiring)
	l.publish(now)
	return metrics.FrameCalibration, v.Clone()
}

// locate handles one reading in acquisition mode. l.mu is held.
func (l *Loop) locate(ctx context.Context, r frame.Reading) string {
	if err := l.win.Push(r); err != nil {
		l.log.Warn(ctx, "acquire: reading skipped", logging.Err(err))
		return metrics.FrameDimensionMismatch
	}

	now := l.now()
	l.reading = r
	l.lastFrame = now
	if stats, err := l.win.Stats(); err == nil {
		l.stats = stats
		l.log.Debug(ctx, "acquire: window", logging.String("stats", formatStats(stats)))
	}

	outcome := metrics.FrameOK
	est, err := l.loc.Localize(r, l.cal)
	switch {
	case err == nil:
		l.hist.Insert(est.Centroid, now)
		l.estimate = newEstimate(est, now)
	case errors.Is(err, localize.ErrZeroEnergy):
		l.hist.Expire(now)
		l.estimate = nil
		outcome = metrics.FrameZeroEnergy
	case errors.Is(err, localize.ErrDegenerate):
		l.log.Warn(ctx, "acquire: no estimate", logging.Err(err))
		l.hist.Expire(now)
		l.estimate = nil
		outcome = metrics.FrameDegenerate
	default:
		l.log.Warn(ctx, "acquire: no estimate", logging.Err(err))
		l.hist.Expire(now)
		l.estimate = nil
		outcome = metrics.FrameDimensionMismatch
	}
	l.publish(now)
	return outcome
}

func (l *Loop) persist(ctx context.Context, v calibration.Vector) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(v); err != nil {
		l.log.Error(ctx, "acquire: saving calibration failed", logging.Err(err))
		return
	}
	l.log.Info(ctx, "acquire: calibration saved", logging.String("factors", v.String()))
}

// idle runs when a bounded read returned nothing.
func (l *Loop) idle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.hist.Expire(now) > 0 {
		l.publish(now)
	}
}

func (l *Loop) abortCalibration(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calState.Cancel() {
		l.log.Warn(ctx, "acquire: calibration discarded")
		l.metrics.ObserveCalibration(metrics.CalibrationCancelled)
		l.setMode(Acquiring)
		l.publish(l.now())
	}
}

// Apply performs a mode command. It returns false when the requested mode
// is already active.
func (l *Loop) Apply(ctx context.Context, cmd Command) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, ok := l.mode.Next(cmd)
	if !ok {
		return false
	}
	switch next {
	case Calibrating:
		l.calState.Begin()
		p := l.calState.Progress()
		l.log.Info(ctx, "acquire: calibration mode",
			logging.String("tap", strings.Join(l.labels, ", ")),
			logging.Int("times_each", p.SamplesPerChannel))
	case Acquiring:
		if l.calState.Cancel() {
			l.metrics.ObserveCalibration(metrics.CalibrationCancelled)
			l.log.Info(ctx, "acquire: calibration cancelled, keeping previous factors",
				logging.String("factors", l.cal.String()))
		}
		l.log.Info(ctx, "acquire: acquisition mode")
	}
	l.setMode(next)
	l.publish(l.now())
	return true
}

// EnterCalibration starts a calibration cycle.
func (l *Loop) EnterCalibration(ctx context.Context) bool { return l.Apply(ctx, CommandCalibrate) }

// EnterAcquisition returns to acquisition, abandoning any running cycle.
func (l *Loop) EnterAcquisition(ctx context.Context) bool { return l.Apply(ctx, CommandAcquire) }

// setMode is called with l.mu held. The estimate belongs to the reading
// and calibration of the mode being left, so it is dropped.
func (l *Loop) setMode(m Mode) {
	l.mode = m
	l.estimate = nil
	l.metrics.SetCalibrating(m == Calibrating)
}

// Mode reports the active mode.
func (l *Loop) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Calibration returns a copy of the active calibration vector.
func (l *Loop) Calibration() calibration.Vector {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cal.Clone()
}

// Latest returns the most recent snapshot, or nil before the first one.
func (l *Loop) Latest() *Snapshot { return l.latest.Load() }

// Subscribe returns a channel receiving every published snapshot. A full
// channel drops snapshots rather than stalling the loop. The channel is
// closed by cancel or when Run returns.
func (l *Loop) Subscribe(buffer int) (<-chan *Snapshot, func()) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()

	ch := make(chan *Snapshot, buffer)
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	return ch, func() {
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
	}
}

func (l *Loop) closeSubscribers() {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// publish builds a snapshot from the current state. l.mu is held.
func (l *Loop) publish(now time.Time) {
	l.seq++
	s := &Snapshot{
		Seq:         l.seq,
		Time:        now,
		LastFrame:   l.lastFrame,
		Mode:        l.mode,
		Calibration: l.cal.Clone(),
		Reading:     l.reading.Clone(),
		History:     historyPoints(l.hist.Entries(now)),
	}
	if l.mode == Calibrating {
		p := l.calState.Progress()
		s.Progress = &p
	}
	if l.stats != nil {
		s.Stats = append([]window.ChannelStats(nil), l.stats...)
	}
	if l.estimate != nil {
		e := *l.estimate
		e.Scaled = append([]float64(nil), e.Scaled...)
		e.Shares = append([]float64(nil), e.Shares...)
		e.Radii = append([]float64(nil), e.Radii...)
		e.NormRadii = append([]float64(nil), e.NormRadii...)
		s.Estimate = &e
	}
	if mean, std, err := l.hist.MeanStd(); err == nil {
		m, d := pointOf(mean), pointOf(std)
		s.HistoryMean, s.HistoryStd = &m, &d
	}
	l.metrics.SetHistoryEntries(l.hist.Len())
	l.latest.Store(s)

	l.subsMu.Lock()
	for _, ch := range l.subs {
		select {
		case ch <- s:
		default:
		}
	}
	l.subsMu.Unlock()
}

func formatStats(stats []window.ChannelStats) string {
	parts := make([]string, len(stats))
	for i, s := range stats {
		parts[i] = fmt.Sprintf("%.6f ± %.6f", s.Mean, s.StdDev)
	}
	return strings.Join(parts, "     ")
}
