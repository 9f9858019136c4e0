package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the current session phase on one terminal line.
// While the countdown phase is active it shows the seconds left before the
// scan times out; other phases show the phase name only.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stdout, "Looking for \"Posture \"", "Scanning", 60*time.Second, "Streaming")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out            io.Writer
	prefix         string
	phase          atomic.Value // string
	countdownPhase string
	duration       time.Duration
	stopPhases     map[string]struct{}

	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewProgressPrinter creates a printer that counts down duration while the phase
// equals countdownPhase. Reaching any of stopPhases stops the printer.
func NewProgressPrinter(out io.Writer, prefix, countdownPhase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:            out,
		prefix:         prefix,
		countdownPhase: countdownPhase,
		duration:       duration,
		stopPhases:     stopSet,
	}
	p.phase.Store(countdownPhase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.print(p.phase.Load().(string))
	go p.loop(ticker)
}

func (p *ProgressPrinter) loop(ticker *time.Ticker) {
	defer close(p.done)
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.print(p.phase.Load().(string))
		}
	}
}

// print renders one progress line
func (p *ProgressPrinter) print(phase string) {
	if phase != p.countdownPhase {
		fmt.Fprintf(p.out, "%s%s (%s...)", clearLineSequence, p.prefix, phase)
		return
	}
	// Round to the nearest second, e.g. 3.7s -> 4s
	seconds := 0
	if remaining := p.duration - time.Since(p.startTime); remaining > 0 {
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(p.out, "%s%s (%s %s)", clearLineSequence, p.prefix, phase, color.YellowString("%ds", seconds))
}

// Callback returns a progress callback that updates the phase. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Stop stops the progress display and clears the line.
// Only the first call has an effect.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped or never started
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.out, clearLineSequence)
}
