// Package poller runs the mailbox loop that turns unseen replies into
// tracker events.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/tally/internal/concurrency"
	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
	"github.com/harunnryd/tally/internal/mailbox"
)

// ReplyHandler receives each new reply in fetch order.
type ReplyHandler interface {
	HandleReply(ctx context.Context, reply mailbox.Reply) error
}

type HandlerFunc func(ctx context.Context, reply mailbox.Reply) error

func (f HandlerFunc) HandleReply(ctx context.Context, reply mailbox.Reply) error {
	return f(ctx, reply)
}

type Options struct {
	Interval       time.Duration
	PruneEvery     int
	PruneThreshold int
	PruneKeep      int
	Since          time.Time
	Subject        string
	Keywords       []string
	Now            func() time.Time
}

// OptionsFrom builds poller options from the poller and mailbox sections.
func OptionsFrom(pc config.PollerConfig, mc config.MailboxConfig) (Options, error) {
	interval, err := config.DurationOrDefault(pc.Interval, config.DefaultPollerInterval)
	if err != nil {
		return Options{}, fmt.Errorf("parse poller interval: %w", err)
	}
	since, err := config.DateOrDefault(mc.Since, config.DefaultMailboxSince)
	if err != nil {
		return Options{}, fmt.Errorf("parse mailbox since: %w", err)
	}
	return Options{
		Interval:       interval,
		PruneEvery:     pc.PruneEvery,
		PruneThreshold: pc.PruneThreshold,
		PruneKeep:      pc.PruneKeep,
		Since:          since,
		Subject:        mc.Subject,
		Keywords:       mc.Keywords,
	}, nil
}

type Status struct {
	Running   bool       `json:"running"`
	Halted    bool       `json:"halted"`
	Source    string     `json:"source"`
	Interval  string     `json:"interval"`
	Cycles    int        `json:"cycles"`
	Seen      int        `json:"seen"`
	Forwarded int        `json:"forwarded"`
	LastCheck *time.Time `json:"last_check,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type Poller struct {
	source  mailbox.Source
	handler ReplyHandler
	opts    Options

	// owned by the loop goroutine
	seen *seenSet

	mu        sync.RWMutex
	running   bool
	halted    bool
	stop      chan struct{}
	loop      *concurrency.Supervised
	cycles    int
	seenCount int
	forwarded int
	lastCheck *time.Time
	lastErr   error
}

func New(source mailbox.Source, handler ReplyHandler, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = config.DefaultPollerPruneEvery
	}
	if opts.PruneThreshold <= 0 {
		opts.PruneThreshold = config.DefaultPollerPruneThreshold
	}
	if opts.PruneKeep <= 0 {
		opts.PruneKeep = config.DefaultPollerPruneKeep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		source:  source,
		handler: handler,
		opts:    opts,
		seen:    newSeenSet(),
	}
}

// Start launches the poll loop. Calling it while running returns the
// current status. The loop runs until Stop or until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return p.statusLocked()
	}

	prev := p.loop
	stop := make(chan struct{})
	p.running = true
	p.halted = false
	p.lastErr = nil
	p.stop = stop
	p.loop = concurrency.Go(func() error {
		if prev != nil {
			<-prev.Done()
		}
		return p.run(ctx, stop)
	})

	logger.From(ctx).Info("Poller started", "source", p.source.Name(), "interval", p.opts.Interval)
	return p.statusLocked()
}

// Stop asks the loop to exit at its next sleep boundary. An in-flight
// cycle completes first.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
}

// Wait blocks until the loop exits and returns the error that halted it.
func (p *Poller) Wait() error {
	p.mu.RLock()
	loop := p.loop
	p.mu.RUnlock()
	if loop == nil {
		return nil
	}
	return loop.Wait()
}

func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statusLocked()
}

func (p *Poller) statusLocked() Status {
	st := Status{
		Running:   p.running,
		Halted:    p.halted,
		Source:    p.source.Name(),
		Interval:  p.opts.Interval.String(),
		Cycles:    p.cycles,
		Seen:      p.seenCount,
		Forwarded: p.forwarded,
	}
	if p.lastCheck != nil {
		t := *p.lastCheck
		st.LastCheck = &t
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *Poller) run(ctx context.Context, stop chan struct{}) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	first := true
	for {
		if err := p.cycle(ctx); err != nil && first {
			p.mu.Lock()
			if p.stop == stop {
				p.running = false
				p.halted = true
			}
			p.mu.Unlock()
			logger.From(ctx).Error("Poller halted: mailbox unreachable on first attempt", "error", err)
			return err
		}
		first = false

		select {
		case <-stop:
			logger.From(ctx).Info("Poller stopped")
			return nil
		case <-ctx.Done():
			p.mu.Lock()
			if p.stop == stop {
				p.running = false
			}
			p.mu.Unlock()
			logger.From(ctx).Info("Poller context cancelled")
			return nil
		case <-ticker.C:
		}
	}
}

// cycle runs one fetch-and-forward pass. Only a fetch failure is returned;
// per-message failures are logged.
func (p *Poller) cycle(ctx context.Context) error {
	ctx, _ = logger.WithNewTraceID(ctx)
	log := logger.From(ctx)

	msgs, err := p.source.FetchUnseen(ctx, mailbox.Filter{Since: p.opts.Since, Subject: p.opts.Subject})
	now := p.opts.Now()

	forwarded := 0
	if err != nil {
		log.Warn("Mailbox fetch failed", "source", p.source.Name(), "error", err)
	} else {
		var settled []string
		for _, raw := range msgs {
			if ctx.Err() != nil {
				break
			}
			fwd, consume := p.process(ctx, raw, now)
			if fwd {
				forwarded++
			}
			if consume {
				settled = append(settled, raw.Ref)
			}
		}
		p.consume(ctx, settled)
	}

	p.mu.Lock()
	p.cycles++
	cycles := p.cycles
	p.mu.Unlock()

	if cycles%p.opts.PruneEvery == 0 && p.seen.Len() > p.opts.PruneThreshold {
		dropped := p.seen.Prune(p.opts.PruneKeep)
		log.Info("Pruned seen message ids", "dropped", dropped, "kept", p.seen.Len())
	}

	p.mu.Lock()
	p.lastCheck = &now
	p.seenCount = p.seen.Len()
	p.forwarded += forwarded
	if err != nil {
		p.lastErr = err
	}
	p.mu.Unlock()

	if err != nil {
		return tallyErrors.Wrap(err, "fetch unseen")
	}
	if len(msgs) > 0 {
		log.Debug("Poll cycle complete", "fetched", len(msgs), "forwarded", forwarded)
	}
	return nil
}

// process forwards one message. It reports whether the handler accepted it
// and whether the message is settled and may be marked consumed.
func (p *Poller) process(ctx context.Context, raw mailbox.RawMessage, now time.Time) (forwarded, consume bool) {
	log := logger.From(ctx)

	if !matchesKeywords(raw, p.opts.Keywords) {
		return false, false
	}

	id := messageID(p.source.Name(), raw)
	if !p.seen.Add(id) {
		log.Debug("Skipping already seen message", "message_id", id)
		return false, true
	}

	reply := normalize(id, raw, now)
	err := p.handler.HandleReply(ctx, reply)
	switch {
	case err == nil:
		return true, true
	case tallyErrors.IsRetryable(err):
		// leave it unseen at the source and let the next cycle retry
		p.seen.Remove(id)
		log.Warn("Reply handling failed, will retry", "message_id", id, "from", reply.FromContact, "error", err)
		return false, false
	default:
		log.Warn("Reply rejected", "message_id", id, "from", reply.FromContact, "date", reply.ReferencedDate, "error", err)
		return false, true
	}
}

// consume marks the cycle's settled messages in one call. A failure leaves
// them unseen; the seen set keeps them from being forwarded twice.
func (p *Poller) consume(ctx context.Context, refs []string) {
	if len(refs) == 0 {
		return
	}
	if err := p.source.MarkConsumed(ctx, refs...); err != nil {
		logger.From(ctx).Warn("Failed to mark messages consumed", "refs", refs, "error", err)
	}
}
