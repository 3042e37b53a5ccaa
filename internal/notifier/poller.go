// Package notifier polls the admin unread-notification count on a
// fixed interval. Ticks are skipped while no client is watching, and
// the loop tears down with its context so no timer outlives the app.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Source interface {
	UnreadCount(ctx context.Context, token string) (int, error)
}

// Activity tracks whether anyone recently asked the gateway for the
// counter. It stands in for the browser's page-visibility signal.
type Activity struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
	now    func() time.Time
}

func NewActivity(window time.Duration) *Activity {
	return &Activity{window: window, now: time.Now}
}

func (a *Activity) Touch() {
	a.mu.Lock()
	a.last = a.now()
	a.mu.Unlock()
}

func (a *Activity) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.last.IsZero() && a.now().Sub(a.last) <= a.window
}

type Poller struct {
	source   Source
	token    string
	interval time.Duration
	visible  func() bool
	log      *slog.Logger

	mu        sync.RWMutex
	count     int
	fetchedAt time.Time
}

type Opts struct {
	Source   Source
	Token    string
	Interval time.Duration
	// Visible gates each tick; nil means always visible.
	Visible func() bool
	Log     *slog.Logger
}

func New(opts Opts) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Visible == nil {
		opts.Visible = func() bool { return true }
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Poller{
		source:   opts.Source,
		token:    opts.Token,
		interval: opts.Interval,
		visible:  opts.Visible,
		log:      opts.Log,
	}
}

// Last returns the most recent successfully fetched count and when it
// was fetched. The zero time means no poll has succeeded yet.
func (p *Poller) Last() (int, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count, p.fetchedAt
}

// Run polls until ctx is cancelled. A failed poll keeps the previous
// value; a hidden tick does nothing at all.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("notification poller stopping")
			return nil
		case <-ticker.C:
			if !p.visible() {
				continue
			}
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	n, err := p.source.UnreadCount(ctx, p.token)
	if err != nil {
		p.log.Warn("unread count poll failed", "err", err)
		return
	}
	p.mu.Lock()
	p.count = n
	p.fetchedAt = time.Now()
	p.mu.Unlock()
}
