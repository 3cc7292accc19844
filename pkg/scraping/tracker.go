package scraping

import (
	"sync"
	"time"

	"github.com/gather-network/gatherx/pkg/data"
)

// Tracker decides which sources are due for a scraping pass. Every source
// starts due immediately; returning a source from SourcesDue re-arms it for
// one cadence later.
type Tracker struct {
	mu      sync.Mutex
	order   []data.DataSource
	cadence map[data.DataSource]time.Duration
	nextDue map[data.DataSource]time.Time
}

// NewTracker builds a tracker over the schedule. The config should be
// validated first; unknown or duplicate sources are skipped here.
func NewTracker(cfg *Config) *Tracker {
	t := &Tracker{
		cadence: make(map[data.DataSource]time.Duration, len(cfg.SourceConfigs)),
		nextDue: make(map[data.DataSource]time.Time, len(cfg.SourceConfigs)),
	}
	for i := range cfg.SourceConfigs {
		sc := &cfg.SourceConfigs[i]
		if _, dup := t.cadence[sc.Source]; dup {
			continue
		}
		t.order = append(t.order, sc.Source)
		t.cadence[sc.Source] = sc.Cadence()
	}
	return t
}

// SourcesDue returns the sources whose cadence has elapsed at now, in config
// order, and re-arms each returned source for now plus its cadence.
func (t *Tracker) SourcesDue(now time.Time) []data.DataSource {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []data.DataSource
	for _, source := range t.order {
		next, armed := t.nextDue[source]
		if armed && now.Before(next) {
			continue
		}
		due = append(due, source)
		t.nextDue[source] = now.Add(t.cadence[source])
	}
	return due
}

// Len returns the number of scheduled sources.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}
