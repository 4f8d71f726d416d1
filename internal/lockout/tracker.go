// Package lockout counts failed login attempts per (username, client IP)
// over a sliding window and drives the temporary account lockout.
//
// Policy: 5 failures within a trailing 15 minute window lock the key; the
// lock clears on its own once the oldest qualifying failure ages out. The
// stricter per-IP keying was chosen over the 10-attempt username-only
// variant so one credential-stuffing source cannot lock a victim out from
// everywhere.
package lockout

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"profscore/api/internal/ephemeral"
)

const keyPrefix = "lockout:"

type record struct {
	Failures []time.Time `json:"failures"`
}

type Status struct {
	Locked    bool
	Remaining time.Duration
}

type Tracker struct {
	store      ephemeral.Store
	threshold  int
	window     time.Duration
	maxHistory int
	horizon    time.Duration
	now        func() time.Time

	// Guards the read-modify-write on a record. Go handlers run on
	// multiple goroutines, so unlike an event-loop runtime the sequence
	// is not atomic by construction.
	mu sync.Mutex
}

func NewTracker(store ephemeral.Store, threshold int, window time.Duration, maxHistory int, horizon time.Duration) *Tracker {
	return &Tracker{
		store:      store,
		threshold:  threshold,
		window:     window,
		maxHistory: maxHistory,
		horizon:    horizon,
		now:        time.Now,
	}
}

// SetClock injects a clock for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func key(username, ip string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(username)) + "|" + ip
}

// RecordFailure appends a failure timestamp for the key, trimming history
// to the configured cap and pruning entries past the retention horizon.
func (t *Tracker) RecordFailure(ctx context.Context, username, ip string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.load(ctx, username, ip)
	if err != nil {
		return err
	}

	now := t.now()
	rec.Failures = append(rec.Failures, now)

	// Drop entries older than the audit horizon, then cap length.
	cutoff := now.Add(-t.horizon)
	kept := rec.Failures[:0]
	for _, ts := range rec.Failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.Failures = kept
	if len(rec.Failures) > t.maxHistory {
		rec.Failures = rec.Failures[len(rec.Failures)-t.maxHistory:]
	}

	return t.save(ctx, username, ip, rec)
}

// RecordSuccess clears the whole failure history for the key.
func (t *Tracker) RecordSuccess(ctx context.Context, username, ip string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.store.Delete(ctx, key(username, ip))
}

// Check reports whether the key is locked and, if so, how long until the
// oldest qualifying failure ages out of the window.
func (t *Tracker) Check(ctx context.Context, username, ip string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.load(ctx, username, ip)
	if err != nil {
		return Status{}, err
	}

	now := t.now()
	windowStart := now.Add(-t.window)

	var oldestRecent time.Time
	recent := 0
	for _, ts := range rec.Failures {
		if ts.After(windowStart) {
			if recent == 0 {
				oldestRecent = ts
			}
			recent++
		}
	}

	if recent < t.threshold {
		return Status{}, nil
	}

	remaining := oldestRecent.Add(t.window).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	seconds := math.Ceil(remaining.Seconds())
	return Status{
		Locked:    true,
		Remaining: time.Duration(seconds) * time.Second,
	}, nil
}

func (t *Tracker) load(ctx context.Context, username, ip string) (record, error) {
	raw, ok, err := t.store.Get(ctx, key(username, ip))
	if err != nil || !ok {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt record is discarded rather than wedging the login path.
		return record{}, nil
	}
	return rec, nil
}

func (t *Tracker) save(ctx context.Context, username, ip string, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, key(username, ip), raw, t.horizon)
}
