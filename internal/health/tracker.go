package health

import (
	"log"
	"sort"
	"sync"
	"time"

	"ambia/internal/clock"
)

const (
	defaultFailureThreshold = 3
	defaultCooldownDuration = 5 * time.Minute
)

// Tracker records collaborator outcomes. After failureThreshold consecutive
// failures a collaborator cools down; background work skips it until then.
type Tracker struct {
	mu               sync.RWMutex
	entries          map[Collaborator]*CollaboratorHealth
	clock            clock.Clock
	failureThreshold int
	cooldownDuration time.Duration
}

// NewTracker creates a new health tracker
func NewTracker(clk clock.Clock, failureThreshold int, cooldownDuration time.Duration) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if cooldownDuration <= 0 {
		cooldownDuration = defaultCooldownDuration
	}

	return &Tracker{
		entries:          make(map[Collaborator]*CollaboratorHealth),
		clock:            clk,
		failureThreshold: failureThreshold,
		cooldownDuration: cooldownDuration,
	}
}

func (t *Tracker) entry(name Collaborator) *CollaboratorHealth {
	h, ok := t.entries[name]
	if !ok {
		h = &CollaboratorHealth{Name: name, Status: StatusUnknown}
		t.entries[name] = h
	}
	return h
}

// RecordSuccess marks a successful call and clears any cooldown
func (t *Tracker) RecordSuccess(name Collaborator) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	h := t.entry(name)
	if h.Status == StatusCooldown {
		log.Printf("[HEALTH] %s recovered after %d failures", name, h.ConsecutiveFailures)
	}
	h.Status = StatusHealthy
	h.LastChecked = now
	h.LastSuccessAt = now
	h.ConsecutiveFailures = 0
	h.TotalSuccesses++
	h.LastError = ""
	h.CooldownUntil = time.Time{}
}

// RecordFailure marks a failed call. Reaching the threshold starts a cooldown.
func (t *Tracker) RecordFailure(name Collaborator, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	h := t.entry(name)
	h.LastChecked = now
	h.ConsecutiveFailures++
	h.TotalFailures++
	if err != nil {
		h.LastError = truncateStr(err.Error(), 200)
	}

	if h.ConsecutiveFailures >= t.failureThreshold {
		h.Status = StatusCooldown
		h.CooldownUntil = now.Add(t.cooldownDuration)
		log.Printf("[HEALTH] %s in COOLDOWN until %s after %d consecutive failures: %s",
			name, h.CooldownUntil.Format(time.RFC3339), h.ConsecutiveFailures, h.LastError)
	} else {
		log.Printf("[HEALTH] %s failure %d/%d: %s", name, h.ConsecutiveFailures, t.failureThreshold, h.LastError)
	}
}

// SetCooldown puts a collaborator into cooldown for duration (typically after a quota error)
func (t *Tracker) SetCooldown(name Collaborator, duration time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	h := t.entry(name)
	h.Status = StatusCooldown
	h.LastChecked = now
	h.CooldownUntil = now.Add(duration)

	log.Printf("[HEALTH] %s in COOLDOWN until %s", name, h.CooldownUntil.Format(time.RFC3339))
}

// Available reports whether background work may call the collaborator
func (t *Tracker) Available(name Collaborator) bool {
	if t == nil {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.entries[name]
	if !ok || h.Status != StatusCooldown {
		return true
	}
	return !t.clock.Now().Before(h.CooldownUntil)
}

// Snapshot returns every tracked collaborator, sorted by name. An expired
// cooldown is reported as unknown until the next call lands.
func (t *Tracker) Snapshot() []CollaboratorHealth {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	result := make([]CollaboratorHealth, 0, len(t.entries))
	for _, h := range t.entries {
		c := *h
		if c.Status == StatusCooldown && !now.Before(c.CooldownUntil) {
			c.Status = StatusUnknown
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Healthy reports whether no collaborator is cooling down
func (t *Tracker) Healthy() bool {
	for _, h := range t.Snapshot() {
		if h.Status == StatusCooldown {
			return false
		}
	}
	return true
}

func truncateStr(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
