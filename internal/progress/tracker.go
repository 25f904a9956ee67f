// Package progress owns the per-user download/upload progress records.
// Records are mutated by the orchestrator and the packaging stage and read
// by the publisher; all access goes through the Tracker mutex. Outbound
// publishing is throttled independently of mutation frequency.
package progress

import (
	"context"
	"math"
	"sync"
	"time"
)

// Phase labels the pipeline stage a record is in.
type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseDownloading Phase = "downloading"
	PhaseCompleted   Phase = "completed"
	PhaseError       Phase = "error"
)

// State is one user's mutable progress record.
type State struct {
	ChatID    int64
	MessageID int

	CurrentLabel   string
	Percentage     int
	CompletedCount int
	TotalCount     int

	UploadPercentage  int
	UploadStatusLabel string

	CollectionName      string
	collectionAnnounced bool

	ZipPassword string
	Phase       Phase

	lastPublish time.Time
}

// Snapshot is an immutable copy of a State handed to publishers.
type Snapshot struct {
	ChatID            int64
	MessageID         int
	CurrentLabel      string
	Percentage        int
	CompletedCount    int
	TotalCount        int
	UploadPercentage  int
	UploadStatusLabel string
	CollectionName    string
	ZipPassword       string
	Phase             Phase
}

// PublishFunc delivers a snapshot to the chat transport.
type PublishFunc func(userID int64, s Snapshot)

// Tracker is the session registry for progress records, keyed by user id.
type Tracker struct {
	mu       sync.Mutex
	byUser   map[int64]*State
	publish  PublishFunc
	throttle time.Duration
}

// NewTracker creates a tracker throttling outbound updates to one per
// throttle interval per user.
func NewTracker(throttle time.Duration) *Tracker {
	return &Tracker{
		byUser:   make(map[int64]*State),
		throttle: throttle,
	}
}

// SetPublishFunc sets the callback used for outbound progress updates.
func (t *Tracker) SetPublishFunc(fn PublishFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publish = fn
}

// Begin creates the record for a user's new job. Any stale record for the
// same user is replaced.
func (t *Tracker) Begin(userID, chatID int64, messageID int, zipPassword string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byUser[userID] = &State{
		ChatID:       chatID,
		MessageID:    messageID,
		CurrentLabel: "Initializing...",
		TotalCount:   1,
		ZipPassword:  zipPassword,
		Phase:        PhaseStarting,
	}
}

// End removes the record. Further mutations for the user are no-ops.
func (t *Tracker) End(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byUser, userID)
}

// Snapshot returns a copy of the user's record.
func (t *Tracker) Snapshot(userID int64) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(s), true
}

// SetCollection records the collection announcement. It returns true only
// the first time, so duplicate banners in the tool output stay silent.
func (t *Tracker) SetCollection(userID int64, name string, total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok || s.collectionAnnounced {
		return false
	}
	s.CollectionName = name
	if total > 0 {
		s.TotalCount = total
	}
	s.collectionAnnounced = true
	return true
}

// CollectionName returns the recorded collection title, if any.
func (t *Tracker) CollectionName(userID int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byUser[userID]; ok {
		return s.CollectionName
	}
	return ""
}

// SetCollectionTitle stores a pre-fetched collection title without
// consuming the one-shot announcement.
func (t *Tracker) SetCollectionTitle(userID int64, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byUser[userID]; ok && name != "" {
		s.CollectionName = name
	}
}

// SetPosition records a "downloading i of n" line: i-1 items are done and
// item i is in flight.
func (t *Tracker) SetPosition(userID int64, index, total int, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok {
		return
	}
	if total > 0 {
		s.TotalCount = total
	}
	s.CompletedCount = clampInt(index-1, 0, s.TotalCount)
	if label != "" {
		s.CurrentLabel = label
	}
	s.Phase = PhaseDownloading
	recomputeLocked(s)
}

// SetPercentage overrides the derived percentage with one reported
// directly by the tool, clamped to [0,100].
func (t *Tracker) SetPercentage(userID int64, pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byUser[userID]; ok {
		s.Percentage = clampInt(pct, 0, 100)
		s.Phase = PhaseDownloading
	}
}

// MarkDownloaded records a finished item, clamped to the known total.
func (t *Tracker) MarkDownloaded(userID int64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok {
		return
	}
	if s.CompletedCount < s.TotalCount {
		s.CompletedCount++
	}
	if label != "" {
		s.CurrentLabel = label
	}
	s.Phase = PhaseDownloading
	recomputeLocked(s)
}

// SetLabel updates only the current item label.
func (t *Tracker) SetLabel(userID int64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byUser[userID]; ok {
		s.CurrentLabel = label
	}
}

// SetPhase moves the record to the given phase.
func (t *Tracker) SetPhase(userID int64, phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byUser[userID]; ok {
		s.Phase = phase
	}
}

// RaiseCompleted lifts the completed counter to at least n. It never
// lowers the counter; the disk recount only corrects under-counting.
func (t *Tracker) RaiseCompleted(userID int64, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok || n <= s.CompletedCount {
		return
	}
	s.CompletedCount = clampInt(n, 0, s.TotalCount)
	recomputeLocked(s)
}

// Complete forces the record to a finished download state.
func (t *Tracker) Complete(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok {
		return
	}
	s.CompletedCount = s.TotalCount
	s.Percentage = 100
	s.Phase = PhaseCompleted
}

// SetUpload records packaging/upload progress for the user.
func (t *Tracker) SetUpload(userID int64, pct int, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[userID]
	if !ok {
		return
	}
	s.UploadPercentage = clampInt(pct, 0, 100)
	s.UploadStatusLabel = status
}

// MaybePublish sends a snapshot to the publish callback when the throttle
// window has passed. It reports whether a publish happened.
func (t *Tracker) MaybePublish(userID int64) bool {
	t.mu.Lock()
	s, ok := t.byUser[userID]
	if !ok || t.publish == nil {
		t.mu.Unlock()
		return false
	}
	now := time.Now()
	if !s.lastPublish.IsZero() && now.Sub(s.lastPublish) < t.throttle {
		t.mu.Unlock()
		return false
	}
	s.lastPublish = now
	snap := snapshotLocked(s)
	publish := t.publish
	t.mu.Unlock()

	publish(userID, snap)
	return true
}

// ForcePublish bypasses the throttle, for terminal updates.
func (t *Tracker) ForcePublish(userID int64) {
	t.mu.Lock()
	s, ok := t.byUser[userID]
	if !ok || t.publish == nil {
		t.mu.Unlock()
		return
	}
	s.lastPublish = time.Now()
	snap := snapshotLocked(s)
	publish := t.publish
	t.mu.Unlock()

	publish(userID, snap)
}

// Run drives periodic publishing and the corrective disk recount for one
// job until ctx is cancelled. countFiles re-derives the number of finished
// output files; the counter is only ever raised by its result.
func (t *Tracker) Run(ctx context.Context, userID int64, recountEvery time.Duration, countFiles func() int) {
	ticker := time.NewTicker(recountEvery / 5)
	defer ticker.Stop()

	lastRecount := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if countFiles != nil && time.Since(lastRecount) >= recountEvery {
				lastRecount = time.Now()
				if n := countFiles(); n > 0 {
					t.RaiseCompleted(userID, n)
				}
			}
			t.MaybePublish(userID)
		}
	}
}

func snapshotLocked(s *State) Snapshot {
	return Snapshot{
		ChatID:            s.ChatID,
		MessageID:         s.MessageID,
		CurrentLabel:      s.CurrentLabel,
		Percentage:        s.Percentage,
		CompletedCount:    s.CompletedCount,
		TotalCount:        s.TotalCount,
		UploadPercentage:  s.UploadPercentage,
		UploadStatusLabel: s.UploadStatusLabel,
		CollectionName:    s.CollectionName,
		ZipPassword:       s.ZipPassword,
		Phase:             s.Phase,
	}
}

// recomputeLocked re-derives the percentage from the counters with all the
// clamps applied. The total defaults to 1 so the division is always safe.
func recomputeLocked(s *State) {
	if s.TotalCount < 1 {
		s.TotalCount = 1
	}
	if s.CompletedCount > s.TotalCount {
		s.CompletedCount = s.TotalCount
	}
	if s.CompletedCount < 0 {
		s.CompletedCount = 0
	}
	pct := int(math.Round(float64(s.CompletedCount) / float64(s.TotalCount) * 100))
	s.Percentage = clampInt(pct, 0, 100)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
