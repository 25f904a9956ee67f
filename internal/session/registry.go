// Package session tracks the short-lived conversation a user has between
// sending an ambiguous link and dispatching a download: which source they
// sent and which choice the bot is currently waiting for.
package session

import (
	"errors"
	"sync"

	"github.com/tunegrab/tunegrab/internal/model"
)

// Stage is the conversation position. Transitions only move forward;
// terminal outcomes remove the conversation from the registry.
type Stage int

const (
	// StageAwaitingMediaType waits for the audio/video selection.
	StageAwaitingMediaType Stage = iota

	// StageAwaitingQuality waits for the bitrate or resolution selection.
	StageAwaitingQuality
)

// ErrBackwardTransition rejects attempts to move a conversation backward.
var ErrBackwardTransition = errors.New("conversation cannot move backward")

// Conversation is one user's pending format negotiation.
type Conversation struct {
	UserID int64
	ChatID int64
	Source model.Source
	Stage  Stage

	// Audio is valid once the media type was chosen.
	Audio bool
}

// Registry owns conversations keyed by user id. One conversation exists
// per user at most; creating a new one replaces any stale predecessor.
type Registry struct {
	mu     sync.Mutex
	byUser map[int64]*Conversation
}

// NewRegistry creates an empty conversation registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int64]*Conversation)}
}

// Create starts a conversation for the user at the media-type stage.
func (r *Registry) Create(userID, chatID int64, src model.Source) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Conversation{
		UserID: userID,
		ChatID: chatID,
		Source: src,
		Stage:  StageAwaitingMediaType,
	}
	r.byUser[userID] = c
	return c
}

// Lookup returns a copy of the user's conversation. A missing entry means
// the conversation expired or never existed; callers surface that to the
// user rather than silently ignoring the click.
func (r *Registry) Lookup(userID int64) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byUser[userID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// Advance moves the conversation to the quality stage, recording the
// chosen media type. Moving backward is rejected.
func (r *Registry) Advance(userID int64, audio bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byUser[userID]
	if !ok {
		return errors.New("no conversation for user")
	}
	if c.Stage >= StageAwaitingQuality {
		return ErrBackwardTransition
	}
	c.Stage = StageAwaitingQuality
	c.Audio = audio
	return nil
}

// Evict removes the conversation: used on dispatch, cancel and expiry.
func (r *Registry) Evict(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUser, userID)
}
