package editor

import (
	"time"

	"scribe/api/internal/autosave"
	"scribe/api/internal/validate"
)

type EventType string

const (
	EventSaved      EventType = "saved"
	EventSaveFailed EventType = "save_failed"
	EventWarnings   EventType = "warnings"
	EventState      EventType = "state"
	EventClosed     EventType = "closed"
)

type Event struct {
	Type     EventType          `json:"type"`
	DraftID  string             `json:"draftId"`
	At       time.Time          `json:"at"`
	Warnings []validate.Warning `json:"warnings,omitempty"`
	Save     *autosave.Status   `json:"save,omitempty"`
	State    *State             `json:"state,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Publisher fans events out to listeners. Publish may be called with the
// session lock held and must not block or call back into the session.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
