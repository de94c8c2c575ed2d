package models

import "time"

// EventType defines the kind of entry in a match event log.
type EventType string

const (
	EventTypeMatchStart   EventType = "match_start"
	EventTypeHalfStart    EventType = "half_start"
	EventTypeHalfEnd      EventType = "half_end"
	EventTypeGoalHome     EventType = "goal_home"
	EventTypeGoalAway     EventType = "goal_away"
	EventTypeSubAuto      EventType = "sub_auto"
	EventTypeSubManual    EventType = "sub_manual"
	EventTypeKeeperChange EventType = "keeper_change"
	EventTypePhoto        EventType = "photo"
	EventTypeMatchEnd     EventType = "match_end"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeMatchStart, EventTypeHalfStart, EventTypeHalfEnd,
		EventTypeGoalHome, EventTypeGoalAway, EventTypeSubAuto,
		EventTypeSubManual, EventTypeKeeperChange, EventTypePhoto,
		EventTypeMatchEnd:
		return true
	default:
		return false
	}
}

// MatchEvent is one discrete occurrence appended to the event log.
// Time is the match clock ("m:ss") when it happened, At the wall clock.
type MatchEvent struct {
	Type      EventType `json:"type"`
	Time      string    `json:"time"`
	Half      int       `json:"half"`
	Scorer    string    `json:"scorer,omitempty"`
	Out       []string  `json:"out,omitempty"`
	In        []string  `json:"in,omitempty"`
	NewKeeper string    `json:"newKeeper,omitempty"`
	URL       string    `json:"url,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	At        time.Time `json:"at"`
}
