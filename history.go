package main

import (
	"fmt"
	"strings"
)

// EventType tags a RoundEvent.
type EventType string

const (
	EventSpeak         EventType = "speak"
	EventVote          EventType = "vote"
	EventExecute       EventType = "execute"
	EventKill          EventType = "kill"
	EventPoison        EventType = "poison"
	EventCure          EventType = "cure"
	EventDivine        EventType = "divine"
	EventLastWord      EventType = "last_word"
	EventHunterRevenge EventType = "hunter_revenge"
	EventWitchAction   EventType = "witch_action"
)

// Visibility determines who can see an event in a partial view:
//   - "public": everyone
//   - "actor": only the seat that acted
type Visibility string

const (
	VisibilityPublic Visibility = "public"
	VisibilityActor  Visibility = "actor"
)

// DeathCause records why a seat died.
type DeathCause string

const (
	CauseWolves    DeathCause = "wolves"
	CausePoison    DeathCause = "poison"
	CauseExecution DeathCause = "execution"
	CauseHunter    DeathCause = "hunter"
)

// VoteRecord is one line of a day-vote ledger. Target is NoTarget for an
// abstention.
type VoteRecord struct {
	Voter  int `json:"voter"`
	Target int `json:"target"`
}

// RoundEvent is an immutable entry in the event history. Which fields are
// meaningful depends on Type.
type RoundEvent struct {
	Seq        int          `json:"seq"`
	Type       EventType    `json:"type"`
	Actor      int          `json:"actor"`
	Target     int          `json:"target"`
	Text       string       `json:"text,omitempty"`
	Cause      DeathCause   `json:"cause,omitempty"`
	Alignment  string       `json:"alignment,omitempty"`
	Ability    string       `json:"ability,omitempty"`
	Ledger     []VoteRecord `json:"ledger,omitempty"`
	Visibility Visibility   `json:"visibility"`
}

func speakEvent(seat int, text string) RoundEvent {
	return RoundEvent{Type: EventSpeak, Actor: seat, Target: NoTarget, Text: text, Visibility: VisibilityPublic}
}

func lastWordEvent(seat int, text string) RoundEvent {
	return RoundEvent{Type: EventLastWord, Actor: seat, Target: NoTarget, Text: text, Visibility: VisibilityPublic}
}

func voteEvent(voter, target int) RoundEvent {
	return RoundEvent{Type: EventVote, Actor: voter, Target: target, Visibility: VisibilityPublic}
}

func executeEvent(seat int, ledger []VoteRecord) RoundEvent {
	return RoundEvent{Type: EventExecute, Actor: NoTarget, Target: seat, Cause: CauseExecution,
		Ledger: ledger, Visibility: VisibilityPublic}
}

func killEvent(seat int, cause DeathCause) RoundEvent {
	return RoundEvent{Type: EventKill, Actor: NoTarget, Target: seat, Cause: cause, Visibility: VisibilityPublic}
}

func poisonEvent(witch, seat int) RoundEvent {
	return RoundEvent{Type: EventPoison, Actor: witch, Target: seat, Visibility: VisibilityActor}
}

func cureEvent(witch, seat int) RoundEvent {
	return RoundEvent{Type: EventCure, Actor: witch, Target: seat, Visibility: VisibilityActor}
}

func divineEvent(seer, target int, alignment string) RoundEvent {
	return RoundEvent{Type: EventDivine, Actor: seer, Target: target, Alignment: alignment, Visibility: VisibilityActor}
}

func hunterRevengeEvent(hunter, target int) RoundEvent {
	return RoundEvent{Type: EventHunterRevenge, Actor: hunter, Target: target, Cause: CauseHunter, Visibility: VisibilityPublic}
}

func witchActionEvent(witch int, ability string, target int) RoundEvent {
	return RoundEvent{Type: EventWitchAction, Actor: witch, Target: target, Ability: ability, Visibility: VisibilityActor}
}

// Describe renders the event as a single history line for prompts.
func (e RoundEvent) Describe() string {
	switch e.Type {
	case EventSpeak:
		return fmt.Sprintf("seat %d said: %s", e.Actor, e.Text)
	case EventLastWord:
		return fmt.Sprintf("seat %d's last words: %s", e.Actor, e.Text)
	case EventVote:
		if e.Target == NoTarget {
			return fmt.Sprintf("seat %d abstained", e.Actor)
		}
		return fmt.Sprintf("seat %d voted for seat %d", e.Actor, e.Target)
	case EventExecute:
		votes := make([]string, 0, len(e.Ledger))
		for _, v := range e.Ledger {
			if v.Target == NoTarget {
				votes = append(votes, fmt.Sprintf("%d->abstain", v.Voter))
			} else {
				votes = append(votes, fmt.Sprintf("%d->%d", v.Voter, v.Target))
			}
		}
		return fmt.Sprintf("seat %d was executed by vote (%s)", e.Target, strings.Join(votes, ", "))
	case EventKill:
		return fmt.Sprintf("seat %d died in the night", e.Target)
	case EventPoison:
		return fmt.Sprintf("seat %d was poisoned", e.Target)
	case EventCure:
		return fmt.Sprintf("seat %d was cured", e.Target)
	case EventDivine:
		return fmt.Sprintf("seat %d divined seat %d: %s", e.Actor, e.Target, e.Alignment)
	case EventHunterRevenge:
		return fmt.Sprintf("hunter at seat %d shot seat %d", e.Actor, e.Target)
	case EventWitchAction:
		return fmt.Sprintf("witch at seat %d chose to %s seat %d", e.Actor, e.Ability, e.Target)
	}
	return string(e.Type)
}

// canSee determines if viewer may see ev based on visibility rules.
// A nil viewer is the omniscient judge.
func canSee(ev RoundEvent, viewer *Seat) bool {
	if viewer == nil {
		return true
	}
	switch ev.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityActor:
		return viewer.Index == ev.Actor
	default:
		return false
	}
}

// Round is the event bucket for one night and the day that follows it.
type Round struct {
	Day         int          `json:"day"`
	NightEvents []RoundEvent `json:"night_events"`
	DayEvents   []RoundEvent `json:"day_events"`
}

// EventPersister receives every appended event (write-through).
type EventPersister interface {
	PersistEvent(day int, phase Phase, ev RoundEvent) error
}

// History is the append-only event log for one game.
type History struct {
	rounds    []*Round
	phase     Phase
	seq       int
	persister EventPersister
}

func newHistory(persister EventPersister) *History {
	return &History{
		rounds:    []*Round{{Day: 1}},
		phase:     PhaseNight,
		persister: persister,
	}
}

// Append stamps ev with the next sequence number and adds it to the current
// bucket.
func (h *History) Append(ev RoundEvent) RoundEvent {
	h.seq++
	ev.Seq = h.seq
	r := h.rounds[len(h.rounds)-1]
	if h.phase == PhaseDay {
		r.DayEvents = append(r.DayEvents, ev)
	} else {
		r.NightEvents = append(r.NightEvents, ev)
	}
	if h.persister != nil {
		if err := h.persister.PersistEvent(r.Day, h.phase, ev); err != nil {
			logError("History.Append: persist", err)
		}
	}
	DebugLog("History.Append", "day %d %s: %s", r.Day, h.phase, ev.Describe())
	return ev
}

// ToggleDayNight follows the phase controller. Entering night opens a new
// round labelled with the controller's day; entering day reuses the round
// whose night just ended.
func (h *History) ToggleDayNight(state PhaseState) {
	h.phase = state.Phase
	if state.Phase == PhaseNight {
		h.rounds = append(h.rounds, &Round{Day: state.Day})
	}
}

// CurrentRound returns a copy of the round being written.
func (h *History) CurrentRound() Round {
	return copyRound(*h.rounds[len(h.rounds)-1], nil)
}

// Rounds returns the full omniscient view.
func (h *History) Rounds() []Round {
	return h.View(nil)
}

// View returns the rounds filtered to what viewer is allowed to know.
func (h *History) View(viewer *Seat) []Round {
	out := make([]Round, 0, len(h.rounds))
	for _, r := range h.rounds {
		out = append(out, copyRound(*r, viewer))
	}
	return out
}

// Lines renders the view for viewer as prompt-ready text.
func (h *History) Lines(viewer *Seat) []string {
	var lines []string
	for _, r := range h.View(viewer) {
		for _, ev := range r.NightEvents {
			lines = append(lines, fmt.Sprintf("[night %d] %s", r.Day, ev.Describe()))
		}
		for _, ev := range r.DayEvents {
			lines = append(lines, fmt.Sprintf("[day %d] %s", r.Day, ev.Describe()))
		}
	}
	return lines
}

func copyRound(r Round, viewer *Seat) Round {
	filter := func(events []RoundEvent) []RoundEvent {
		out := make([]RoundEvent, 0, len(events))
		for _, ev := range events {
			if canSee(ev, viewer) {
				out = append(out, ev)
			}
		}
		return out
	}
	return Round{Day: r.Day, NightEvents: filter(r.NightEvents), DayEvents: filter(r.DayEvents)}
}
