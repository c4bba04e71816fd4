package main

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// Vote is one seat's day-vote result.
type Vote struct {
	Seat      int    `json:"seat"`
	Target    int    `json:"target"`
	Reasoning string `json:"reasoning"`
}

// Speech is a speak or last-words result.
type Speech struct {
	Seat     int    `json:"seat"`
	Speak    string `json:"speak"`
	Thinking string `json:"thinking"`
}

// Execution is the outcome of the day-vote tally.
type Execution struct {
	Executed      int          `json:"executed"`
	Tied          bool         `json:"tied"`
	Counts        map[int]int  `json:"counts"`
	Ledger        []VoteRecord `json:"ledger"`
	HunterRevenge bool         `json:"hunter_revenge"`
}

// Revenge is the hunter's answer.
type Revenge struct {
	Seat     int    `json:"seat"`
	Attack   int    `json:"attack"`
	Thinking string `json:"thinking"`
}

// hunterState tracks the hunter's single revenge shot.
type hunterState struct {
	pendingSeat int
	cause       DeathCause
	used        bool
}

// ResetVotes clears the day-vote ledger.
func (g *Game) ResetVotes() {
	g.votes = make(map[int]int)
}

// Speak records a day speech. Without content the seat's decision maker
// writes it.
func (g *Game) Speak(ctx context.Context, seat int, content string) (Speech, error) {
	s, err := g.roster.Seat(seat)
	if err != nil {
		return Speech{}, err
	}
	if !s.Alive {
		return Speech{}, fmt.Errorf("%w: seat %d", ErrNotAlive, seat)
	}
	out := Speech{Seat: seat, Speak: content}
	if content == "" {
		d, err := g.requestDecision(ctx, s, ActionSpeak, nil)
		if err != nil {
			return Speech{}, err
		}
		out.Speak = d.String("speak")
		out.Thinking = d.Rationale()
	}
	g.history.Append(speakEvent(seat, out.Speak))
	return out, nil
}

// LastWords records a dying seat's final speech.
func (g *Game) LastWords(ctx context.Context, seat int, content, deathReason string) (Speech, error) {
	s, err := g.roster.Seat(seat)
	if err != nil {
		return Speech{}, err
	}
	out := Speech{Seat: seat, Speak: content}
	if content == "" {
		d, err := g.requestDecision(ctx, s, ActionLastWord, map[string]any{"reason": deathReason})
		if err != nil {
			return Speech{}, err
		}
		out.Speak = d.String("speak")
		out.Thinking = d.Rationale()
	}
	g.history.Append(lastWordEvent(seat, out.Speak))
	return out, nil
}

// DayVote records seat's vote. A dead seat abstains without being asked.
// A target that is not a living seat, explicit or decided, gets one
// re-decision; a second invalid choice is recorded as an abstention.
func (g *Game) DayVote(ctx context.Context, seat int, explicit *int) (Vote, error) {
	s, err := g.roster.Seat(seat)
	if err != nil {
		return Vote{}, err
	}
	if !s.Alive {
		g.votes[seat] = NoTarget
		return Vote{Seat: seat, Target: NoTarget, Reasoning: "dead seats cannot vote"}, nil
	}

	out := Vote{Seat: seat}
	if explicit != nil && g.acceptableTarget(*explicit) {
		out.Target = *explicit
	} else if explicit != nil {
		log.Printf("Day: seat %d named invalid target %d, asking again", seat, *explicit)
		target, d, err := g.redecideTarget(ctx, s, ActionVote, "vote", nil, *explicit, g.voteTargets(seat))
		if err != nil {
			return Vote{}, err
		}
		out.Target = target
		out.Reasoning = d.Rationale()
	} else {
		target, d, err := g.decideTarget(ctx, s, ActionVote, "vote", nil)
		if err != nil {
			return Vote{}, err
		}
		out.Target = target
		out.Reasoning = d.Rationale()
	}

	g.votes[seat] = out.Target
	g.history.Append(voteEvent(seat, out.Target))
	return out, nil
}

// voteTargets lists the living seats other than voter.
func (g *Game) voteTargets(voter int) []int {
	var out []int
	for _, i := range g.roster.Living() {
		if i != voter {
			out = append(out, i)
		}
	}
	return out
}

// DecideVote asks for a vote without recording anything.
func (g *Game) DecideVote(ctx context.Context, seat int) (Vote, error) {
	s, err := g.roster.Seat(seat)
	if err != nil {
		return Vote{}, err
	}
	if !s.Alive {
		return Vote{Seat: seat, Target: NoTarget, Reasoning: "dead seats cannot vote"}, nil
	}
	extra := map[string]any{"valid_targets": g.validTargets()}
	d, err := g.requestDecision(ctx, s, ActionVote, extra)
	if err != nil {
		return Vote{}, err
	}
	target, _ := d.Int("vote")
	return Vote{Seat: seat, Target: target, Reasoning: d.Rationale()}, nil
}

func (g *Game) voteLedger() []VoteRecord {
	seats := make([]int, 0, len(g.votes))
	for s := range g.votes {
		seats = append(seats, s)
	}
	sort.Ints(seats)
	ledger := make([]VoteRecord, 0, len(seats))
	for _, s := range seats {
		ledger = append(ledger, VoteRecord{Voter: s, Target: g.votes[s]})
	}
	return ledger
}

// TallyDayVote executes the unique most-voted seat. No votes or a tie
// executes nobody; there is no re-vote.
func (g *Game) TallyDayVote() Execution {
	ledger := g.voteLedger()
	targets := make([]int, 0, len(ledger))
	for _, v := range ledger {
		targets = append(targets, v.Target)
	}
	target, tied, counts := plurality(targets)
	out := Execution{Executed: target, Tied: tied, Counts: counts, Ledger: ledger}
	if target == NoTarget {
		log.Printf("Day: vote %v executes nobody (tied=%v)", counts, tied)
		return out
	}

	s, _ := g.roster.Seat(target)
	if !s.Alive {
		log.Printf("Day: seat %d died before the tally, nobody executed", target)
		out.Executed = NoTarget
		return out
	}
	g.history.Append(executeEvent(target, ledger))
	report := g.kill(s, CauseExecution)
	out.HunterRevenge = report.HunterRevenge
	return out
}

// HunterRevenge asks a hunter who died to the wolves or the vote whom to
// shoot. The shot is available once; poison never opens it.
func (g *Game) HunterRevenge(ctx context.Context, seat int, deathReason string) (Revenge, error) {
	s, err := g.roster.Seat(seat)
	if err != nil {
		return Revenge{}, err
	}
	if s.Role != RoleHunter {
		return Revenge{}, fmt.Errorf("%w: seat %d is %s, not %s", ErrWrongRole, seat, s.Role, RoleHunter)
	}
	if g.hunter.used || g.hunter.pendingSeat != seat || s.Alive {
		return Revenge{}, fmt.Errorf("%w: seat %d", ErrRevengeNotPending, seat)
	}
	if deathReason == "" {
		deathReason = string(g.hunter.cause)
	}

	target, d, err := g.decideTarget(ctx, s, ActionHunterRevenge, "attack", map[string]any{"death_reason": deathReason})
	if err != nil {
		return Revenge{}, err
	}
	g.hunter.used = true
	g.hunter.pendingSeat = 0

	out := Revenge{Seat: seat, Attack: NoTarget, Thinking: d.Rationale()}
	if target == NoTarget || target == seat {
		return out, nil
	}
	victim, _ := g.roster.Seat(target)
	g.history.Append(hunterRevengeEvent(seat, target))
	g.kill(victim, CauseHunter)
	out.Attack = target
	return out, nil
}

// RunDayVote has every seat vote in order, then tallies.
func (g *Game) RunDayVote(ctx context.Context) (Execution, error) {
	ctx, span := tracer.Start(ctx, "RunDayVote")
	defer span.End()

	g.ResetVotes()
	for _, s := range g.roster.Seats() {
		if _, err := g.DayVote(ctx, s.Index, nil); err != nil {
			logError(fmt.Sprintf("RunDayVote: seat %d", s.Index), err)
		}
	}
	return g.TallyDayVote(), nil
}
