package main

import (
	"errors"
	"testing"
)

func dayTable(t *testing.T) *testTable {
	tt := newTestTable(t)
	tt.game.TogglePhase()
	return tt
}

func TestDeadSeatAbstainsWithoutBeingAsked(t *testing.T) {
	tt := dayTable(t)
	tt.killSeats(9)

	v, err := tt.game.DayVote(testCtx(), 9, nil)
	if err != nil {
		t.Fatalf("DayVote: %v", err)
	}
	if v.Target != NoTarget {
		t.Errorf("dead seat voted for %d", v.Target)
	}
	if tt.deciders[9].callCount(ActionVote) != 0 {
		t.Error("dead seat was asked to vote")
	}
	if got, ok := tt.game.votes[9]; !ok || got != NoTarget {
		t.Errorf("ledger entry = %d, %v", got, ok)
	}
}

func TestDayVoteExplicitInvalidTargetIsRedecided(t *testing.T) {
	tests := []struct {
		name    string
		answer  Decision
		want    int
		reasons string
	}{
		{"valid second choice", Decision{"vote": 2, "thinking": "fine, seat 2"}, 2, "fine, seat 2"},
		{"invalid again", Decision{"vote": 9}, NoTarget, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tt := dayTable(t)
			tt.killSeats(9)
			tt.script(7, ActionVote, tc.answer)

			v, err := tt.game.DayVote(testCtx(), 7, intPtr(9))
			if err != nil {
				t.Fatalf("DayVote: %v", err)
			}
			if v.Target != tc.want || v.Reasoning != tc.reasons {
				t.Errorf("vote = %+v, want target %d", v, tc.want)
			}
			if n := tt.deciders[7].callCount(ActionVote); n != 1 {
				t.Errorf("re-decisions = %d, want 1", n)
			}
			extra := tt.deciders[7].lastCall().Extra
			valid, ok := extra["valid_targets"].([]int)
			if !ok || len(valid) != 7 {
				t.Errorf("valid targets = %v, want the 7 other living seats", extra["valid_targets"])
			}
			for _, seat := range valid {
				if seat == 7 || seat == 9 {
					t.Errorf("valid targets %v offer seat %d", valid, seat)
				}
			}
			if extra["previous_choice_invalid"] == nil {
				t.Error("re-decision prompt does not name the invalid choice")
			}
			votes := tt.eventsOfType(EventVote)
			if len(votes) != 1 || votes[0].Target != tc.want || votes[0].Actor != 7 {
				t.Errorf("vote events = %+v", votes)
			}
		})
	}
}

func TestDayVoteExplicitValidTargetSkipsDecider(t *testing.T) {
	tt := dayTable(t)
	v, err := tt.game.DayVote(testCtx(), 7, intPtr(NoTarget))
	if err != nil || v.Target != NoTarget {
		t.Fatalf("abstain = %+v, %v", v, err)
	}
	if n := tt.deciders[7].callCount(ActionVote); n != 0 {
		t.Errorf("decider asked %d times for an explicit abstain", n)
	}
}

func TestDayVoteRedecision(t *testing.T) {
	tt := dayTable(t)
	tt.script(7, ActionVote, Decision{"vote": 12}, Decision{"vote": 2, "thinking": "too quiet"})

	v, err := tt.game.DayVote(testCtx(), 7, nil)
	if err != nil {
		t.Fatalf("DayVote: %v", err)
	}
	if v.Target != 2 || v.Reasoning != "too quiet" {
		t.Errorf("vote = %+v", v)
	}

	tt.script(8, ActionVote, Decision{"vote": 12}, Decision{"vote": 13})
	v, _ = tt.game.DayVote(testCtx(), 8, nil)
	if v.Target != NoTarget {
		t.Errorf("second invalid answer recorded as %d", v.Target)
	}
}

func TestDayVoteDecisionFailure(t *testing.T) {
	tt := dayTable(t)
	tt.deciders[7].fail = true

	if _, err := tt.game.DayVote(testCtx(), 7, nil); !errors.Is(err, ErrDecisionFailed) {
		t.Fatalf("err = %v, want ErrDecisionFailed", err)
	}
	if _, ok := tt.game.votes[7]; ok {
		t.Error("failed decision left a vote")
	}
	if len(tt.eventsOfType(EventVote)) != 0 {
		t.Error("failed decision left a vote event")
	}
}

func castVotes(t *testing.T, tt *testTable, votes map[int]int) {
	t.Helper()
	for seat := 1; seat <= SeatCount; seat++ {
		target, ok := votes[seat]
		if !ok {
			continue
		}
		if _, err := tt.game.DayVote(testCtx(), seat, intPtr(target)); err != nil {
			t.Fatalf("DayVote(%d): %v", seat, err)
		}
	}
}

func TestTallyDayVoteExecutesPlurality(t *testing.T) {
	tt := dayTable(t)
	castVotes(t, tt, map[int]int{1: 7, 2: 7, 3: 7, 4: 1, 5: 1, 6: NoTarget, 7: 1, 8: 1, 9: 2})

	ex := tt.game.TallyDayVote()
	if ex.Executed != 1 || ex.Tied {
		t.Fatalf("execution = %+v, want seat 1", ex)
	}
	if tt.seat(1).Alive {
		t.Error("executed seat still alive")
	}
	if len(ex.Ledger) != 9 || ex.Ledger[0].Voter != 1 || ex.Ledger[5].Target != NoTarget {
		t.Errorf("ledger = %+v", ex.Ledger)
	}

	executes := tt.eventsOfType(EventExecute)
	if len(executes) != 1 || executes[0].Target != 1 || len(executes[0].Ledger) != 9 {
		t.Errorf("execute events = %+v", executes)
	}
	if len(tt.eventsOfType(EventKill)) != 0 {
		t.Error("execution appended a kill event")
	}
}

func TestTallyDayVoteTieExecutesNobody(t *testing.T) {
	tt := dayTable(t)
	castVotes(t, tt, map[int]int{1: 7, 2: 7, 7: 1, 8: 1, 9: NoTarget})

	ex := tt.game.TallyDayVote()
	if ex.Executed != NoTarget || !ex.Tied {
		t.Errorf("execution = %+v, want a tie", ex)
	}
	if len(tt.game.roster.Living()) != SeatCount {
		t.Error("a tie killed somebody")
	}
	if len(tt.eventsOfType(EventExecute)) != 0 {
		t.Error("a tie appended an execute event")
	}
}

func TestTallyDayVoteWithoutVotes(t *testing.T) {
	tt := dayTable(t)
	ex := tt.game.TallyDayVote()
	if ex.Executed != NoTarget || ex.Tied {
		t.Errorf("execution = %+v", ex)
	}
}

func TestExecutedHunterTakesRevenge(t *testing.T) {
	tt := dayTable(t)
	castVotes(t, tt, map[int]int{1: 6, 2: 6, 3: 6, 7: 1})

	ex := tt.game.TallyDayVote()
	if ex.Executed != 6 || !ex.HunterRevenge {
		t.Fatalf("execution = %+v, want hunter with revenge", ex)
	}

	tt.script(6, ActionHunterRevenge, Decision{"attack": 1, "thinking": "seat 1 pushed the vote"})
	rv, err := tt.game.HunterRevenge(testCtx(), 6, "")
	if err != nil {
		t.Fatalf("HunterRevenge: %v", err)
	}
	if rv.Attack != 1 || tt.seat(1).Alive {
		t.Errorf("revenge = %+v, seat 1 alive=%v", rv, tt.seat(1).Alive)
	}
	if got := tt.deciders[6].lastCall().Extra["death_reason"]; got != "execution" {
		t.Errorf("death_reason = %v", got)
	}
	shots := tt.eventsOfType(EventHunterRevenge)
	if len(shots) != 1 || shots[0].Actor != 6 || shots[0].Target != 1 {
		t.Errorf("revenge events = %+v", shots)
	}

	if _, err := tt.game.HunterRevenge(testCtx(), 6, ""); !errors.Is(err, ErrRevengeNotPending) {
		t.Errorf("second shot err = %v, want ErrRevengeNotPending", err)
	}
}

func TestHunterRevengeHoldFire(t *testing.T) {
	tt := newTestTable(t)
	if _, err := tt.game.ResolveKill(6); err != nil {
		t.Fatalf("ResolveKill: %v", err)
	}
	tt.script(6, ActionHunterRevenge, Decision{"attack": -1})

	rv, err := tt.game.HunterRevenge(testCtx(), 6, "killed at night")
	if err != nil {
		t.Fatalf("HunterRevenge: %v", err)
	}
	if rv.Attack != NoTarget || len(tt.game.roster.Living()) != SeatCount-1 {
		t.Errorf("revenge = %+v", rv)
	}
	if len(tt.eventsOfType(EventHunterRevenge)) != 0 {
		t.Error("holding fire appended a revenge event")
	}
}

func TestHunterRevengeRequiresHunter(t *testing.T) {
	tt := newTestTable(t)
	tt.killSeats(7)
	if _, err := tt.game.HunterRevenge(testCtx(), 7, ""); !errors.Is(err, ErrWrongRole) {
		t.Errorf("err = %v, want ErrWrongRole", err)
	}
	if _, err := tt.game.HunterRevenge(testCtx(), 6, ""); !errors.Is(err, ErrRevengeNotPending) {
		t.Errorf("living hunter err = %v, want ErrRevengeNotPending", err)
	}
}

func TestSpeakAndLastWords(t *testing.T) {
	tt := dayTable(t)

	sp, err := tt.game.Speak(testCtx(), 7, "I am a villager")
	if err != nil || sp.Speak != "I am a villager" {
		t.Fatalf("Speak = %+v, %v", sp, err)
	}
	if tt.deciders[7].callCount(ActionSpeak) != 0 {
		t.Error("explicit speech consulted the decision maker")
	}

	tt.script(8, ActionSpeak, Decision{"speak": "seat 1 is odd", "thinking": "bluff"})
	sp, _ = tt.game.Speak(testCtx(), 8, "")
	if sp.Speak != "seat 1 is odd" || sp.Thinking != "bluff" {
		t.Errorf("decided speech = %+v", sp)
	}

	tt.killSeats(9)
	if _, err := tt.game.Speak(testCtx(), 9, "boo"); !errors.Is(err, ErrNotAlive) {
		t.Errorf("dead speech err = %v, want ErrNotAlive", err)
	}
	tt.script(9, ActionLastWord, Decision{"speak": "trust seat 4"})
	lw, err := tt.game.LastWords(testCtx(), 9, "", "executed")
	if err != nil || lw.Speak != "trust seat 4" {
		t.Errorf("LastWords = %+v, %v", lw, err)
	}
	if got := tt.deciders[9].lastCall().Extra["reason"]; got != "executed" {
		t.Errorf("last words reason = %v", got)
	}

	if n := len(tt.eventsOfType(EventSpeak)); n != 2 {
		t.Errorf("speak events = %d, want 2", n)
	}
	if n := len(tt.eventsOfType(EventLastWord)); n != 1 {
		t.Errorf("last word events = %d, want 1", n)
	}
}

func TestDecideVoteRecordsNothing(t *testing.T) {
	tt := dayTable(t)
	tt.script(7, ActionVote, Decision{"vote": 3})

	v, err := tt.game.DecideVote(testCtx(), 7)
	if err != nil || v.Target != 3 {
		t.Fatalf("DecideVote = %+v, %v", v, err)
	}
	if len(tt.game.votes) != 0 || len(tt.eventsOfType(EventVote)) != 0 {
		t.Error("DecideVote recorded a vote")
	}
}

func TestRunDayVote(t *testing.T) {
	tt := dayTable(t)
	for seat := 1; seat <= SeatCount; seat++ {
		target := 1
		if seat <= 3 {
			target = 7
		}
		tt.script(seat, ActionVote, Decision{"vote": target})
	}

	ex, err := tt.game.RunDayVote(testCtx())
	if err != nil {
		t.Fatalf("RunDayVote: %v", err)
	}
	if ex.Executed != 1 || ex.Counts[1] != 6 || ex.Counts[7] != 3 {
		t.Errorf("execution = %+v", ex)
	}
}
