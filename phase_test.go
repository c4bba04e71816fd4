package main

import (
	"testing"
	"testing/quick"
)

func TestPhaseStartsAtNightOne(t *testing.T) {
	p := newPhaseController()
	if got := p.State(); got != (PhaseState{Day: 1, Phase: PhaseNight}) {
		t.Errorf("initial state = %+v, want day 1 night", got)
	}
}

func TestPhaseToggleSequence(t *testing.T) {
	p := newPhaseController()
	want := []PhaseState{
		{Day: 2, Phase: PhaseDay},
		{Day: 2, Phase: PhaseNight},
		{Day: 3, Phase: PhaseDay},
		{Day: 3, Phase: PhaseNight},
	}
	for i, w := range want {
		if got := p.Toggle(); got != w {
			t.Errorf("toggle %d = %+v, want %+v", i+1, got, w)
		}
	}
}

func TestPhaseDayAdvancesOnlyIntoDay(t *testing.T) {
	f := func(n uint8) bool {
		p := newPhaseController()
		for i := 0; i < int(n); i++ {
			p.Toggle()
		}
		st := p.State()
		wantPhase := PhaseNight
		if n%2 == 1 {
			wantPhase = PhaseDay
		}
		return st.Day == 1+(int(n)+1)/2 && st.Phase == wantPhase
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 5}); err != nil {
		t.Error(err)
	}
}

func TestTogglePhaseOpensRoundsAndResets(t *testing.T) {
	tt := newTestTable(t)
	g := tt.game

	if _, err := g.WolfDecideKill(testCtx(), 1, intPtr(7), false, nil); err != nil {
		t.Fatalf("WolfDecideKill: %v", err)
	}
	g.TogglePhase() // day 2
	if len(g.votes) != 0 {
		t.Errorf("votes not reset on entering day: %v", g.votes)
	}
	if _, err := g.DayVote(testCtx(), 7, intPtr(1)); err != nil {
		t.Fatalf("DayVote: %v", err)
	}
	if len(g.night.ballots) != 1 {
		t.Errorf("ballots reset too early: %v", g.night.ballots)
	}

	g.TogglePhase() // night 2
	if len(g.night.ballots) != 0 {
		t.Errorf("ballots not reset on entering night: %v", g.night.ballots)
	}

	rounds := g.history.Rounds()
	if len(rounds) != 2 {
		t.Fatalf("rounds = %d, want 2", len(rounds))
	}
	if rounds[0].Day != 1 || rounds[1].Day != 2 {
		t.Errorf("round days = %d, %d, want 1, 2", rounds[0].Day, rounds[1].Day)
	}
	if len(rounds[0].DayEvents) != 1 || rounds[0].DayEvents[0].Type != EventVote {
		t.Errorf("day vote not in the first round's day bucket: %+v", rounds[0])
	}
}
