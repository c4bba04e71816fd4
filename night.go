package main

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// WolfBallot is one wolf's kill choice for the current night.
type WolfBallot struct {
	Target int    `json:"target"`
	Reason string `json:"reason"`
}

// WolfTally is the outcome of counting the wolf ballots.
type WolfTally struct {
	Target int         `json:"target"`
	Tied   bool        `json:"tied"`
	Counts map[int]int `json:"counts"`
}

// Divination is a seer's result for one seat.
type Divination struct {
	Target    int    `json:"target"`
	Alignment string `json:"alignment"`
}

const (
	AlignmentWolf = "wolf"
	AlignmentGood = "good"
)

// WitchUsage tracks the witch's two one-shot potions. A zero seat means the
// potion was never used; once set the seat never changes.
type WitchUsage struct {
	CureSeat    int `json:"cure_used_on_seat"`
	CureDay     int `json:"cure_day"`
	PoisonSeat  int `json:"poison_used_on_seat"`
	PoisonDay   int `json:"poison_day"`
	cureApplied bool
	poisonDone  bool
}

// WitchDecision is the witch's answer for one night.
type WitchDecision struct {
	Cure       bool   `json:"cure"`
	CureTarget int    `json:"cure_target"`
	Poison     int    `json:"poison"`
	Thinking   string `json:"thinking"`
}

// DeathReport describes a death applied by the engine.
type DeathReport struct {
	Seat          int        `json:"seat"`
	Role          Role       `json:"role"`
	Cause         DeathCause `json:"cause"`
	Cured         bool       `json:"cured,omitempty"`
	HunterRevenge bool       `json:"hunter_revenge"`
}

// NightOutcome summarises a full night run by RunNight.
type NightOutcome struct {
	Divination *Divination   `json:"divination,omitempty"`
	FirstRound WolfTally     `json:"first_round"`
	Second     *WolfTally    `json:"second_round,omitempty"`
	KillTarget int           `json:"kill_target"`
	Witch      WitchDecision `json:"witch"`
	Deaths     []DeathReport `json:"deaths"`
}

// nightState holds the per-night scratch data; it is reset every night.
type nightState struct {
	ballots      map[int]WolfBallot
	firstRound   map[int]WolfBallot
	killTarget   int
	curedTonight int
	wolfDeaths   map[int]bool
}

func newNightState() nightState {
	return nightState{
		ballots:      make(map[int]WolfBallot),
		killTarget:   NoTarget,
		curedTonight: NoTarget,
		wolfDeaths:   make(map[int]bool),
	}
}

// ResetWolfBallots clears the kill ballots before round 1.
func (g *Game) ResetWolfBallots() {
	g.night = newNightState()
}

func (g *Game) livingSeatWithRole(seat int, role Role) (*Seat, error) {
	s, err := g.roster.Seat(seat)
	if err != nil {
		return nil, err
	}
	if s.Role != role {
		return nil, fmt.Errorf("%w: seat %d is %s, not %s", ErrWrongRole, seat, s.Role, role)
	}
	if !s.Alive {
		return nil, fmt.Errorf("%w: seat %d", ErrNotAlive, seat)
	}
	return s, nil
}

// WolfDecideKill records one wolf's ballot. With an explicit target the
// decision maker is not consulted. In the second round each wolf sees the
// first-round ballots, either those passed in or the ballots as they stood
// when round two began.
func (g *Game) WolfDecideKill(ctx context.Context, seat int, explicit *int, secondRound bool, prior map[int]WolfBallot) (WolfBallot, error) {
	s, err := g.livingSeatWithRole(seat, RoleWolf)
	if err != nil {
		return WolfBallot{}, err
	}

	if secondRound && g.night.firstRound == nil {
		g.night.firstRound = make(map[int]WolfBallot, len(g.night.ballots))
		for k, v := range g.night.ballots {
			g.night.firstRound[k] = v
		}
	}

	var ballot WolfBallot
	if explicit != nil {
		ballot.Target = *explicit
		if ballot.Target != NoTarget && !g.roster.IsLiving(ballot.Target) {
			log.Printf("Night: wolf %d named invalid target %d, recording none", seat, ballot.Target)
			ballot.Target = NoTarget
		}
	} else {
		extra := map[string]any{"voting_round": 1}
		if secondRound {
			if prior == nil {
				prior = g.night.firstRound
			}
			extra["voting_round"] = 2
			extra["first_round_results"] = describeBallots(prior)
		}
		target, d, err := g.decideTarget(ctx, s, ActionKill, "kill", extra)
		if err != nil {
			return WolfBallot{}, err
		}
		ballot = WolfBallot{Target: target, Reason: d.Rationale()}
	}

	g.night.ballots[seat] = ballot
	DebugLog("WolfDecideKill", "wolf %d -> %d (round2=%v)", seat, ballot.Target, secondRound)
	return ballot, nil
}

func describeBallots(ballots map[int]WolfBallot) []string {
	seats := make([]int, 0, len(ballots))
	for s := range ballots {
		seats = append(seats, s)
	}
	sort.Ints(seats)
	out := make([]string, 0, len(seats))
	for _, s := range seats {
		b := ballots[s]
		out = append(out, fmt.Sprintf("seat %d wants to kill seat %d: %s", s, b.Target, b.Reason))
	}
	return out
}

// plurality returns the unique most-voted target. Ties and an empty count
// yield NoTarget.
func plurality(targets []int) (target int, tied bool, counts map[int]int) {
	counts = make(map[int]int)
	for _, t := range targets {
		if t != NoTarget {
			counts[t]++
		}
	}
	target = NoTarget
	best := 0
	for t, n := range counts {
		switch {
		case n > best:
			best, target, tied = n, t, false
		case n == best:
			tied = true
		}
	}
	if tied {
		target = NoTarget
	}
	return target, tied, counts
}

// TallyWolfKill resolves the current ballots into the night's kill target.
func (g *Game) TallyWolfKill() WolfTally {
	targets := make([]int, 0, len(g.night.ballots))
	for _, b := range g.night.ballots {
		targets = append(targets, b.Target)
	}
	target, tied, counts := plurality(targets)
	g.night.killTarget = target
	log.Printf("Night: wolf tally %v -> %d (tied=%v)", counts, target, tied)
	return WolfTally{Target: target, Tied: tied, Counts: counts}
}

// SeerDivine asks the seer whom to inspect and reveals the alignment.
// Results are cached on the seat for later prompts.
func (g *Game) SeerDivine(ctx context.Context, seat int) (Divination, error) {
	s, err := g.livingSeatWithRole(seat, RoleSeer)
	if err != nil {
		return Divination{}, err
	}
	target, _, err := g.decideTarget(ctx, s, ActionDivine, "divine", nil)
	if err != nil {
		return Divination{}, err
	}
	if target == NoTarget {
		return Divination{Target: NoTarget}, nil
	}

	div, cached := s.knownAlignment(target)
	if !cached {
		ts, _ := g.roster.Seat(target)
		div = Divination{Target: ts.Index, Alignment: AlignmentGood}
		if ts.Role == RoleWolf {
			div.Alignment = AlignmentWolf
		}
		s.divinations = append(s.divinations, div)
	}
	g.history.Append(divineEvent(s.Index, div.Target, div.Alignment))
	return div, nil
}

// WitchDecide asks the witch about tonight's victim. The cure is offered
// only while unused and only if somebody is about to die; the poison only
// while unused, and never on a victim who dies tonight anyway. Choosing the
// cure consumes it immediately.
func (g *Game) WitchDecide(ctx context.Context, seat int, pendingVictim int) (WitchDecision, error) {
	s, err := g.livingSeatWithRole(seat, RoleWitch)
	if err != nil {
		return WitchDecision{}, err
	}
	tonight := "nobody will be killed tonight"
	if pendingVictim != NoTarget {
		tonight = fmt.Sprintf("seat %d will be killed tonight", pendingVictim)
	}
	d, err := g.requestDecision(ctx, s, ActionCureOrPoison, map[string]any{"tonight": tonight})
	if err != nil {
		return WitchDecision{}, err
	}

	day := g.phase.State().Day
	out := WitchDecision{CureTarget: NoTarget, Poison: NoTarget, Thinking: d.Rationale()}
	if d.Bool("cure") && pendingVictim != NoTarget && g.witch.CureSeat == 0 {
		out.Cure = true
		out.CureTarget = pendingVictim
		g.witch.CureSeat = pendingVictim
		g.witch.CureDay = day
		g.history.Append(witchActionEvent(s.Index, "cure", pendingVictim))
	}
	if p, ok := d.Int("poison"); ok && p != NoTarget {
		switch {
		case g.witch.PoisonSeat != 0:
			log.Printf("Night: witch %d tried to poison %d but the poison is spent", seat, p)
		case !g.roster.IsLiving(p):
			log.Printf("Night: witch %d tried to poison invalid seat %d", seat, p)
		case p == pendingVictim && !out.Cure:
			log.Printf("Night: witch %d tried to poison seat %d, who dies tonight anyway; poison kept", seat, p)
		default:
			out.Poison = p
			g.witch.PoisonSeat = p
			g.witch.PoisonDay = day
			g.history.Append(witchActionEvent(s.Index, "poison", p))
		}
	}
	return out, nil
}

func (g *Game) witchSeat() int {
	if w := g.roster.First(RoleWitch); w != nil {
		return w.Index
	}
	return NoTarget
}

// ResolveKill applies the wolves' kill. A target cured earlier tonight
// survives.
func (g *Game) ResolveKill(target int) (DeathReport, error) {
	s, err := g.roster.Seat(target)
	if err != nil {
		return DeathReport{}, err
	}
	if g.night.curedTonight == target {
		return DeathReport{Seat: target, Role: s.Role, Cause: CauseWolves, Cured: true}, nil
	}
	if !s.Alive {
		return DeathReport{}, fmt.Errorf("%w: seat %d", ErrNotAlive, target)
	}
	return g.kill(s, CauseWolves), nil
}

// ResolvePoison applies the witch's poison. The poison may be used once;
// a target picked by WitchDecide tonight may be resolved once.
func (g *Game) ResolvePoison(target int) (DeathReport, error) {
	s, err := g.roster.Seat(target)
	if err != nil {
		return DeathReport{}, err
	}
	day := g.phase.State().Day
	switch {
	case g.witch.poisonDone:
		return DeathReport{}, fmt.Errorf("%w: already used on seat %d", ErrPoisonUnavailable, g.witch.PoisonSeat)
	case g.witch.PoisonSeat != 0 && (g.witch.PoisonSeat != target || g.witch.PoisonDay != day):
		return DeathReport{}, fmt.Errorf("%w: reserved for seat %d", ErrPoisonUnavailable, g.witch.PoisonSeat)
	case !s.Alive:
		return DeathReport{}, fmt.Errorf("%w: seat %d", ErrNotAlive, target)
	}
	g.witch.PoisonSeat = target
	g.witch.PoisonDay = day
	g.witch.poisonDone = true

	g.history.Append(poisonEvent(g.witchSeat(), target))
	return g.kill(s, CausePoison), nil
}

// ResolveCure applies the witch's cure to target. If target already died to
// the wolves tonight the death is reversed; otherwise a later ResolveKill on
// the same seat tonight is ignored. Either way a Cure event is appended and
// the kill event stays in the log.
func (g *Game) ResolveCure(target int) (DeathReport, error) {
	s, err := g.roster.Seat(target)
	if err != nil {
		return DeathReport{}, err
	}
	day := g.phase.State().Day
	switch {
	case g.witch.cureApplied:
		return DeathReport{}, fmt.Errorf("%w: already used on seat %d", ErrCureUnavailable, g.witch.CureSeat)
	case g.witch.CureSeat != 0 && (g.witch.CureSeat != target || g.witch.CureDay != day):
		return DeathReport{}, fmt.Errorf("%w: already used on seat %d", ErrCureUnavailable, g.witch.CureSeat)
	case !s.Alive && !g.night.wolfDeaths[target]:
		return DeathReport{}, fmt.Errorf("%w: seat %d was not killed by the wolves tonight", ErrCureUnavailable, target)
	}
	g.witch.CureSeat = target
	g.witch.CureDay = day
	g.witch.cureApplied = true
	g.night.curedTonight = target

	if !s.Alive {
		s.Alive = true
		delete(g.night.wolfDeaths, target)
		if g.hunter.pendingSeat == target {
			g.hunter = hunterState{}
		}
	}
	g.history.Append(cureEvent(g.witchSeat(), target))
	log.Printf("Night: seat %d cured", target)
	return DeathReport{Seat: target, Role: s.Role, Cause: CauseWolves, Cured: true}, nil
}

// kill marks s dead and logs it. Kill and execution deaths of the hunter
// open a revenge window.
func (g *Game) kill(s *Seat, cause DeathCause) DeathReport {
	s.Alive = false
	if cause == CauseWolves || cause == CausePoison {
		g.history.Append(killEvent(s.Index, cause))
	}
	if cause == CauseWolves {
		g.night.wolfDeaths[s.Index] = true
	}
	g.logger.Death(g.phase.State(), s, cause)

	report := DeathReport{Seat: s.Index, Role: s.Role, Cause: cause}
	if s.Role == RoleHunter && (cause == CauseWolves || cause == CauseExecution) && !g.hunter.used {
		g.hunter = hunterState{pendingSeat: s.Index, cause: cause}
		report.HunterRevenge = true
	}
	log.Printf("Death: seat %d (%s) by %s", s.Index, s.Role, cause)
	return report
}

// RunNight drives a whole night through the same primitives the single
// operations use: divination, two-round wolf vote, witch, finalization.
func (g *Game) RunNight(ctx context.Context) (NightOutcome, error) {
	ctx, span := tracer.Start(ctx, "RunNight")
	defer span.End()

	g.ResetWolfBallots()
	out := NightOutcome{KillTarget: NoTarget, Witch: WitchDecision{CureTarget: NoTarget, Poison: NoTarget}}

	if seer := g.roster.First(RoleSeer); seer != nil && seer.Alive {
		div, err := g.SeerDivine(ctx, seer.Index)
		if err != nil {
			logError("RunNight: divine", err)
		} else {
			out.Divination = &div
		}
	}

	wolves := g.livingIndices(RoleWolf)
	for _, w := range wolves {
		if _, err := g.WolfDecideKill(ctx, w, nil, false, nil); err != nil {
			logError(fmt.Sprintf("RunNight: wolf %d round 1", w), err)
		}
	}
	out.FirstRound = g.TallyWolfKill()
	out.KillTarget = out.FirstRound.Target
	if out.FirstRound.Tied {
		for _, w := range wolves {
			if _, err := g.WolfDecideKill(ctx, w, nil, true, nil); err != nil {
				logError(fmt.Sprintf("RunNight: wolf %d round 2", w), err)
			}
		}
		second := g.TallyWolfKill()
		out.Second = &second
		out.KillTarget = second.Target
	}

	if witch := g.roster.First(RoleWitch); witch != nil && witch.Alive {
		wd, err := g.WitchDecide(ctx, witch.Index, out.KillTarget)
		if err != nil {
			logError("RunNight: witch", err)
		} else {
			out.Witch = wd
		}
	}

	if out.KillTarget != NoTarget {
		if out.Witch.Cure {
			if _, err := g.ResolveCure(out.KillTarget); err != nil {
				logError("RunNight: cure", err)
			}
		} else if report, err := g.ResolveKill(out.KillTarget); err != nil {
			logError("RunNight: kill", err)
		} else {
			out.Deaths = append(out.Deaths, report)
		}
	}
	if out.Witch.Poison != NoTarget {
		if report, err := g.ResolvePoison(out.Witch.Poison); err != nil {
			logError("RunNight: poison", err)
		} else {
			out.Deaths = append(out.Deaths, report)
		}
	}
	return out, nil
}

func (g *Game) livingIndices(role Role) []int {
	var out []int
	for _, s := range g.roster.WithRole(role) {
		if s.Alive {
			out = append(out, s.Index)
		}
	}
	return out
}
