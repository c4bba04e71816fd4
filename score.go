package main

import (
	"fmt"
	"sort"
)

const (
	campWinPoints      = 10
	contributionPoints = 5
	villagerVotePoints = 3
	mvpPoints          = 5
)

// Contribution is one line of a seat's score breakdown.
type Contribution struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
	Detail string `json:"detail"`
}

// PlayerScore is the derived score of one seat.
type PlayerScore struct {
	Seat              int            `json:"seat"`
	Role              Role           `json:"role"`
	Alive             bool           `json:"alive"`
	CampScore         int            `json:"camp_score"`
	ContributionScore int            `json:"contribution_score"`
	MVPScore          int            `json:"mvp_score"`
	Total             int            `json:"total"`
	Contributions     []Contribution `json:"contributions"`
}

// ScoreBoard is the cached post-game scoring.
type ScoreBoard struct {
	Winner    Winner        `json:"winner"`
	MVP       int           `json:"mvp"`
	MVPReason string        `json:"mvp_reason,omitempty"`
	Players   []PlayerScore `json:"players"`
	Ranking   []PlayerScore `json:"ranking"`
}

// ScoreCalculator derives scores from the roster and the full history.
type ScoreCalculator struct {
	roles  map[int]Role
	alive  map[int]bool
	rounds []Round
}

func newScoreCalculator(seats []*Seat, rounds []Round) *ScoreCalculator {
	c := &ScoreCalculator{roles: make(map[int]Role), alive: make(map[int]bool), rounds: rounds}
	for _, s := range seats {
		c.roles[s.Index] = s.Role
		c.alive[s.Index] = s.Alive
	}
	return c
}

func (c *ScoreCalculator) role(seat int) (Role, error) {
	r, ok := c.roles[seat]
	if !ok {
		return "", fmt.Errorf("%w: history references seat %d", ErrInvalidSeat, seat)
	}
	return r, nil
}

// Calculate scores every seat for winner with no MVP set.
func (c *ScoreCalculator) Calculate(winner Winner) (*ScoreBoard, error) {
	players := make(map[int]*PlayerScore, len(c.roles))
	for seat, role := range c.roles {
		ps := &PlayerScore{Seat: seat, Role: role, Alive: c.alive[seat]}
		if string(role.Camp()) == string(winner) {
			ps.CampScore = campWinPoints
		}
		players[seat] = ps
	}
	credit := func(role Role, rule, detail string) {
		for _, ps := range players {
			if ps.Role == role {
				ps.Contributions = append(ps.Contributions, Contribution{Rule: rule, Points: contributionPoints, Detail: detail})
			}
		}
	}

	var seerFound, witchCured, witchPoisoned, hunterHit, wolvesHitGod bool
	for _, r := range c.rounds {
		cured := make(map[int]bool)
		for _, ev := range r.NightEvents {
			if ev.Type == EventCure {
				cured[ev.Target] = true
			}
		}
		events := append(append([]RoundEvent{}, r.NightEvents...), r.DayEvents...)
		for i, ev := range events {
			night := i < len(r.NightEvents)
			switch ev.Type {
			case EventDivine:
				role, err := c.role(ev.Target)
				if err != nil {
					return nil, err
				}
				if role == RoleWolf && !seerFound {
					seerFound = true
					credit(RoleSeer, "seer_found_wolf", fmt.Sprintf("divined wolf at seat %d", ev.Target))
				}
			case EventCure:
				role, err := c.role(ev.Target)
				if err != nil {
					return nil, err
				}
				if role.IsGod() && !witchCured {
					witchCured = true
					credit(RoleWitch, "witch_cured_god", fmt.Sprintf("cured %s at seat %d", role, ev.Target))
				}
			case EventPoison:
				role, err := c.role(ev.Target)
				if err != nil {
					return nil, err
				}
				if role == RoleWolf && !witchPoisoned {
					witchPoisoned = true
					credit(RoleWitch, "witch_poisoned_wolf", fmt.Sprintf("poisoned wolf at seat %d", ev.Target))
				}
			case EventHunterRevenge:
				role, err := c.role(ev.Target)
				if err != nil {
					return nil, err
				}
				if role == RoleWolf && !hunterHit {
					hunterHit = true
					credit(RoleHunter, "hunter_shot_wolf", fmt.Sprintf("shot wolf at seat %d", ev.Target))
				}
			case EventKill:
				if !night || ev.Cause != CauseWolves || cured[ev.Target] {
					continue
				}
				role, err := c.role(ev.Target)
				if err != nil {
					return nil, err
				}
				if role.IsGod() && !wolvesHitGod {
					wolvesHitGod = true
					credit(RoleWolf, "wolves_killed_god", fmt.Sprintf("killed %s at seat %d", role, ev.Target))
				}
			case EventExecute:
				role, err := c.role(ev.Target)
				if err != nil {
					return nil, err
				}
				if role != RoleWolf {
					continue
				}
				for _, v := range ev.Ledger {
					if v.Target != ev.Target {
						continue
					}
					voter, ok := players[v.Voter]
					if !ok || voter.Role != RoleVillager {
						continue
					}
					voter.Contributions = append(voter.Contributions, Contribution{
						Rule:   "villager_voted_wolf",
						Points: villagerVotePoints,
						Detail: fmt.Sprintf("voted out wolf at seat %d on day %d", ev.Target, r.Day),
					})
				}
			}
		}
	}

	board := &ScoreBoard{Winner: winner, Players: make([]PlayerScore, 0, len(players))}
	for seat := 1; seat <= SeatCount; seat++ {
		ps, ok := players[seat]
		if !ok {
			continue
		}
		for _, ct := range ps.Contributions {
			ps.ContributionScore += ct.Points
		}
		board.Players = append(board.Players, *ps)
	}
	board.rank()
	return board, nil
}

// WithMVP returns a copy of the board with seat as MVP. Only MVP scores,
// totals and the ranking change.
func (b *ScoreBoard) WithMVP(seat int, reason string) *ScoreBoard {
	out := &ScoreBoard{Winner: b.Winner, MVP: seat, MVPReason: reason, Players: make([]PlayerScore, len(b.Players))}
	copy(out.Players, b.Players)
	for i := range out.Players {
		out.Players[i].MVPScore = 0
		if out.Players[i].Seat == seat {
			out.Players[i].MVPScore = mvpPoints
		}
	}
	out.rank()
	return out
}

func (b *ScoreBoard) rank() {
	for i := range b.Players {
		p := &b.Players[i]
		p.Total = p.CampScore + p.ContributionScore + p.MVPScore
	}
	b.Ranking = make([]PlayerScore, len(b.Players))
	copy(b.Ranking, b.Players)
	sort.SliceStable(b.Ranking, func(i, j int) bool {
		return b.Ranking[i].Total > b.Ranking[j].Total
	})
}
