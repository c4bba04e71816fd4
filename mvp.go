package main

import (
	"context"
	"fmt"
	"log"
)

// selectMVP asks the judge to name the MVP from the full history and the
// base ranking. A failed or out-of-range answer falls back to the top of the
// ranking.
func (g *Game) selectMVP(ctx context.Context, board *ScoreBoard) (int, string) {
	fallback := NoTarget
	if len(board.Ranking) > 0 {
		fallback = board.Ranking[0].Seat
	}

	ranking := make([]string, 0, len(board.Ranking))
	for _, p := range board.Ranking {
		ranking = append(ranking, fmt.Sprintf("seat %d (%s): %d points", p.Seat, p.Role, p.Total))
	}
	state := g.phase.State()
	p := Prompt{
		Kind:    ActionMVP,
		Seat:    0,
		Role:    "judge",
		Day:     state.Day,
		Phase:   state.Phase,
		Players: g.playerStates(),
		History: g.history.Lines(nil),
		Extra: map[string]any{
			"winner":  string(board.Winner),
			"ranking": ranking,
		},
		RequiredFields: requiredFields[ActionMVP],
	}

	d, err := g.callDecider(ctx, g.judge, g.judgeModel, p)
	if err != nil {
		logError("selectMVP", err)
		return fallback, "top of the ranking"
	}
	seat, ok := d.Int("mvp_seat")
	if !ok || !validSeatIndex(seat) {
		log.Printf("MVP: judge named invalid seat %v, using seat %d", d["mvp_seat"], fallback)
		return fallback, "top of the ranking"
	}
	reason := d.String("reason")
	if reason == "" {
		reason = d.Rationale()
	}
	return seat, reason
}
