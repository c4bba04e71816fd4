package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
)

// Server exposes every engine operation as a JSON endpoint.
type Server struct {
	session     *Session
	hub         *Hub
	defaultGame GameConfig
}

func newServer(session *Session, hub *Hub, defaultGame GameConfig) *Server {
	return &Server{session: session, hub: hub, defaultGame: defaultGame}
}

// opRequest is the union of all operation payloads. Each operation reads
// the fields it needs.
type opRequest struct {
	Seat          int                  `json:"seat"`
	Target        *int                 `json:"target"`
	SecondRound   bool                 `json:"second_round"`
	Prior         map[int]WolfBallot   `json:"prior"`
	PendingVictim *int                 `json:"pending_victim"`
	Content       string               `json:"content"`
	DeathReason   string               `json:"death_reason"`
	A             int                  `json:"a"`
	B             int                  `json:"b"`
	Positions     map[int]PlayerConfig `json:"positions"`
}

func (r opRequest) target() (int, error) {
	if r.Target == nil {
		return 0, fmt.Errorf("%w: target is required", ErrBadRequest)
	}
	return *r.Target, nil
}

// WinnerResult is the answer of check_winner.
type WinnerResult struct {
	Winner Winner      `json:"winner"`
	Scores *ScoreBoard `json:"scores"`
}

type opFunc func(ctx context.Context, g *Game, req opRequest) (any, error)

func (s *Server) routes(logger *AppLogger) http.Handler {
	mux := http.NewServeMux()

	wrapHandler := func(pattern string, handler http.Handler) {
		h := compress(handler)
		h = disableCaching(h)
		mux.Handle(pattern, h)
	}

	wrapHandler("POST /api/initialize", http.HandlerFunc(s.handleInitialize))
	ops := []struct {
		pattern string
		name    string
		fn      opFunc
	}{
		{"POST /api/toggle_phase", "toggle_phase", opTogglePhase},
		{"POST /api/wolf_decide_kill", "wolf_decide_kill", opWolfDecideKill},
		{"POST /api/tally_wolf_kill", "tally_wolf_kill", opTallyWolfKill},
		{"POST /api/resolve_kill", "resolve_kill", opResolveKill},
		{"POST /api/resolve_poison", "resolve_poison", opResolvePoison},
		{"POST /api/resolve_cure", "resolve_cure", opResolveCure},
		{"POST /api/seer_divine", "seer_divine", opSeerDivine},
		{"POST /api/witch_decide", "witch_decide", opWitchDecide},
		{"POST /api/speak", "speak", opSpeak},
		{"POST /api/last_words", "last_words", opLastWords},
		{"POST /api/day_vote", "day_vote", opDayVote},
		{"POST /api/decide_vote", "decide_vote", opDecideVote},
		{"POST /api/tally_day_vote", "tally_day_vote", opTallyDayVote},
		{"POST /api/hunter_revenge", "hunter_revenge", opHunterRevenge},
		{"POST /api/check_winner", "check_winner", opCheckWinner},
		{"GET /api/scores", "get_scores", opGetScores},
		{"POST /api/set_mvp", "set_mvp", opSetMVP},
		{"POST /api/set_manual_positions", "set_manual_positions", opSetManualPositions},
		{"POST /api/swap_positions", "swap_positions", opSwapPositions},
		{"POST /api/run_night", "run_night", opRunNight},
		{"POST /api/run_day_vote", "run_day_vote", opRunDayVote},
		{"GET /api/state", "state", opState},
	}
	for _, op := range ops {
		wrapHandler(op.pattern, s.operation(op.name, op.fn))
	}
	mux.Handle("GET /ws", disableCaching(http.HandlerFunc(s.hub.handleWebSocket)))

	if logger != nil && logger.logRequests {
		return &LoggingHandler{Handler: mux, Logger: logger}
	}
	return mux
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	cfg := s.defaultGame
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	raw, err := s.session.Do(r.Context(), "initialize", func(ctx context.Context) (any, error) {
		seats, err := s.session.game.Initialize(cfg)
		if err != nil {
			return nil, err
		}
		return map[string]any{"seats": seats}, nil
	})
	writeResult(w, raw, err)
}

// operation adapts an opFunc to HTTP: decode, run through the session, write.
func (s *Server) operation(name string, fn opFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req opRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		raw, err := s.session.Do(r.Context(), name, func(ctx context.Context) (any, error) {
			g := s.session.game
			if !g.Initialized() && name != "state" {
				return nil, ErrNotInitialized
			}
			return fn(ctx, g, req)
		})
		writeResult(w, raw, err)
	}
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func writeResult(w http.ResponseWriter, raw json.RawMessage, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logError("http", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var replayed *replayedError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &replayed):
		return replayed.status
	case isConfigurationError(err), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrScoresUnavailable):
		return http.StatusNotFound
	case errors.Is(err, ErrWrongRole), errors.Is(err, ErrNotAlive),
		errors.Is(err, ErrCureUnavailable), errors.Is(err, ErrPoisonUnavailable),
		errors.Is(err, ErrRevengeNotPending), errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrReplayMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrReplayExhausted):
		return http.StatusGone
	case errors.Is(err, ErrDecisionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func opTogglePhase(_ context.Context, g *Game, _ opRequest) (any, error) {
	return g.TogglePhase(), nil
}

func opWolfDecideKill(ctx context.Context, g *Game, req opRequest) (any, error) {
	return g.WolfDecideKill(ctx, req.Seat, req.Target, req.SecondRound, req.Prior)
}

func opTallyWolfKill(_ context.Context, g *Game, _ opRequest) (any, error) {
	return g.TallyWolfKill(), nil
}

func opResolveKill(_ context.Context, g *Game, req opRequest) (any, error) {
	t, err := req.target()
	if err != nil {
		return nil, err
	}
	return g.ResolveKill(t)
}

func opResolvePoison(_ context.Context, g *Game, req opRequest) (any, error) {
	t, err := req.target()
	if err != nil {
		return nil, err
	}
	return g.ResolvePoison(t)
}

func opResolveCure(_ context.Context, g *Game, req opRequest) (any, error) {
	t, err := req.target()
	if err != nil {
		return nil, err
	}
	return g.ResolveCure(t)
}

func opSeerDivine(ctx context.Context, g *Game, req opRequest) (any, error) {
	return g.SeerDivine(ctx, req.Seat)
}

func opWitchDecide(ctx context.Context, g *Game, req opRequest) (any, error) {
	victim := g.PendingVictim()
	if req.PendingVictim != nil {
		victim = *req.PendingVictim
	}
	return g.WitchDecide(ctx, req.Seat, victim)
}

func opSpeak(ctx context.Context, g *Game, req opRequest) (any, error) {
	return g.Speak(ctx, req.Seat, req.Content)
}

func opLastWords(ctx context.Context, g *Game, req opRequest) (any, error) {
	return g.LastWords(ctx, req.Seat, req.Content, req.DeathReason)
}

func opDayVote(ctx context.Context, g *Game, req opRequest) (any, error) {
	return g.DayVote(ctx, req.Seat, req.Target)
}

func opDecideVote(ctx context.Context, g *Game, req opRequest) (any, error) {
	return g.DecideVote(ctx, req.Seat)
}

func opTallyDayVote(_ context.Context, g *Game, _ opRequest) (any, error) {
	return g.TallyDayVote(), nil
}

func opHunterRevenge(ctx context.Context, g *Game, req opRequest) (any, error) {
	return g.HunterRevenge(ctx, req.Seat, req.DeathReason)
}

func opCheckWinner(ctx context.Context, g *Game, _ opRequest) (any, error) {
	w := g.CheckWinner(ctx)
	board, err := g.Scores()
	if err != nil && w != WinnerUndecided {
		log.Printf("check_winner: %s won but scores are unavailable", w)
	}
	return WinnerResult{Winner: w, Scores: board}, nil
}

func opGetScores(_ context.Context, g *Game, _ opRequest) (any, error) {
	return g.Scores()
}

func opSetMVP(_ context.Context, g *Game, req opRequest) (any, error) {
	return g.SetMVP(req.Seat)
}

func opSetManualPositions(_ context.Context, g *Game, req opRequest) (any, error) {
	if len(req.Positions) == 0 {
		return nil, fmt.Errorf("%w: positions is required", ErrBadRequest)
	}
	if err := g.SetManualPositions(req.Positions); err != nil {
		return nil, err
	}
	return g.State().Seats, nil
}

func opSwapPositions(_ context.Context, g *Game, req opRequest) (any, error) {
	if err := g.SwapPositions(req.A, req.B); err != nil {
		return nil, err
	}
	return g.State().Seats, nil
}

func opRunNight(ctx context.Context, g *Game, _ opRequest) (any, error) {
	return g.RunNight(ctx)
}

func opRunDayVote(ctx context.Context, g *Game, _ opRequest) (any, error) {
	return g.RunDayVote(ctx)
}

func opState(_ context.Context, g *Game, _ opRequest) (any, error) {
	return g.State(), nil
}
