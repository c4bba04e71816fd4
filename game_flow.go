package main

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Winner is the outcome of the win check.
type Winner string

const (
	WinnerVillagers Winner = "villagers"
	WinnerWolves    Winner = "wolves"
	WinnerUndecided Winner = "undecided"
)

// SeatOutcome reports how a seat was dealt at initialization.
type SeatOutcome struct {
	Seat  int    `json:"seat"`
	Role  Role   `json:"role"`
	Model string `json:"model"`
}

// GameState is the omniscient snapshot returned by State.
type GameState struct {
	PhaseState
	Seats   []Seat     `json:"seats"`
	Winner  Winner     `json:"winner"`
	Witch   WitchUsage `json:"witch"`
	History []Round    `json:"history"`
}

// GameOptions wires a game to its collaborators. Logger and Store may be
// nil.
type GameOptions struct {
	Bind   DeciderFactory
	Retry  RetryPolicy
	Logger *GameLogger
	Store  *Store
	Seed   int64
}

// Game is one 9-seat game. It does no locking: callers must serialize
// operations.
type Game struct {
	roster  *Roster
	phase   *PhaseController
	history *History
	night   nightState
	votes   map[int]int
	witch   WitchUsage
	hunter  hunterState

	winner Winner
	scores *ScoreBoard

	judge      DecisionMaker
	judgeModel string

	bind   DeciderFactory
	retry  RetryPolicy
	logger *GameLogger
	store  *Store
	rng    *rand.Rand

	initialized bool
}

func NewGame(opts GameOptions) *Game {
	if opts.Retry.Attempts == 0 {
		opts.Retry = defaultRetryPolicy()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = newSeed()
	}
	return &Game{
		phase:   newPhaseController(),
		history: newHistory(nil),
		night:   newNightState(),
		votes:   make(map[int]int),
		winner:  WinnerUndecided,
		bind:    opts.Bind,
		retry:   opts.Retry,
		logger:  opts.Logger,
		store:   opts.Store,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Initialized reports whether Initialize has succeeded.
func (g *Game) Initialized() bool {
	return g.initialized
}

// Initialize deals roles, binds decision makers and resets all game state.
// All validation and binding happens before anything is committed.
func (g *Game) Initialize(cfg GameConfig) ([]SeatOutcome, error) {
	if cfg.Seed != 0 {
		g.rng = rand.New(rand.NewSource(cfg.Seed))
	}
	players := cfg.Players
	if len(players) == 0 {
		players = make([]PlayerConfig, SeatCount)
	}
	if len(players) != SeatCount {
		return nil, fmt.Errorf("%w: need %d players, got %d", ErrRoleDistribution, SeatCount, len(players))
	}

	roles := make([]Role, SeatCount)
	switch {
	case cfg.RandomizeRoles:
		copy(roles, standardRoles)
		g.rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })
	case len(cfg.Players) == 0:
		copy(roles, standardRoles)
	default:
		for i, p := range players {
			role, err := ParseRole(p.Role)
			if err != nil {
				return nil, fmt.Errorf("seat %d: %w", i+1, err)
			}
			roles[i] = role
		}
		if err := validateDistribution(roles); err != nil {
			return nil, err
		}
	}

	models := make([]ModelConfig, SeatCount)
	for i, p := range players {
		models[i] = p.ModelConfig
	}
	if cfg.RandomModel && len(cfg.Models) > 0 {
		assignModels(models, cfg.Models, g.rng)
	}

	order := make([]int, SeatCount)
	for i := range order {
		order[i] = i
	}
	if cfg.RandomizePosition {
		g.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	seatRoles := make([]Role, SeatCount)
	seatModels := make([]string, SeatCount)
	deciders := make([]DecisionMaker, SeatCount)
	for seat, from := range order {
		seatRoles[seat] = roles[from]
		seatModels[seat] = models[from].ModelName
		d, err := g.bind(seat+1, models[from])
		if err != nil {
			return nil, fmt.Errorf("seat %d: bind decision maker: %w", seat+1, err)
		}
		deciders[seat] = d
	}

	var judge DecisionMaker
	var judgeModel string
	if jm, ok := judgeConfig(cfg); ok {
		d, err := g.bind(0, jm)
		if err != nil {
			return nil, fmt.Errorf("judge: bind decision maker: %w", err)
		}
		judge, judgeModel = d, jm.ModelName
	}

	g.roster = newRoster(seatRoles, seatModels, deciders)
	g.phase = newPhaseController()
	g.history = newHistory(nil)
	if g.store != nil {
		if err := g.store.BeginSession(uuid.NewString(), time.Now()); err != nil {
			logError("Initialize: store", err)
		}
		g.history = newHistory(g.store)
	}
	g.night = newNightState()
	g.votes = make(map[int]int)
	g.witch = WitchUsage{}
	g.hunter = hunterState{}
	g.winner = WinnerUndecided
	g.scores = nil
	g.judge, g.judgeModel = judge, judgeModel
	g.initialized = true

	g.saveSeats()
	g.logger.Deal(g.roster.Seats())
	outcomes := make([]SeatOutcome, 0, SeatCount)
	for _, s := range g.roster.Seats() {
		outcomes = append(outcomes, SeatOutcome{Seat: s.Index, Role: s.Role, Model: s.Model})
		log.Printf("Initialize: seat %d is %s (%s)", s.Index, s.Role, s.Model)
	}
	return outcomes, nil
}

// judgeConfig picks the MVP judge: the configured judge, else the first
// listed model unless that one is a human seat.
func judgeConfig(cfg GameConfig) (ModelConfig, bool) {
	if cfg.Judge != nil && cfg.Judge.ModelName != "" {
		return *cfg.Judge, true
	}
	if len(cfg.Models) > 0 && cfg.Models[0].ModelName != "" && !strings.EqualFold(cfg.Models[0].ModelName, "human") {
		return cfg.Models[0], true
	}
	return ModelConfig{}, false
}

// newSeed draws a seed from crypto/rand.
func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		logError("newSeed", err)
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// assignModels deals models across seats so that every model is used at
// least once when there are enough seats.
func assignModels(seats []ModelConfig, models []ModelConfig, rng *rand.Rand) {
	for i, seat := range rng.Perm(len(seats)) {
		if i < len(models) {
			seats[seat] = models[i]
		} else {
			seats[seat] = models[rng.Intn(len(models))]
		}
	}
}

// TogglePhase advances the clock and tells the history. Entering night
// clears the wolf ballots; entering day clears the vote ledger.
func (g *Game) TogglePhase() PhaseState {
	state := g.phase.Toggle()
	g.history.ToggleDayNight(state)
	if state.Phase == PhaseNight {
		g.ResetWolfBallots()
	} else {
		g.ResetVotes()
	}
	log.Printf("Phase: day %d %s", state.Day, state.Phase)
	return state
}

// PendingVictim is the kill target of the last wolf tally tonight.
func (g *Game) PendingVictim() int {
	return g.night.killTarget
}

// evaluateWinner applies the win rules in order.
func (g *Game) evaluateWinner() Winner {
	wolves := g.roster.CountLiving(RoleWolf)
	villagers := g.roster.CountLiving(RoleVillager)
	gods := g.roster.CountLiving(RoleSeer, RoleWitch, RoleHunter)
	log.Printf("Win check: %d wolves, %d villagers, %d gods alive", wolves, villagers, gods)

	switch {
	case wolves == 0:
		return WinnerVillagers
	case villagers == 0 || gods == 0:
		return WinnerWolves
	default:
		return WinnerUndecided
	}
}

// CheckWinner evaluates the win rules. The first decisive result is cached
// and triggers scoring exactly once.
func (g *Game) CheckWinner(ctx context.Context) Winner {
	if g.winner != WinnerUndecided {
		return g.winner
	}
	w := g.evaluateWinner()
	if w == WinnerUndecided {
		return w
	}
	g.winner = w
	log.Printf("Game over: %s win", w)
	g.logger.Outcome(g.phase.State(), w)
	g.finishScoring(ctx, w)
	return w
}

// finishScoring computes and caches scores. Any failure is logged and
// leaves the scores absent.
func (g *Game) finishScoring(ctx context.Context, w Winner) {
	defer func() {
		if r := recover(); r != nil {
			logError("finishScoring", fmt.Errorf("panic: %v", r))
			g.scores = nil
		}
	}()

	board, err := newScoreCalculator(g.roster.Seats(), g.history.Rounds()).Calculate(w)
	if err != nil {
		logError("finishScoring", err)
		return
	}
	seat, reason := NoTarget, ""
	switch {
	case g.judge != nil:
		seat, reason = g.selectMVP(ctx, board)
	case len(board.Ranking) > 0:
		seat, reason = board.Ranking[0].Seat, "top of the ranking"
	}
	if seat != NoTarget {
		board = board.WithMVP(seat, reason)
	}
	g.scores = board
	g.saveScores()
	g.logger.Scores(board)
}

// Scores returns the cached scoreboard.
func (g *Game) Scores() (*ScoreBoard, error) {
	if g.scores == nil {
		return nil, ErrScoresUnavailable
	}
	return g.scores, nil
}

// SetMVP replaces the MVP and re-ranks.
func (g *Game) SetMVP(seat int) (*ScoreBoard, error) {
	if !validSeatIndex(seat) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeat, seat)
	}
	if g.scores == nil {
		return nil, ErrScoresUnavailable
	}
	previous := g.scores.MVP
	g.scores = g.scores.WithMVP(seat, "set manually")
	g.saveScores()
	g.logger.MVPUpdate(previous, g.scores)
	return g.scores, nil
}

// SetManualPositions reassigns seats; see Roster.SetManualPositions.
func (g *Game) SetManualPositions(mapping map[int]PlayerConfig) error {
	if err := g.roster.SetManualPositions(mapping, g.bind); err != nil {
		return err
	}
	g.saveSeats()
	return nil
}

// SwapPositions exchanges two seats.
func (g *Game) SwapPositions(a, b int) error {
	if err := g.roster.Swap(a, b); err != nil {
		return err
	}
	g.saveSeats()
	return nil
}

// State returns the omniscient snapshot.
func (g *Game) State() GameState {
	st := GameState{PhaseState: g.phase.State(), Winner: g.winner, Witch: g.witch, History: g.history.Rounds()}
	if g.roster != nil {
		for _, s := range g.roster.Seats() {
			st.Seats = append(st.Seats, *s)
		}
	}
	return st
}

func (g *Game) audit(rec AuditRecord) {
	g.logger.Audit(&rec)
	if g.store != nil {
		if err := g.store.PersistDecision(rec); err != nil {
			logError("audit: persist", err)
		}
	}
}

func (g *Game) saveSeats() {
	if g.store == nil {
		return
	}
	if err := g.store.SaveSeats(g.roster.Seats()); err != nil {
		logError("saveSeats", err)
	}
}

func (g *Game) saveScores() {
	if g.store == nil || g.scores == nil {
		return
	}
	if err := g.store.SaveScores(g.scores); err != nil {
		logError("saveScores", err)
	}
}
