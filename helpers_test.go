package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
)

// TestLogger routes debug output through testing.T so it shows up with -v.
type TestLogger struct {
	*AppLogger
	t *testing.T
}

// NewTestLogger creates a test logger from environment variables
func NewTestLogger(t *testing.T) *TestLogger {
	al, err := NewAppLogger(LogConfig{
		OutputDir:   os.Getenv("TEST_OUTPUT_DIR"),
		LogRequests: os.Getenv("TEST_LOG_REQUESTS") == "1",
		LogDB:       os.Getenv("TEST_LOG_DB") == "1",
		LogWS:       os.Getenv("TEST_LOG_WS") == "1",
		Debug:       os.Getenv("TEST_DEBUG") == "1",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return &TestLogger{AppLogger: al, t: t}
}

// Debug logs a debug message using testing.T.Logf
func (tl *TestLogger) Debug(format string, args ...any) {
	if !tl.debug {
		return
	}
	tl.t.Logf("[DEBUG] "+format, args...)
}

var errScripted = errors.New("scripted failure")

// scriptedDecider answers from a per-kind queue. Once a queue is drained its
// last answer repeats until more answers are queued.
type scriptedDecider struct {
	mu      sync.Mutex
	answers map[ActionKind][]Decision
	repeat  map[ActionKind]Decision
	fail    bool
	calls   []Prompt
}

func newScriptedDecider() *scriptedDecider {
	return &scriptedDecider{
		answers: make(map[ActionKind][]Decision),
		repeat:  make(map[ActionKind]Decision),
	}
}

func (d *scriptedDecider) Decide(_ context.Context, p Prompt) (Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, p)
	if d.fail {
		return nil, errScripted
	}
	q := d.answers[p.Kind]
	if len(q) == 0 {
		if ans, ok := d.repeat[p.Kind]; ok {
			return ans, nil
		}
		return nil, fmt.Errorf("no scripted answer for %s", p.Kind)
	}
	d.answers[p.Kind] = q[1:]
	d.repeat[p.Kind] = q[0]
	return q[0], nil
}

func (d *scriptedDecider) callCount(kind ActionKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.calls {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

func (d *scriptedDecider) lastCall() Prompt {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return Prompt{}
	}
	return d.calls[len(d.calls)-1]
}

// testTable is an initialized game in the standard seating: wolves at 1-3,
// seer 4, witch 5, hunter 6, villagers 7-9. Seat 0 is the judge when one was
// configured.
type testTable struct {
	t        *testing.T
	logger   *TestLogger
	game     *Game
	deciders map[int]*scriptedDecider
}

func scriptedFactory(deciders map[int]*scriptedDecider) DeciderFactory {
	return func(seat int, _ ModelConfig) (DecisionMaker, error) {
		d := newScriptedDecider()
		deciders[seat] = d
		return d, nil
	}
}

func newTestTable(t *testing.T) *testTable {
	return newTestTableWith(t, GameConfig{}, nil)
}

func newTestTableWithJudge(t *testing.T) *testTable {
	return newTestTableWith(t, GameConfig{Judge: &ModelConfig{ModelName: "judge"}}, nil)
}

func newTestTableWith(t *testing.T, cfg GameConfig, store *Store) *testTable {
	tt := &testTable{t: t, logger: NewTestLogger(t), deciders: make(map[int]*scriptedDecider)}
	tt.game = NewGame(GameOptions{
		Bind:  scriptedFactory(tt.deciders),
		Retry: RetryPolicy{Attempts: 2},
		Store: store,
		Seed:  1,
	})
	if _, err := tt.game.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	tt.logger.Debug("table ready: %v", tt.game.roster.Roles())
	return tt
}

// script queues answers for seat's decider.
func (tt *testTable) script(seat int, kind ActionKind, answers ...Decision) {
	d, ok := tt.deciders[seat]
	if !ok {
		tt.t.Fatalf("no decider bound to seat %d", seat)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.answers[kind] = append(d.answers[kind], answers...)
}

func (tt *testTable) seat(i int) *Seat {
	s, err := tt.game.roster.Seat(i)
	if err != nil {
		tt.t.Fatalf("seat %d: %v", i, err)
	}
	return s
}

// killSeats marks seats dead without going through the engine.
func (tt *testTable) killSeats(seats ...int) {
	for _, i := range seats {
		tt.seat(i).Alive = false
	}
}

// events flattens the omniscient history of the current round.
func (tt *testTable) events() []RoundEvent {
	r := tt.game.history.CurrentRound()
	return append(append([]RoundEvent{}, r.NightEvents...), r.DayEvents...)
}

func (tt *testTable) eventsOfType(typ EventType) []RoundEvent {
	var out []RoundEvent
	for _, r := range tt.game.history.Rounds() {
		for _, ev := range append(append([]RoundEvent{}, r.NightEvents...), r.DayEvents...) {
			if ev.Type == typ {
				out = append(out, ev)
			}
		}
	}
	return out
}

func intPtr(i int) *int {
	return &i
}

func testCtx() context.Context {
	return context.Background()
}
