package main

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use shared cache mode so all connections see the same in-memory database
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := OpenStore(dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePersistsEventsWriteThrough(t *testing.T) {
	store := newTestStore(t)
	tt := newTestTableWith(t, GameConfig{}, store)
	tt.logger.AttachDB(store.DB())
	tt.logger.LogDB("after initialize")

	tt.game.ResolveKill(7)
	tt.game.TogglePhase()
	castVotes(t, tt, map[int]int{4: 1, 5: 1, 8: 1})
	tt.game.TallyDayVote()

	events, err := store.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	want := []string{"kill", "vote", "vote", "vote", "execute"}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	if events[0].Phase != string(PhaseNight) || events[0].Day != 1 || events[1].Phase != string(PhaseDay) {
		t.Errorf("buckets = %+v / %+v", events[0], events[1])
	}

	var ledger []VoteRecord
	if err := json.Unmarshal([]byte(events[4].Ledger), &ledger); err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger) != 3 || ledger[0] != (VoteRecord{Voter: 4, Target: 1}) {
		t.Errorf("ledger = %+v", ledger)
	}
}

func TestStoreSeatsAndScores(t *testing.T) {
	store := newTestStore(t)
	tt := newTestTableWith(t, GameConfig{}, store)

	seats, err := store.Seats()
	if err != nil || len(seats) != SeatCount {
		t.Fatalf("Seats = %d, %v", len(seats), err)
	}
	if seats[0].Role != string(RoleWolf) || !seats[0].IsAlive {
		t.Errorf("seat 1 row = %+v", seats[0])
	}

	if err := tt.game.SwapPositions(1, 4); err != nil {
		t.Fatalf("SwapPositions: %v", err)
	}
	seats, _ = store.Seats()
	if seats[0].Role != string(RoleSeer) {
		t.Errorf("swap not persisted: %+v", seats[0])
	}

	tt.killSeats(1, 2, 3, 4)
	tt.game.CheckWinner(testCtx())
	if _, err := tt.game.SetMVP(8); err != nil {
		t.Fatalf("SetMVP: %v", err)
	}

	scores, err := store.Scores()
	if err != nil || len(scores) != SeatCount {
		t.Fatalf("Scores = %d, %v", len(scores), err)
	}
	if scores[0].Seat != 8 || scores[0].Place != 1 || scores[0].Total != campWinPoints+mvpPoints {
		t.Errorf("first place = %+v", scores[0])
	}

	var winner string
	var mvp int
	row := store.DB().QueryRowx(`SELECT winner, mvp FROM game_session WHERE id = ?`, store.session)
	if err := row.Scan(&winner, &mvp); err != nil {
		t.Fatalf("session row: %v", err)
	}
	if winner != string(WinnerVillagers) || mvp != 8 {
		t.Errorf("session = %s / %d", winner, mvp)
	}
}

func TestStorePersistsDecisions(t *testing.T) {
	store := newTestStore(t)
	tt := newTestTableWith(t, GameConfig{}, store)
	tt.script(7, ActionVote, Decision{"vote": 2})
	tt.deciders[8].fail = true

	tt.game.DecideVote(testCtx(), 7)
	tt.game.DecideVote(testCtx(), 8)

	var rows []struct {
		Seat     int    `db:"seat"`
		Kind     string `db:"kind"`
		Attempts int    `db:"attempts"`
		Error    string `db:"error"`
	}
	if err := store.DB().Select(&rows, `SELECT seat, kind, attempts, error FROM decision_audit WHERE session_id = ? ORDER BY rowid`, store.session); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Seat != 7 || rows[0].Kind != "vote" || rows[0].Error != "" {
		t.Errorf("success row = %+v", rows[0])
	}
	if rows[1].Seat != 8 || rows[1].Attempts != 2 || rows[1].Error == "" {
		t.Errorf("failure row = %+v", rows[1])
	}
}

func TestReinitializeStartsNewStoreSession(t *testing.T) {
	store := newTestStore(t)
	tt := newTestTableWith(t, GameConfig{}, store)
	tt.game.ResolveKill(7)
	firstSession := store.session

	if _, err := tt.game.Initialize(GameConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if store.session == firstSession {
		t.Fatal("re-initialize reused the store session")
	}
	tt.game.ResolveKill(8)

	events, _ := store.Events()
	if len(events) != 1 || events[0].Target != 8 || events[0].Seq != 1 {
		t.Errorf("events of the new session = %+v", events)
	}
}

func TestBeginSessionRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)
	if err := store.BeginSession("dup", time.Now()); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	if err := store.BeginSession("dup", time.Now()); err == nil {
		t.Error("duplicate session id accepted")
	}
}
