package main

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type apiHarness struct {
	t        *testing.T
	handler  http.Handler
	session  *Session
	deciders map[int]*scriptedDecider
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	deciders := make(map[int]*scriptedDecider)
	session, err := NewSession(SessionOptions{Bind: scriptedFactory(deciders), Retry: RetryPolicy{Attempts: 1}})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(session.Close)
	hub := newHub()
	return &apiHarness{
		t:        t,
		handler:  newServer(session, hub, GameConfig{Seed: 3}).routes(nil),
		session:  session,
		deciders: deciders,
	}
}

func (h *apiHarness) call(method, path, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) decode(rec *httptest.ResponseRecorder, dst any) {
	h.t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		h.t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestAPIRequiresInitialize(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.call("POST", "/api/toggle_phase", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("toggle before initialize = %d, want 409", rec.Code)
	}
	var body map[string]string
	h.decode(rec, &body)
	if !strings.Contains(body["error"], ErrNotInitialized.Error()) {
		t.Errorf("error body = %v", body)
	}

	if rec := h.call("GET", "/api/state", ""); rec.Code != http.StatusOK {
		t.Errorf("state before initialize = %d, want 200", rec.Code)
	}
}

func TestAPIInitializeAndPlay(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.call("POST", "/api/initialize", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize = %d %s", rec.Code, rec.Body)
	}
	var init struct {
		Seats []SeatOutcome `json:"seats"`
	}
	h.decode(rec, &init)
	if len(init.Seats) != SeatCount || init.Seats[0].Role != RoleWolf || init.Seats[3].Role != RoleSeer {
		t.Fatalf("seats = %+v", init.Seats)
	}

	rec = h.call("POST", "/api/resolve_kill", `{"target": 7}`)
	var report DeathReport
	h.decode(rec, &report)
	if rec.Code != http.StatusOK || report.Seat != 7 || report.Cause != CauseWolves {
		t.Errorf("resolve_kill = %d %+v", rec.Code, report)
	}
	if rec := h.call("POST", "/api/resolve_kill", `{"target": 7}`); rec.Code != http.StatusConflict {
		t.Errorf("killing a dead seat = %d, want 409", rec.Code)
	}
	if rec := h.call("POST", "/api/resolve_kill", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing target = %d, want 400", rec.Code)
	}

	rec = h.call("POST", "/api/toggle_phase", "")
	var phase PhaseState
	h.decode(rec, &phase)
	if phase.Day != 2 || phase.Phase != PhaseDay {
		t.Errorf("phase = %+v", phase)
	}

	for voter, target := range map[int]int{4: 1, 5: 1, 8: 2} {
		body := fmt.Sprintf(`{"seat": %d, "target": %d}`, voter, target)
		if rec := h.call("POST", "/api/day_vote", body); rec.Code != http.StatusOK {
			t.Fatalf("day_vote %s = %d %s", body, rec.Code, rec.Body)
		}
	}
	rec = h.call("POST", "/api/tally_day_vote", "")
	var exec Execution
	h.decode(rec, &exec)
	if exec.Executed != 1 || exec.Counts[1] != 2 || len(exec.Ledger) != 3 {
		t.Errorf("execution = %+v", exec)
	}

	rec = h.call("GET", "/api/state", "")
	var state GameState
	h.decode(rec, &state)
	if state.Seats[0].Alive || state.Seats[6].Alive || !state.Seats[1].Alive {
		t.Errorf("alive flags = %+v", state.Seats)
	}
	if len(state.History) != 1 || len(state.History[0].DayEvents) == 0 {
		t.Errorf("history = %+v", state.History)
	}
}

func TestAPIScoresAfterTheGameEnds(t *testing.T) {
	h := newAPIHarness(t)
	h.call("POST", "/api/initialize", "")

	if rec := h.call("GET", "/api/scores", ""); rec.Code != http.StatusNotFound {
		t.Errorf("scores mid-game = %d, want 404", rec.Code)
	}

	for _, seat := range []int{1, 2, 3} {
		h.call("POST", "/api/resolve_kill", fmt.Sprintf(`{"target": %d}`, seat))
	}
	rec := h.call("POST", "/api/check_winner", "")
	var result WinnerResult
	h.decode(rec, &result)
	if result.Winner != WinnerVillagers || result.Scores == nil {
		t.Fatalf("check_winner = %+v", result)
	}

	rec = h.call("POST", "/api/set_mvp", `{"seat": 9}`)
	var board ScoreBoard
	h.decode(rec, &board)
	if rec.Code != http.StatusOK || board.MVP != 9 {
		t.Errorf("set_mvp = %d %+v", rec.Code, board)
	}
}

func TestAPIRejectsMalformedBodies(t *testing.T) {
	h := newAPIHarness(t)
	if rec := h.call("POST", "/api/initialize", `{"players": 5`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed initialize = %d, want 400", rec.Code)
	}
	if rec := h.call("POST", "/api/initialize", `{"players": [{"role": "Dragon"}]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad role = %d, want 400", rec.Code)
	}
	h.call("POST", "/api/initialize", "")
	if rec := h.call("POST", "/api/swap_positions", `{"a": 1, "b": 12}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad swap = %d, want 400", rec.Code)
	}
	if rec := h.call("POST", "/api/set_manual_positions", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty positions = %d, want 400", rec.Code)
	}
}

func TestAPIDecisionFailureIsBadGateway(t *testing.T) {
	h := newAPIHarness(t)
	h.call("POST", "/api/initialize", "")
	h.deciders[4].fail = true
	if rec := h.call("POST", "/api/seer_divine", `{"seat": 4}`); rec.Code != http.StatusBadGateway {
		t.Errorf("failed divination = %d, want 502", rec.Code)
	}
	if rec := h.call("POST", "/api/seer_divine", `{"seat": 5}`); rec.Code != http.StatusConflict {
		t.Errorf("divination by the witch = %d, want 409", rec.Code)
	}
}

func TestAPICompressesJSON(t *testing.T) {
	h := newAPIHarness(t)
	req := httptest.NewRequest("GET", "/api/state", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	if rec.Header().Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	var state GameState
	if err := json.NewDecoder(zr).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Day != 1 || state.Phase != PhaseNight {
		t.Errorf("state = %+v", state.PhaseState)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: seat 12", ErrInvalidSeat), http.StatusBadRequest},
		{ErrRoleDistribution, http.StatusBadRequest},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrScoresUnavailable, http.StatusNotFound},
		{ErrWrongRole, http.StatusConflict},
		{ErrNotAlive, http.StatusConflict},
		{ErrCureUnavailable, http.StatusConflict},
		{ErrPoisonUnavailable, http.StatusConflict},
		{ErrRevengeNotPending, http.StatusConflict},
		{ErrNotInitialized, http.StatusConflict},
		{ErrReplayMismatch, http.StatusConflict},
		{ErrReplayExhausted, http.StatusGone},
		{fmt.Errorf("%w: seat 4", ErrDecisionFailed), http.StatusBadGateway},
		{&replayedError{msg: "recorded", status: http.StatusTeapot}, http.StatusTeapot},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
