package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// AuditRecord is one decision as sent to and answered by a decision maker.
type AuditRecord struct {
	Seat      int       `json:"seat"`
	Role      string    `json:"role"`
	Kind      string    `json:"kind"`
	Model     string    `json:"model"`
	Prompt    Prompt    `json:"prompt"`
	Response  Decision  `json:"response,omitempty"`
	Rationale string    `json:"rationale,omitempty"`
	Attempts  int       `json:"attempts"`
	Tokens    int       `json:"tokens,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Err error `json:"-"`
}

// GameLogger writes the per-game artifacts: the readable result log and the
// decision audit log. A nil *GameLogger discards everything.
type GameLogger struct {
	result *os.File
	audit  *os.File
	enc    *json.Encoder
	tokens *tiktoken.Tiktoken
	mu     sync.Mutex
}

// NewGameLogger opens result_<stem>.txt and llm_<stem>.jsonl under dir.
// With countTokens the prompt size is added to every audit record.
func NewGameLogger(dir, stem string, countTokens bool) (*GameLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	result, err := os.OpenFile(filepath.Join(dir, "result_"+stem+".txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	audit, err := os.OpenFile(filepath.Join(dir, "llm_"+stem+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		result.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	gl := &GameLogger{result: result, audit: audit, enc: json.NewEncoder(audit)}
	if countTokens {
		tke, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logError("NewGameLogger: token encoding", err)
		} else {
			gl.tokens = tke
		}
	}
	return gl, nil
}

func deathVerb(cause DeathCause) string {
	switch cause {
	case CauseWolves:
		return "was killed by wolves"
	case CausePoison:
		return "was poisoned"
	case CauseExecution:
		return "was executed"
	case CauseHunter:
		return "was shot by the hunter"
	}
	return "died"
}

// Death appends one line to the result log.
func (gl *GameLogger) Death(state PhaseState, s *Seat, cause DeathCause) {
	if gl == nil {
		return
	}
	gl.line(fmt.Sprintf("[Day %d %s] seat %d (%s) %s", state.Day, state.Phase, s.Index, s.Role, deathVerb(cause)))
}

// Outcome appends the winner to the result log.
func (gl *GameLogger) Outcome(state PhaseState, w Winner) {
	if gl == nil {
		return
	}
	gl.line(fmt.Sprintf("[Day %d %s] game over, %s win", state.Day, state.Phase, w))
}

// Deal appends the seating, one line per seat.
func (gl *GameLogger) Deal(seats []*Seat) {
	if gl == nil {
		return
	}
	gl.line("Seating:")
	for _, s := range seats {
		gl.line(fmt.Sprintf("  seat %d: %s (%s)", s.Index, s.Role, s.Model))
	}
}

// Scores appends the MVP and the ranking with its score breakdown.
func (gl *GameLogger) Scores(b *ScoreBoard) {
	if gl == nil {
		return
	}
	gl.line(fmt.Sprintf("Scores (%s win):", b.Winner))
	gl.mvpLine(b)
	gl.ranking(b)
}

// MVPUpdate appends a manual MVP change and the new ranking.
func (gl *GameLogger) MVPUpdate(previous int, b *ScoreBoard) {
	if gl == nil {
		return
	}
	gl.line(fmt.Sprintf("MVP update: seat %d -> seat %d", previous, b.MVP))
	gl.mvpLine(b)
	gl.ranking(b)
}

func (gl *GameLogger) mvpLine(b *ScoreBoard) {
	if b.MVP == 0 {
		gl.line("  MVP: none")
		return
	}
	gl.line(fmt.Sprintf("  MVP: seat %d (%s)", b.MVP, b.MVPReason))
}

func (gl *GameLogger) ranking(b *ScoreBoard) {
	for i, p := range b.Ranking {
		gl.line(fmt.Sprintf("  %d. seat %d (%s) total %d = camp %d + contribution %d + mvp %d",
			i+1, p.Seat, p.Role, p.Total, p.CampScore, p.ContributionScore, p.MVPScore))
	}
}

func (gl *GameLogger) line(s string) {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	if _, err := fmt.Fprintln(gl.result, s); err != nil {
		logError("GameLogger: result", err)
	}
}

// Audit appends rec to the audit log, filling in the derived fields.
func (gl *GameLogger) Audit(rec *AuditRecord) {
	if gl == nil {
		return
	}
	rec.Timestamp = time.Now()
	if rec.Err != nil {
		rec.Error = rec.Err.Error()
	}
	if rec.Response != nil {
		rec.Rationale = rec.Response.Rationale()
	}
	if gl.tokens != nil {
		rec.Tokens = len(gl.tokens.Encode(promptText(rec.Prompt), nil, nil))
	}

	gl.mu.Lock()
	defer gl.mu.Unlock()
	if err := gl.enc.Encode(rec); err != nil {
		logError("GameLogger: audit", err)
	}
}

func promptText(p Prompt) string {
	var b strings.Builder
	b.WriteString(strings.Join(p.Players, "\n"))
	b.WriteString("\n")
	b.WriteString(strings.Join(p.History, "\n"))
	if extra, err := json.Marshal(p.Extra); err == nil {
		b.Write(extra)
	}
	return b.String()
}

func (gl *GameLogger) Close() {
	if gl == nil {
		return
	}
	gl.result.Close()
	gl.audit.Close()
}
