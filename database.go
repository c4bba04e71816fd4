package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the write-through persistence for one game session: every history
// event, every audited decision, the seat table and the final scores.
type Store struct {
	db      *sqlx.DB
	session string
}

// StoredEvent is a row of round_event.
type StoredEvent struct {
	ID         int64  `db:"id"`
	SessionID  string `db:"session_id"`
	Day        int    `db:"day"`
	Phase      string `db:"phase"`
	Seq        int    `db:"seq"`
	EventType  string `db:"event_type"`
	Actor      int    `db:"actor"`
	Target     int    `db:"target"`
	Text       string `db:"text"`
	Cause      string `db:"cause"`
	Alignment  string `db:"alignment"`
	Ability    string `db:"ability"`
	Ledger     string `db:"ledger"` // JSON []VoteRecord
	Visibility string `db:"visibility"`
}

// StoredSeat is a row of game_seat.
type StoredSeat struct {
	SessionID string `db:"session_id"`
	Seat      int    `db:"seat"`
	Role      string `db:"role"`
	Model     string `db:"model"`
	IsAlive   bool   `db:"is_alive"`
}

// StoredScore is a row of seat_score.
type StoredScore struct {
	SessionID         string `db:"session_id"`
	Seat              int    `db:"seat"`
	Role              string `db:"role"`
	CampScore         int    `db:"camp_score"`
	ContributionScore int    `db:"contribution_score"`
	MVPScore          int    `db:"mvp_score"`
	Total             int    `db:"total"`
	Place             int    `db:"place"`
}

// OpenStore connects to the sqlite database at dsn and creates the schema.
func OpenStore(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dsn, err)
	}
	s := &Store{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession registers a new game session; all later writes are keyed by
// its id.
func (s *Store) BeginSession(id string, started time.Time) error {
	_, err := s.db.Exec(`INSERT INTO game_session (id, started_at) VALUES (?, ?)`, id, started.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	s.session = id
	return nil
}

// PersistEvent implements EventPersister.
func (s *Store) PersistEvent(day int, phase Phase, ev RoundEvent) error {
	ledger := ""
	if len(ev.Ledger) > 0 {
		b, err := json.Marshal(ev.Ledger)
		if err != nil {
			return fmt.Errorf("marshal ledger: %w", err)
		}
		ledger = string(b)
	}
	_, err := s.db.NamedExec(`
		INSERT INTO round_event (session_id, day, phase, seq, event_type, actor, target, text, cause, alignment, ability, ledger, visibility)
		VALUES (:session_id, :day, :phase, :seq, :event_type, :actor, :target, :text, :cause, :alignment, :ability, :ledger, :visibility)`,
		StoredEvent{
			SessionID:  s.session,
			Day:        day,
			Phase:      string(phase),
			Seq:        ev.Seq,
			EventType:  string(ev.Type),
			Actor:      ev.Actor,
			Target:     ev.Target,
			Text:       ev.Text,
			Cause:      string(ev.Cause),
			Alignment:  ev.Alignment,
			Ability:    ev.Ability,
			Ledger:     ledger,
			Visibility: string(ev.Visibility),
		})
	if err != nil {
		return fmt.Errorf("persist event %d: %w", ev.Seq, err)
	}
	return nil
}

// PersistDecision stores one audited decision.
func (s *Store) PersistDecision(rec AuditRecord) error {
	prompt, err := json.Marshal(rec.Prompt)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	response, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	errText := ""
	if rec.Err != nil {
		errText = rec.Err.Error()
	}
	_, err = s.db.Exec(`
		INSERT INTO decision_audit (session_id, seat, role, kind, model, prompt, response, attempts, tokens, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session, rec.Seat, rec.Role, rec.Kind, rec.Model, string(prompt), string(response), rec.Attempts, rec.Tokens, errText)
	if err != nil {
		return fmt.Errorf("persist decision: %w", err)
	}
	return nil
}

// SaveSeats replaces the session's seat table.
func (s *Store) SaveSeats(seats []*Seat) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM game_seat WHERE session_id = ?`, s.session); err != nil {
		return fmt.Errorf("clear seats: %w", err)
	}
	for _, seat := range seats {
		_, err := tx.NamedExec(`
			INSERT INTO game_seat (session_id, seat, role, model, is_alive)
			VALUES (:session_id, :seat, :role, :model, :is_alive)`,
			StoredSeat{SessionID: s.session, Seat: seat.Index, Role: string(seat.Role), Model: seat.Model, IsAlive: seat.Alive})
		if err != nil {
			return fmt.Errorf("save seat %d: %w", seat.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	LogDBState("SaveSeats")
	return nil
}

// SaveScores replaces the session's scores and records winner and MVP.
func (s *Store) SaveScores(board *ScoreBoard) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM seat_score WHERE session_id = ?`, s.session); err != nil {
		return fmt.Errorf("clear scores: %w", err)
	}
	for i, p := range board.Ranking {
		_, err := tx.NamedExec(`
			INSERT INTO seat_score (session_id, seat, role, camp_score, contribution_score, mvp_score, total, place)
			VALUES (:session_id, :seat, :role, :camp_score, :contribution_score, :mvp_score, :total, :place)`,
			StoredScore{
				SessionID:         s.session,
				Seat:              p.Seat,
				Role:              string(p.Role),
				CampScore:         p.CampScore,
				ContributionScore: p.ContributionScore,
				MVPScore:          p.MVPScore,
				Total:             p.Total,
				Place:             i + 1,
			})
		if err != nil {
			return fmt.Errorf("save score seat %d: %w", p.Seat, err)
		}
	}
	if _, err := tx.Exec(`UPDATE game_session SET winner = ?, mvp = ? WHERE id = ?`, string(board.Winner), board.MVP, s.session); err != nil {
		return fmt.Errorf("save winner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	LogDBState("SaveScores")
	return nil
}

// Events returns the session's persisted events in append order.
func (s *Store) Events() ([]StoredEvent, error) {
	var events []StoredEvent
	err := s.db.Select(&events, `
		SELECT rowid as id, session_id, day, phase, seq, event_type, actor, target, text, cause, alignment, ability, ledger, visibility
		FROM round_event
		WHERE session_id = ?
		ORDER BY seq`, s.session)
	return events, err
}

// Seats returns the session's persisted seat table.
func (s *Store) Seats() ([]StoredSeat, error) {
	var seats []StoredSeat
	err := s.db.Select(&seats, `SELECT session_id, seat, role, model, is_alive FROM game_seat WHERE session_id = ? ORDER BY seat`, s.session)
	return seats, err
}

// Scores returns the session's persisted ranking.
func (s *Store) Scores() ([]StoredScore, error) {
	var scores []StoredScore
	err := s.db.Select(&scores, `
		SELECT session_id, seat, role, camp_score, contribution_score, mvp_score, total, place
		FROM seat_score WHERE session_id = ? ORDER BY place`, s.session)
	return scores, err
}

func (s *Store) initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS game_session (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		winner TEXT NOT NULL DEFAULT '',
		mvp INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS game_seat (
		session_id TEXT NOT NULL,
		seat INTEGER NOT NULL,
		role TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		is_alive INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (session_id) REFERENCES game_session(id),
		UNIQUE(session_id, seat)
	);
	CREATE TABLE IF NOT EXISTS round_event (
		session_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		phase TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		actor INTEGER NOT NULL,
		target INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		cause TEXT NOT NULL DEFAULT '',
		alignment TEXT NOT NULL DEFAULT '',
		ability TEXT NOT NULL DEFAULT '',
		ledger TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		FOREIGN KEY (session_id) REFERENCES game_session(id),
		UNIQUE(session_id, seq)
	);
	CREATE TABLE IF NOT EXISTS decision_audit (
		session_id TEXT NOT NULL,
		seat INTEGER NOT NULL,
		role TEXT NOT NULL,
		kind TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (session_id) REFERENCES game_session(id)
	);
	CREATE TABLE IF NOT EXISTS seat_score (
		session_id TEXT NOT NULL,
		seat INTEGER NOT NULL,
		role TEXT NOT NULL,
		camp_score INTEGER NOT NULL,
		contribution_score INTEGER NOT NULL,
		mvp_score INTEGER NOT NULL,
		total INTEGER NOT NULL,
		place INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES game_session(id),
		UNIQUE(session_id, seat)
	);
	CREATE INDEX IF NOT EXISTS idx_round_event_lookup ON round_event(session_id, day, phase);
	`
	if _, err := s.db.Exec(schema); err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}
