package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// replayedError is a failure answered from the replay log.
type replayedError struct {
	msg    string
	status int
}

func (e *replayedError) Error() string { return e.msg }

// Session is the boundary around one game: it serializes operations, records
// every result and, in replay mode, answers from the log instead of the
// engine.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	game     *Game
	recorder *Recorder
	replay   *Replay
	logger   *GameLogger
	gate     *semaphore.Weighted
}

// SessionOptions configures NewSession. An empty LogDir disables the result,
// audit and replay files.
type SessionOptions struct {
	LogDir      string
	ReplayFile  string
	CountTokens bool
	Bind        DeciderFactory
	Retry       RetryPolicy
	Store       *Store
}

func NewSession(opts SessionOptions) (*Session, error) {
	s := &Session{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		gate:      semaphore.NewWeighted(1),
	}
	stem := s.StartedAt.Format("20060102_150405")

	if opts.ReplayFile != "" {
		rp, err := LoadReplay(opts.ReplayFile)
		if err != nil {
			return nil, err
		}
		s.replay = rp
	}
	if opts.LogDir != "" {
		gl, err := NewGameLogger(opts.LogDir, stem, opts.CountTokens)
		if err != nil {
			return nil, err
		}
		s.logger = gl
		if s.replay == nil {
			rec, err := NewRecorder(filepath.Join(opts.LogDir, "replay_"+stem+".jsonl"))
			if err != nil {
				gl.Close()
				return nil, err
			}
			s.recorder = rec
		}
	}

	s.game = NewGame(GameOptions{
		Bind:   opts.Bind,
		Retry:  opts.Retry,
		Logger: s.logger,
		Store:  opts.Store,
	})
	return s, nil
}

// Game exposes the engine for tests and the composite drivers.
func (s *Session) Game() *Game {
	return s.game
}

// Replaying reports whether the session answers from a replay log.
func (s *Session) Replaying() bool {
	return s.replay != nil
}

// Do runs op through the gate. In replay mode the recorded result is
// returned and fn is not called; otherwise fn runs and its result is
// recorded.
func (s *Session) Do(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "op."+op, trace.WithAttributes(
		attribute.String("session", s.ID.String()),
		attribute.Bool("replay", s.replay != nil),
	))
	defer span.End()

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	if s.replay != nil {
		e, err := s.replay.Next(op)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "replay")
			return nil, err
		}
		if e.Error != "" {
			return nil, &replayedError{msg: e.Error, status: e.Status}
		}
		return e.Result, nil
	}

	result, err := fn(ctx)
	entry := ReplayEntry{Op: op, Status: statusFor(err)}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.Error = err.Error()
	} else {
		raw, merr := json.Marshal(result)
		if merr != nil {
			return nil, fmt.Errorf("encode %s result: %w", op, merr)
		}
		entry.Result = raw
	}
	if s.recorder != nil {
		if rerr := s.recorder.Record(entry); rerr != nil {
			logError("Session.Do: record", rerr)
		}
	}
	if err != nil {
		return nil, err
	}
	return entry.Result, nil
}

func (s *Session) Close() {
	if s.recorder != nil {
		s.recorder.Close()
	}
	s.logger.Close()
}
