package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ReplayEntry is one operation result as written to the replay log.
type ReplayEntry struct {
	Seq    int             `json:"seq"`
	Op     string          `json:"op"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Status int             `json:"status"`
	At     time.Time       `json:"at"`
}

// Recorder appends every boundary operation result to a JSONL file.
type Recorder struct {
	f   *os.File
	enc *json.Encoder
	seq int
	mu  sync.Mutex
}

func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open replay log: %w", err)
	}
	return &Recorder{f: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one entry; Seq is assigned here.
func (r *Recorder) Record(e ReplayEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	e.At = time.Now()
	if err := r.enc.Encode(e); err != nil {
		return fmt.Errorf("write replay entry %d: %w", e.Seq, err)
	}
	return nil
}

func (r *Recorder) Close() error {
	return r.f.Close()
}

// Replay answers operations from a recorded log, strictly in call order.
type Replay struct {
	entries []ReplayEntry
	next    int
	mu      sync.Mutex
}

// LoadReplay reads a replay log written by Recorder.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay log: %w", err)
	}
	defer f.Close()

	rp := &Replay{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e ReplayEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("replay log line %d: %w", line, err)
		}
		rp.entries = append(rp.entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay log: %w", err)
	}
	return rp, nil
}

// Next returns the next recorded entry, which must be for op.
func (rp *Replay) Next(op string) (ReplayEntry, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.next >= len(rp.entries) {
		return ReplayEntry{}, fmt.Errorf("%w: %s after %d entries", ErrReplayExhausted, op, len(rp.entries))
	}
	e := rp.entries[rp.next]
	if e.Op != op {
		return ReplayEntry{}, fmt.Errorf("%w: entry %d is %s, called %s", ErrReplayMismatch, e.Seq, e.Op, op)
	}
	rp.next++
	return e, nil
}

// Remaining counts the entries not yet replayed.
func (rp *Replay) Remaining() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return len(rp.entries) - rp.next
}
