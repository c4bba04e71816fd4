package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("werewolf-arena")

// ActionKind names the decision a seat is asked to make.
type ActionKind string

const (
	ActionKill          ActionKind = "kill"
	ActionDivine        ActionKind = "divine"
	ActionCureOrPoison  ActionKind = "cure_or_poison"
	ActionVote          ActionKind = "vote"
	ActionSpeak         ActionKind = "speak"
	ActionLastWord      ActionKind = "lastword"
	ActionHunterRevenge ActionKind = "hunter_revenge"
	ActionMVP           ActionKind = "mvp"
)

// requiredFields lists the keys a decision must carry to be accepted.
var requiredFields = map[ActionKind][]string{
	ActionKill:          {"kill"},
	ActionDivine:        {"divine"},
	ActionCureOrPoison:  {"cure", "poison"},
	ActionVote:          {"vote"},
	ActionSpeak:         {"speak"},
	ActionLastWord:      {"speak"},
	ActionHunterRevenge: {"attack"},
	ActionMVP:           {"mvp_seat"},
}

// Prompt is everything a decision maker gets to see for one decision.
type Prompt struct {
	Kind           ActionKind     `json:"kind"`
	Seat           int            `json:"seat"`
	Role           Role           `json:"role"`
	Day            int            `json:"day"`
	Phase          Phase          `json:"phase"`
	Players        []string       `json:"players"`
	History        []string       `json:"history"`
	Extra          map[string]any `json:"extra,omitempty"`
	RequiredFields []string       `json:"required_fields"`
}

// Decision is the structured answer of a decision maker, e.g.
// {"kill": 5, "reason": "..."}.
type Decision map[string]any

// Int reads an integer field. JSON numbers, numeric strings and booleans are
// accepted since models are not consistent about it.
func (d Decision) Int(key string) (int, bool) {
	switch v := d[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Bool reads a flag that may be encoded as 0/1 or true/false.
func (d Decision) Bool(key string) bool {
	if b, ok := d[key].(bool); ok {
		return b
	}
	n, ok := d.Int(key)
	return ok && n == 1
}

func (d Decision) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Rationale returns the free-text reasoning attached to the decision.
func (d Decision) Rationale() string {
	if s := d.String("thinking"); s != "" {
		return s
	}
	return d.String("reason")
}

func (d Decision) missing(fields []string) []string {
	var out []string
	for _, f := range fields {
		if _, ok := d[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// DecisionMaker produces a structured action for a prompt. LLM seats, human
// seats and test fakes all sit behind it.
type DecisionMaker interface {
	Decide(ctx context.Context, p Prompt) (Decision, error)
}

// DeciderFactory binds a decision maker to a seat. Seat 0 is the MVP judge.
type DeciderFactory func(seat int, m ModelConfig) (DecisionMaker, error)

// RetryPolicy bounds how often a failed decision is re-requested.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 10, Delay: 10 * time.Second}
}

var errIncompleteDecision = errors.New("incomplete decision")

// contextBuilder assembles the role-specific part of a prompt.
type contextBuilder func(g *Game, s *Seat) map[string]any

var roleContext = map[Role]contextBuilder{
	RoleWolf:   wolfContext,
	RoleSeer:   seerContext,
	RoleWitch:  witchContext,
	RoleHunter: hunterContext,
}

func wolfContext(g *Game, s *Seat) map[string]any {
	var mates []string
	for _, w := range g.roster.WithRole(RoleWolf) {
		if w.Index == s.Index {
			continue
		}
		status := "alive"
		if !w.Alive {
			status = "dead"
		}
		mates = append(mates, fmt.Sprintf("seat %d is a wolf, currently %s", w.Index, status))
	}
	return map[string]any{"wolf_teammates": mates}
}

func seerContext(_ *Game, s *Seat) map[string]any {
	if len(s.divinations) == 0 {
		return nil
	}
	known := make([]string, 0, len(s.divinations))
	for _, d := range s.divinations {
		known = append(known, fmt.Sprintf("seat %d is %s", d.Target, d.Alignment))
	}
	return map[string]any{"known_information": known}
}

func witchContext(g *Game, _ *Seat) map[string]any {
	cured := "cure not used yet"
	if g.witch.CureSeat != 0 {
		cured = fmt.Sprintf("already used the cure on seat %d, it cannot be used again", g.witch.CureSeat)
	}
	poisoned := "poison not used yet"
	if g.witch.PoisonSeat != 0 {
		poisoned = fmt.Sprintf("already poisoned seat %d, the poison cannot be used again", g.witch.PoisonSeat)
	}
	return map[string]any{"cured_someone": cured, "poisoned_someone": poisoned}
}

func hunterContext(_ *Game, _ *Seat) map[string]any {
	return map[string]any{
		"hunter_skill": "when killed by wolves or executed by vote, the hunter may shoot one player",
	}
}

// buildPrompt assembles the shared context plus the role's extra context and
// any call-specific extras.
func (g *Game) buildPrompt(s *Seat, kind ActionKind, extra map[string]any) Prompt {
	merged := make(map[string]any)
	if build, ok := roleContext[s.Role]; ok {
		for k, v := range build(g, s) {
			merged[k] = v
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	state := g.phase.State()
	return Prompt{
		Kind:           kind,
		Seat:           s.Index,
		Role:           s.Role,
		Day:            state.Day,
		Phase:          state.Phase,
		Players:        g.playerStates(),
		History:        g.history.Lines(s),
		Extra:          merged,
		RequiredFields: requiredFields[kind],
	}
}

func (g *Game) playerStates() []string {
	out := make([]string, 0, SeatCount)
	for _, s := range g.roster.Seats() {
		status := "alive"
		if !s.Alive {
			status = "dead"
		}
		out = append(out, fmt.Sprintf("seat %d: %s", s.Index, status))
	}
	return out
}

// requestDecision asks seat's decision maker for kind.
func (g *Game) requestDecision(ctx context.Context, s *Seat, kind ActionKind, extra map[string]any) (Decision, error) {
	if s.decider == nil {
		return nil, fmt.Errorf("%w: seat %d has no decision maker", ErrDecisionFailed, s.Index)
	}
	return g.callDecider(ctx, s.decider, s.Model, g.buildPrompt(s, kind, extra))
}

// callDecider runs one decision through the retry policy. A failed or
// incomplete answer is retried with a fixed delay until the attempt bound is
// hit; the caller gets either a complete decision or ErrDecisionFailed.
func (g *Game) callDecider(ctx context.Context, dm DecisionMaker, model string, p Prompt) (Decision, error) {
	ctx, span := tracer.Start(ctx, "decision."+string(p.Kind), trace.WithAttributes(
		attribute.Int("seat", p.Seat),
		attribute.String("role", string(p.Role)),
		attribute.String("model", model),
	))
	defer span.End()

	attempts := 0
	op := func() (Decision, error) {
		attempts++
		d, err := dm.Decide(ctx, p)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, fmt.Errorf("%w: empty response", errIncompleteDecision)
		}
		if missing := d.missing(p.RequiredFields); len(missing) > 0 {
			return nil, fmt.Errorf("%w: missing fields %v", errIncompleteDecision, missing)
		}
		return d, nil
	}

	d, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.retry.Delay)),
		backoff.WithMaxTries(g.retry.Attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("Decision: seat %d %s failed (%v), retrying in %s", p.Seat, p.Kind, err, next)
		}),
	)

	g.audit(AuditRecord{
		Seat:     p.Seat,
		Role:     string(p.Role),
		Kind:     string(p.Kind),
		Model:    model,
		Prompt:   p,
		Response: d,
		Attempts: attempts,
		Err:      err,
	})

	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		logError(fmt.Sprintf("callDecider seat %d %s", p.Seat, p.Kind), err)
		return nil, fmt.Errorf("%w: seat %d %s after %d attempts: %v", ErrDecisionFailed, p.Seat, p.Kind, attempts, err)
	}
	return d, nil
}

// validTargets returns the living seats as the list handed back on a
// re-decision.
func (g *Game) validTargets() []int {
	return g.roster.Living()
}

// decideTarget asks for a target under key and allows exactly one
// re-decision if the answer is neither a living seat nor NoTarget. A second
// invalid answer is forced to NoTarget.
func (g *Game) decideTarget(ctx context.Context, s *Seat, kind ActionKind, key string, extra map[string]any) (int, Decision, error) {
	d, err := g.requestDecision(ctx, s, kind, extra)
	if err != nil {
		return NoTarget, nil, err
	}
	target, ok := d.Int(key)
	if ok && g.acceptableTarget(target) {
		return target, d, nil
	}
	return g.redecideTarget(ctx, s, kind, key, extra, d[key], g.validTargets())
}

func (g *Game) acceptableTarget(target int) bool {
	return target == NoTarget || g.roster.IsLiving(target)
}

// redecideTarget is the single re-decision after an invalid choice. The
// seat is told what it picked and which seats it may pick instead.
func (g *Game) redecideTarget(ctx context.Context, s *Seat, kind ActionKind, key string, extra map[string]any, previous any, valid []int) (int, Decision, error) {
	retry := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		retry[k] = v
	}
	retry["previous_choice_invalid"] = fmt.Sprintf("your previous choice %v is not a living seat", previous)
	retry["valid_targets"] = valid
	DebugLog("decideTarget", "seat %d %s chose invalid target %v, asking again", s.Index, kind, previous)

	d, err := g.requestDecision(ctx, s, kind, retry)
	if err != nil {
		return NoTarget, nil, err
	}
	target, ok := d.Int(key)
	if ok && g.acceptableTarget(target) {
		return target, d, nil
	}
	log.Printf("Decision: seat %d %s chose invalid target %v twice, forcing none", s.Index, kind, d[key])
	return NoTarget, d, nil
}
