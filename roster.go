package main

import (
	"fmt"
)

const (
	SeatCount = 9
	// NoTarget is the sentinel for "nobody": an abstained vote, an unresolved
	// kill, an unused poison.
	NoTarget = -1
)

// Seat is one of the nine positions at the table.
type Seat struct {
	Index int    `json:"index"`
	Role  Role   `json:"role"`
	Alive bool   `json:"alive"`
	Model string `json:"model"`

	decider     DecisionMaker
	divinations []Divination
}

// knownAlignment returns the cached divination for target, if any.
func (s *Seat) knownAlignment(target int) (Divination, bool) {
	for _, d := range s.divinations {
		if d.Target == target {
			return d, true
		}
	}
	return Divination{}, false
}

// Roster owns all nine seats. seats[i] is seat i+1.
type Roster struct {
	seats [SeatCount]*Seat
}

func newRoster(roles []Role, models []string, deciders []DecisionMaker) *Roster {
	r := &Roster{}
	for i := range r.seats {
		r.seats[i] = &Seat{
			Index:   i + 1,
			Role:    roles[i],
			Alive:   true,
			Model:   models[i],
			decider: deciders[i],
		}
	}
	return r
}

func validSeatIndex(i int) bool {
	return i >= 1 && i <= SeatCount
}

// Seat returns the seat at index i (1..9).
func (r *Roster) Seat(i int) (*Seat, error) {
	if !validSeatIndex(i) {
		return nil, fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidSeat, i, SeatCount)
	}
	return r.seats[i-1], nil
}

// IsLiving reports whether i names a seat that is currently alive.
func (r *Roster) IsLiving(i int) bool {
	return validSeatIndex(i) && r.seats[i-1].Alive
}

// Seats returns the seats in index order.
func (r *Roster) Seats() []*Seat {
	out := make([]*Seat, SeatCount)
	copy(out, r.seats[:])
	return out
}

// Living returns the indices of all living seats in order.
func (r *Roster) Living() []int {
	var out []int
	for _, s := range r.seats {
		if s.Alive {
			out = append(out, s.Index)
		}
	}
	return out
}

// WithRole returns every seat holding role, dead or alive.
func (r *Roster) WithRole(role Role) []*Seat {
	var out []*Seat
	for _, s := range r.seats {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out
}

// First returns the first seat holding role, or nil.
func (r *Roster) First(role Role) *Seat {
	for _, s := range r.seats {
		if s.Role == role {
			return s
		}
	}
	return nil
}

// CountLiving counts living seats whose role matches any of roles.
func (r *Roster) CountLiving(roles ...Role) int {
	n := 0
	for _, s := range r.seats {
		if !s.Alive {
			continue
		}
		for _, role := range roles {
			if s.Role == role {
				n++
				break
			}
		}
	}
	return n
}

// Roles returns the role at each seat in index order.
func (r *Roster) Roles() []Role {
	out := make([]Role, SeatCount)
	for i, s := range r.seats {
		out[i] = s.Role
	}
	return out
}

// SetManualPositions reassigns the listed seats. Every seat index and role
// name is validated and the resulting table must still hold the standard
// distribution; nothing is changed unless all of that holds and every
// decision maker could be bound.
func (r *Roster) SetManualPositions(mapping map[int]PlayerConfig, bind DeciderFactory) error {
	roles := r.Roles()
	parsed := make(map[int]Role, len(mapping))
	for idx, a := range mapping {
		if !validSeatIndex(idx) {
			return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidSeat, idx, SeatCount)
		}
		role, err := ParseRole(a.Role)
		if err != nil {
			return fmt.Errorf("seat %d: %w", idx, err)
		}
		parsed[idx] = role
		roles[idx-1] = role
	}
	if err := validateDistribution(roles); err != nil {
		return err
	}

	replacements := make(map[int]*Seat, len(mapping))
	for idx, a := range mapping {
		decider, err := bind(idx, a.ModelConfig)
		if err != nil {
			return fmt.Errorf("seat %d: bind decision maker: %w", idx, err)
		}
		replacements[idx] = &Seat{
			Index:   idx,
			Role:    parsed[idx],
			Alive:   true,
			Model:   a.ModelName,
			decider: decider,
		}
	}
	for idx, s := range replacements {
		r.seats[idx-1] = s
	}
	return nil
}

// Swap exchanges the occupants of seats a and b and re-indexes both.
func (r *Roster) Swap(a, b int) error {
	if !validSeatIndex(a) {
		return fmt.Errorf("%w: %d", ErrInvalidSeat, a)
	}
	if !validSeatIndex(b) {
		return fmt.Errorf("%w: %d", ErrInvalidSeat, b)
	}
	r.seats[a-1], r.seats[b-1] = r.seats[b-1], r.seats[a-1]
	r.seats[a-1].Index = a
	r.seats[b-1].Index = b
	return nil
}
