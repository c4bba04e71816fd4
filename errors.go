package main

import (
	"errors"
	"log"
)

var (
	ErrInvalidSeat       = errors.New("invalid seat")
	ErrInvalidRole       = errors.New("invalid role")
	ErrRoleDistribution  = errors.New("invalid role distribution")
	ErrWrongRole         = errors.New("seat does not hold the required role")
	ErrNotAlive          = errors.New("seat is not alive")
	ErrDecisionFailed    = errors.New("decision maker failed")
	ErrCureUnavailable   = errors.New("cure unavailable")
	ErrPoisonUnavailable = errors.New("poison unavailable")
	ErrRevengeNotPending = errors.New("no hunter revenge pending")
	ErrScoresUnavailable = errors.New("scores unavailable")
	ErrNotInitialized    = errors.New("game not initialized")
	ErrReplayExhausted   = errors.New("replay log exhausted")
	ErrReplayMismatch    = errors.New("replay log does not match operation")
	ErrBadRequest        = errors.New("bad request")
)

// isConfigurationError reports whether err was caused by invalid setup or
// reassignment input.
func isConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidSeat) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrRoleDistribution)
}

// logError logs an error with context
func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
}
