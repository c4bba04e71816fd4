package main

// Phase is the half of the day/night cycle the game is in.
type Phase string

const (
	PhaseNight Phase = "night"
	PhaseDay   Phase = "day"
)

// PhaseState is the externally visible clock.
type PhaseState struct {
	Day   int   `json:"day"`
	Phase Phase `json:"phase"`
}

// PhaseController tracks the day counter and the day/night flag. The game
// opens on day 1 at night, and the counter advances on every night->day
// toggle, so the first daytime is day 2.
type PhaseController struct {
	day   int
	phase Phase
}

func newPhaseController() *PhaseController {
	return &PhaseController{day: 1, phase: PhaseNight}
}

// Toggle flips the phase and returns the new state.
func (p *PhaseController) Toggle() PhaseState {
	if p.phase == PhaseDay {
		p.phase = PhaseNight
	} else {
		p.phase = PhaseDay
		p.day++
	}
	return p.State()
}

func (p *PhaseController) State() PhaseState {
	return PhaseState{Day: p.day, Phase: p.phase}
}
