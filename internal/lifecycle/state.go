package lifecycle

import (
	"fmt"
	"slices"
)

// State is a channel's lifecycle state.
type State string

const (
	Closed  State = "CLOSED"
	Opening State = "OPENING"
	Open    State = "OPEN"
	Errored State = "ERRORED"
)

// validTransitions defines allowed channel state transitions. Errored
// and Closed are terminal for an instance; reopening means a new
// channel on the next activation.
var validTransitions = map[State][]State{
	Closed:  {Opening},
	Opening: {Open, Closed, Errored},
	Open:    {Closed, Errored},
	Errored: {Closed},
}

func (c *Channel) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(validTransitions[c.state], to) {
		return fmt.Errorf("invalid channel transition from %s to %s", c.state, to)
	}
	c.state = to
	return nil
}
