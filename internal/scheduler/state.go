package scheduler

import "fmt"

// SlotState is the lifecycle state of a worker slot.
type SlotState int

const (
	StateIdle SlotState = iota
	StateSpawning
	StateReady
	StateVerifying
	StateExiting
	StateTerminated
)

func (s SlotState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateReady:
		return "ready"
	case StateVerifying:
		return "verifying"
	case StateExiting:
		return "exiting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Observer is notified of every slot state transition.
type Observer func(slot int, from, to SlotState)
