package phase

import "fmt"

// NumLanes is the number of approaches controlled by one intersection.
const NumLanes = 2

// Lane identifies an approach. Lanes are numbered from 1.
type Lane int

const (
	Lane1 Lane = 1
	Lane2 Lane = 2
)

// Lanes lists every lane in index order.
var Lanes = [NumLanes]Lane{Lane1, Lane2}

// Other returns the opposing lane.
func (l Lane) Other() Lane {
	if l == Lane1 {
		return Lane2
	}
	return Lane1
}

// Index returns the zero-based array index for per-lane state.
func (l Lane) Index() int { return int(l) - 1 }

func (l Lane) String() string { return fmt.Sprintf("lane%d", int(l)) }

// Aspect is the lamp shown by one signal head.
type Aspect int

const (
	Off Aspect = iota
	Red
	Yellow
	Green
)

func (a Aspect) String() string {
	switch a {
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	default:
		return "off"
	}
}

// MarshalText lets aspects appear by name in JSON.
func (a Aspect) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
