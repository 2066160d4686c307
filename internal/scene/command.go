package scene

import (
	"errors"
	"fmt"
	"strings"
)

// Action names a control a viewer can trigger.
type Action string

const (
	ActionToggleRun        Action = "toggle_run"
	ActionTimeForward      Action = "time_forward"
	ActionTimeBack         Action = "time_back"
	ActionCoefficientsUp   Action = "coefficients_up"
	ActionCoefficientsDown Action = "coefficients_down"
	ActionDragStart        Action = "drag_start"
	ActionDragMove         Action = "drag_move"
	ActionDragEnd          Action = "drag_end"
	ActionReset            Action = "reset"
)

// Actions lists every supported action in presentation order.
var Actions = []Action{
	ActionToggleRun,
	ActionTimeForward,
	ActionTimeBack,
	ActionCoefficientsUp,
	ActionCoefficientsDown,
	ActionDragStart,
	ActionDragMove,
	ActionDragEnd,
	ActionReset,
}

var (
	// ErrUnknownAction is returned for commands naming an unsupported action.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidCommand is returned for structurally invalid commands.
	ErrInvalidCommand = errors.New("invalid command")
)

// ParseAction normalises raw into a known Action.
func ParseAction(raw string) (Action, error) {
	candidate := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, action := range Actions {
		if action == candidate {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownAction, raw)
}

// Pointer reports whether the action carries pointer coordinates. Pointer
// actions stream at input rate and are exempt from discrete throttling.
func (a Action) Pointer() bool {
	switch a {
	case ActionDragStart, ActionDragMove, ActionDragEnd:
		return true
	default:
		return false
	}
}

// Command is one control input from a viewer.
type Command struct {
	Sequence uint64  `json:"sequence_id"`
	Action   Action  `json:"action"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	// Viewer identifies the sender; it is assigned by the transport.
	Viewer string `json:"-"`
}

// Validate checks the action name and, for drag moves, the canvas size.
func (c Command) Validate() error {
	action, err := ParseAction(string(c.Action))
	if err != nil {
		return err
	}
	if action == ActionDragMove && (c.Width <= 0 || c.Height <= 0) {
		return fmt.Errorf("%w: drag_move requires a positive width and height", ErrInvalidCommand)
	}
	return nil
}

// Position returns the command's pointer coordinate.
func (c Command) Position() Point { return Point{X: c.X, Y: c.Y} }
