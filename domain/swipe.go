package domain

// Direction is the horizontal direction of a committed swipe.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Theme is the color family used to render an action panel.
type Theme string

const (
	ThemeGreen Theme = "green"
	ThemeBlue  Theme = "blue"
	ThemeAmber Theme = "amber"
	ThemeRed   Theme = "red"
)

// SwipeAction is the action revealed behind a row for one swipe direction.
// It is keyed by its target status; the display fields are derived from it.
type SwipeAction struct {
	Target Status `json:"target"`
	Label  string `json:"label"`
	Icon   string `json:"icon"`
	Theme  Theme  `json:"theme"`
}

// ActionFor builds the descriptor for a transition into target.
func ActionFor(target Status) SwipeAction {
	a := SwipeAction{Target: target, Label: target.Label()}
	switch target {
	case StatusCompleted:
		a.Icon, a.Theme = "check-circle", ThemeGreen
	case StatusTodo:
		a.Icon, a.Theme = "list-todo", ThemeBlue
	case StatusInProgress:
		a.Icon, a.Theme = "play-circle", ThemeAmber
	case StatusBacklog:
		a.Icon, a.Theme = "archive", ThemeRed
	}
	return a
}

type swipeTargets struct {
	left, right Status
}

// swipeTable maps a current status to its left and right targets. An empty
// target means the direction has no action.
var swipeTable = map[Status]swipeTargets{
	StatusTodo:       {left: StatusCompleted, right: StatusBacklog},
	StatusInProgress: {left: StatusCompleted, right: StatusBacklog},
	StatusCompleted:  {left: StatusInProgress, right: StatusTodo},
	StatusBacklog:    {left: StatusTodo},
}

// LookupSwipe returns the action for swiping a task in status current toward
// dir. ok is false when the direction has no action.
func LookupSwipe(current Status, dir Direction) (SwipeAction, bool) {
	row, ok := swipeTable[current]
	if !ok {
		return SwipeAction{}, false
	}
	var target Status
	switch dir {
	case DirectionLeft:
		target = row.left
	case DirectionRight:
		target = row.right
	}
	if target == "" {
		return SwipeAction{}, false
	}
	return ActionFor(target), true
}

// SwipeActions resolves both directions at once.
type SwipeActions struct {
	Left    SwipeAction
	Right   SwipeAction
	LeftOK  bool
	RightOK bool
}

func SwipeActionsFor(current Status) SwipeActions {
	var sa SwipeActions
	sa.Left, sa.LeftOK = LookupSwipe(current, DirectionLeft)
	sa.Right, sa.RightOK = LookupSwipe(current, DirectionRight)
	return sa
}

// Has reports whether dir has an action.
func (sa SwipeActions) Has(dir Direction) bool {
	switch dir {
	case DirectionLeft:
		return sa.LeftOK
	case DirectionRight:
		return sa.RightOK
	}
	return false
}

// Any reports whether at least one direction has an action.
func (sa SwipeActions) Any() bool {
	return sa.LeftOK || sa.RightOK
}
