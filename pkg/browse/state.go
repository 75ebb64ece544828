package browse

import (
	"fmt"

	"github.com/nairobi-verified/marketplace-client/pkg/query"
)

// Status is the lifecycle position of a Controller.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusDebouncing Status = "debouncing"
	StatusFetching   Status = "fetching"
	StatusSettled    Status = "settled"
	StatusError      Status = "error"
)

// SearchHint is shown inline while the search text is too short to be sent.
var SearchHint = fmt.Sprintf("Type at least %d characters to search", query.MinSearchLength)

// FailureMessage is the notification text for a failed load of label.
func FailureMessage(label string) string {
	return fmt.Sprintf("Failed to load %s. Please try again.", label)
}

// State is a point-in-time view of a Controller for rendering.
type State[T any] struct {
	Status Status

	// Filter is the filter the user has asked for, including edits that are
	// still debouncing.
	Filter query.FilterState

	// Items, Total and HasMore describe the visible list.
	Items   []T
	Total   int
	HasMore bool

	// Loading is set during a first-page load that should show an indicator.
	// LoadingMore is set while an appended page is loading.
	Loading     bool
	LoadingMore bool

	// Err and Message are set after a failed load.
	Err     error
	Message string

	// Hint is an inline validation message, not a notification.
	Hint string

	// Version increases with every change.
	Version uint64
}

// Level is the severity of a Notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a transient user-facing message.
type Notification struct {
	Level   Level
	Label   string
	Message string
	Err     error
}

// Notifier shows transient notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }
