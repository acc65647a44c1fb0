package placement

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Reason enumerates the caller-facing rejection causes for a placement.
type Reason string

const (
	// ReasonBoardNotFound indicates the target board does not exist.
	ReasonBoardNotFound Reason = "board_not_found"
	// ReasonBoardInactive indicates the board is disabled or outside its time window.
	ReasonBoardInactive Reason = "board_inactive"
	// ReasonOutOfBounds indicates the coordinate lies outside the board grid.
	ReasonOutOfBounds Reason = "out_of_bounds"
	// ReasonInvalidColor indicates the color is not a well-formed hex value.
	ReasonInvalidColor Reason = "invalid_color"
	// ReasonCooldownActive indicates the user must wait before placing again.
	ReasonCooldownActive Reason = "cooldown_active"
	// ReasonOverwriteForbidden indicates the coordinate is already set on a
	// board that disallows overwriting.
	ReasonOverwriteForbidden Reason = "overwrite_forbidden"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ErrInvalidColor indicates a color value that is not an RGB hex string.
var ErrInvalidColor = errors.New("placement: invalid color")

// ValidateColor checks the required #RRGGBB hex format.
func ValidateColor(value string) error {
	if !colorPattern.MatchString(strings.TrimSpace(value)) {
		return fmt.Errorf("%w: %q", ErrInvalidColor, value)
	}
	return nil
}

// NormalizeColor maps a validated color to its canonical uppercase form,
// the form stored in the event log.
func NormalizeColor(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// RejectionError is a recoverable, caller-facing placement rejection. It
// never corresponds to a partial commit: the event log is untouched.
type RejectionError struct {
	Reason           Reason
	RemainingSeconds int64
	detail           string
}

func (e *RejectionError) Error() string {
	if e.Reason == ReasonCooldownActive {
		return fmt.Sprintf("placement rejected: %s (%ds remaining)", e.Reason, e.RemainingSeconds)
	}
	if e.detail != "" {
		return fmt.Sprintf("placement rejected: %s (%s)", e.Reason, e.detail)
	}
	return fmt.Sprintf("placement rejected: %s", e.Reason)
}

func newRejection(reason Reason, detail string) *RejectionError {
	return &RejectionError{Reason: reason, detail: detail}
}

func newCooldownRejection(remainingSeconds int64) *RejectionError {
	return &RejectionError{Reason: ReasonCooldownActive, RemainingSeconds: remainingSeconds}
}

// AsRejection extracts a RejectionError from an error chain.
func AsRejection(err error) (*RejectionError, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

// TransientError marks a retryable failure (lock contention, storage
// unavailable). A transient failure guarantees no partial commit occurred.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("placement transient failure: %v", e.err)
}

func (e *TransientError) Unwrap() error {
	return e.err
}

func newTransient(cause error) *TransientError {
	return &TransientError{err: cause}
}

// IsTransient reports whether the error is retryable by the caller.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// PlacementEvent is the immutable record of one accepted placement. Events
// are created only by the coordinator on successful commit and never
// mutated or deleted afterwards. The JSON shape is also the wire payload
// pushed to subscribers and returned by catch-up.
type PlacementEvent struct {
	EventID     string `gorm:"column:event_id;primaryKey;size:190;not null" json:"-"`
	BoardID     string `gorm:"column:board_id;size:190;not null;index:idx_events_board_time,priority:1;index:idx_events_board_user,priority:1;index:idx_events_board_cell,priority:1" json:"board_id"`
	X           int    `gorm:"column:x;not null;index:idx_events_board_cell,priority:2" json:"x"`
	Y           int    `gorm:"column:y;not null;index:idx_events_board_cell,priority:3" json:"y"`
	Color       string `gorm:"column:color;size:7;not null" json:"color"`
	UserID      string `gorm:"column:user_id;size:190;not null;default:'';index:idx_events_board_user,priority:2" json:"user_id,omitempty"`
	TimestampMS int64  `gorm:"column:timestamp_ms;not null;index:idx_events_board_time,priority:2" json:"timestamp"`
	Seq         int64  `gorm:"column:seq;not null" json:"seq"`
}

// TableName provides the explicit table binding for GORM.
func (PlacementEvent) TableName() string {
	return "placement_events"
}

// PlaceRequest is the validated-identity input to the coordinator. An empty
// UserID represents an anonymous placement; cooldown then does not apply.
type PlaceRequest struct {
	BoardID    string
	X          int
	Y          int
	Color      string
	UserID     string
	Privileged bool
}

// Coordinate addresses one cell of a board grid.
type Coordinate struct {
	X int
	Y int
}
