package geofence

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleSelection is returned by SelectResource when another resource
	// was selected before its zones arrived. The stale zones are discarded.
	ErrStaleSelection = errors.New("resource selection superseded")
	// ErrNoResource is returned by CreateZone when no resource is selected.
	ErrNoResource = errors.New("no resource selected")
	// ErrNoDraft is returned by CreateZone when the draft has no usable geometry.
	ErrNoDraft = errors.New("no zone geometry drawn")
	// ErrEmptyName is returned by CreateZone for a blank zone name.
	ErrEmptyName = errors.New("zone name is required")
)

// ZoneError is a zone list or create failure reported by the remote API.
// Message is the API's own text for Code.
type ZoneError struct {
	Code    int
	Message string
}

func (e *ZoneError) Error() string {
	return fmt.Sprintf("zone request failed (code %d): %s", e.Code, e.Message)
}
