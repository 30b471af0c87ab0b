// Package streaming defines the envelope protocol spoken with the map front end.
package streaming

import (
	"encoding/json"
)

// Outbound message types (daemon → map front end).
const (
	TypeAddMarker   = "add_marker"
	TypeMoveMarker  = "move_marker"
	TypeSetIcon     = "set_icon"
	TypeAddCircle   = "add_circle"
	TypeAddPolygon  = "add_polygon"
	TypeAddPolyline = "add_polyline"
	TypeRemove      = "remove"
	TypeReset       = "reset"
	TypeResult      = "command_result"
)

// Inbound message types (map front end → daemon).
const (
	TypeMarkerClick    = "marker_click"
	TypeMapClick       = "map_click"
	TypeSelectResource = "select_resource"
	TypeCreateZone     = "create_zone"
	TypeRefresh        = "refresh"
	TypeListResources  = "list_resources"
	TypeSetDraftMode   = "set_draft_mode"
	TypeSetDraftRadius = "set_draft_radius"
	TypeClearDraft     = "clear_draft"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// LatLng is a coordinate on the wire.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MarkerPayload carries add_marker.
type MarkerPayload struct {
	ID      string `json:"id"`
	At      LatLng `json:"at"`
	IconURL string `json:"iconUrl,omitempty"`
	Title   string `json:"title,omitempty"`
}

// MovePayload carries move_marker.
type MovePayload struct {
	ID string `json:"id"`
	At LatLng `json:"at"`
}

// IconPayload carries set_icon.
type IconPayload struct {
	ID      string `json:"id"`
	IconURL string `json:"iconUrl"`
}

// ShapePayload carries add_circle, add_polygon and add_polyline.
type ShapePayload struct {
	ID     string   `json:"id"`
	Points []LatLng `json:"points"`
	Radius float64  `json:"radius,omitempty"`
	Color  string   `json:"color,omitempty"`
	Weight float64  `json:"weight,omitempty"`
	Label  string   `json:"label,omitempty"`
}

// RemovePayload carries remove for markers and shapes.
type RemovePayload struct {
	ID string `json:"id"`
}

// ClickPayload carries marker_click.
type ClickPayload struct {
	ID string `json:"id"`
}

// SelectResourcePayload carries select_resource.
type SelectResourcePayload struct {
	ResourceID int64 `json:"resourceId"`
}

// CreateZonePayload carries create_zone for the current draft.
type CreateZonePayload struct {
	Name  string `json:"name"`
	Color uint32 `json:"color,omitempty"`
}

// DraftModePayload carries set_draft_mode. Type uses the remote zone type
// codes: 1 polyline, 2 polygon, 3 circle.
type DraftModePayload struct {
	Type int `json:"type"`
}

// DraftRadiusPayload carries set_draft_radius.
type DraftRadiusPayload struct {
	Radius float64 `json:"radius"`
}

// ResultPayload carries command_result, the outcome of an inbound command.
type ResultPayload struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}
