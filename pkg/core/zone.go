// pkg/core/zone.go
package core

// Resource is a tracking-backend container that owns zones.
type Resource struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ZoneType is the geometry kind of a zone. Values match the vendor wire format.
type ZoneType int

const (
	ZoneUnknown  ZoneType = 0
	ZonePolyline ZoneType = 1
	ZonePolygon  ZoneType = 2
	ZoneCircle   ZoneType = 3
)

func (t ZoneType) String() string {
	switch t {
	case ZonePolyline:
		return "Polyline"
	case ZonePolygon:
		return "Polygon"
	case ZoneCircle:
		return "Circle"
	default:
		return "Unknown"
	}
}

// ZonePoint is a zone vertex. X is longitude, Y is latitude, R is the radius
// in meters (circles only).
type ZonePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r,omitempty"`
}

// Zone is a named geofence belonging to a resource.
type Zone struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Type       ZoneType    `json:"type"`
	Width      float64     `json:"width,omitempty"`
	Points     []ZonePoint `json:"points"`
	Color      uint32      `json:"color,omitempty"`
	ResourceID int64       `json:"resourceId"`
}
