// Package mapsurface defines the map primitives the sync engine and the
// geofence manager draw on.
package mapsurface

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MarkerOptions configures a new marker. OnClick may be nil.
type MarkerOptions struct {
	IconURL string
	Title   string
	OnClick func()
}

// Style configures zone overlays.
type Style struct {
	Color  string  `json:"color,omitempty"`
	Weight float64 `json:"weight,omitempty"`
	Label  string  `json:"label,omitempty"`
}

// Marker is a live marker handle. Remove also detaches its click listener.
type Marker interface {
	SetLatLng(at LatLng)
	SetIcon(url string)
	Remove()
}

// Shape is a live overlay handle.
type Shape interface {
	Remove()
}

// Surface is a map rendering target.
type Surface interface {
	AddMarker(at LatLng, opts MarkerOptions) Marker
	AddCircle(center LatLng, radiusMeters float64, style Style) Shape
	AddPolygon(points []LatLng, style Style) Shape
	AddPolyline(points []LatLng, style Style) Shape
	// OnMapClick registers fn for clicks on empty map area and returns a
	// function that detaches it.
	OnMapClick(fn func(LatLng)) (detach func())
}
