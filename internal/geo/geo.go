// Package geo turns zones and positions into simplefeatures geometries and
// answers containment questions about them.
package geo

import (
	"errors"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Geometries are projected to EPSG:3857 so planar predicates work in metres.
// Mercator stretches distances by 1/cos(lat); DistanceMeters corrects for it.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var to3857 = wgs84.EPSG().Transform(4326, 3857)

// ValidLatLng reports whether lat and lng are finite and within WGS84 range.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Mercator projects a longitude and latitude to EPSG:3857.
func Mercator(lng, lat float64) (x, y float64) {
	x, y, _ = to3857(lng, lat, 0)
	return x, y
}

// Coords3857From4326 creates a projected point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if !ValidLatLng(latitude, longitude) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	x, y := Mercator(longitude, latitude)
	point, err = geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Type: geom.DimXY,
		},
	)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("build point: %w", err)
	}
	return point, nil
}

// scale is the Mercator scale factor at a latitude.
func scale(lat float64) float64 {
	return math.Cos(lat * math.Pi / 180)
}

// DistanceMeters approximates the ground distance between two coordinates.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	x1, y1 := Mercator(lng1, lat1)
	x2, y2 := Mercator(lng2, lat2)
	return math.Hypot(x2-x1, y2-y1) * scale((lat1+lat2)/2)
}
