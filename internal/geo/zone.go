package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/OCAP2/fleetlink/pkg/core"
)

// sequence projects zone points into a flat EPSG:3857 sequence.
func sequence(points []core.ZonePoint, closeRing bool) (geom.Sequence, error) {
	flat := make([]float64, 0, (len(points)+1)*2)
	for i, p := range points {
		if !ValidLatLng(p.Y, p.X) {
			return geom.Sequence{}, fmt.Errorf("point %d: %w", i, ErrInvalidCoordinates)
		}
		x, y := Mercator(p.X, p.Y)
		flat = append(flat, x, y)
	}
	if closeRing {
		first, last := points[0], points[len(points)-1]
		if first.X != last.X || first.Y != last.Y {
			flat = append(flat, flat[0], flat[1])
		}
	}
	return geom.NewSequence(flat, geom.DimXY), nil
}

// CircleRadius returns the radius of a circle zone in metres.
func CircleRadius(z core.Zone) float64 {
	if len(z.Points) > 0 && z.Points[0].R > 0 {
		return z.Points[0].R
	}
	return z.Width
}

// Geometry builds the projected geometry of a zone. A circle is returned as
// its centre point; use CircleRadius for its extent.
func Geometry(z core.Zone) (geom.Geometry, error) {
	switch z.Type {
	case core.ZoneCircle:
		if len(z.Points) < 1 {
			return geom.Geometry{}, fmt.Errorf("circle zone %d has no centre", z.ID)
		}
		pt, err := Coords3857From4326(z.Points[0].X, z.Points[0].Y)
		if err != nil {
			return geom.Geometry{}, err
		}
		return pt.AsGeometry(), nil
	case core.ZonePolygon:
		if len(z.Points) < 3 {
			return geom.Geometry{}, fmt.Errorf("polygon zone %d needs at least 3 points, got %d", z.ID, len(z.Points))
		}
		seq, err := sequence(z.Points, true)
		if err != nil {
			return geom.Geometry{}, err
		}
		ring, err := geom.NewLineString(seq)
		if err != nil {
			return geom.Geometry{}, fmt.Errorf("polygon zone %d ring: %w", z.ID, err)
		}
		poly, err := geom.NewPolygon([]geom.LineString{ring})
		if err != nil {
			return geom.Geometry{}, fmt.Errorf("polygon zone %d: %w", z.ID, err)
		}
		return poly.AsGeometry(), nil
	case core.ZonePolyline:
		if len(z.Points) < 2 {
			return geom.Geometry{}, fmt.Errorf("polyline zone %d needs at least 2 points, got %d", z.ID, len(z.Points))
		}
		seq, err := sequence(z.Points, false)
		if err != nil {
			return geom.Geometry{}, err
		}
		line, err := geom.NewLineString(seq)
		if err != nil {
			return geom.Geometry{}, fmt.Errorf("polyline zone %d: %w", z.ID, err)
		}
		return line.AsGeometry(), nil
	default:
		return geom.Geometry{}, fmt.Errorf("zone %d has unsupported type %s", z.ID, z.Type)
	}
}

// WKB encodes the projected zone geometry.
func WKB(z core.Zone) ([]byte, error) {
	g, err := Geometry(z)
	if err != nil {
		return nil, err
	}
	return g.AsBinary(), nil
}

// Contains reports whether the coordinate lies inside the zone. Polylines
// count as corridors of the zone's width.
func Contains(z core.Zone, lat, lng float64) bool {
	if !ValidLatLng(lat, lng) {
		return false
	}
	switch z.Type {
	case core.ZoneCircle:
		if len(z.Points) < 1 {
			return false
		}
		c := z.Points[0]
		return DistanceMeters(c.Y, c.X, lat, lng) <= CircleRadius(z)
	case core.ZonePolygon, core.ZonePolyline:
		g, err := Geometry(z)
		if err != nil {
			return false
		}
		pt, err := Coords3857From4326(lng, lat)
		if err != nil {
			return false
		}
		if z.Type == core.ZonePolygon {
			return geom.Intersects(g, pt.AsGeometry())
		}
		d, ok := geom.Distance(g, pt.AsGeometry())
		if !ok {
			return false
		}
		return d*scale(lat) <= z.Width/2
	default:
		return false
	}
}
