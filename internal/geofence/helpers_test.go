package geofence

import "github.com/OCAP2/fleetlink/internal/mapsurface"

func mapsurfaceLatLng(lat, lng float64) mapsurface.LatLng {
	return mapsurface.LatLng{Lat: lat, Lng: lng}
}
