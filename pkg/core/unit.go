// pkg/core/unit.go
package core

import "time"

// Position is the last known fix of a unit.
type Position struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	SpeedKph       float64   `json:"speedKph"`
	CourseDeg      float64   `json:"courseDeg"`
	Timestamp      time.Time `json:"timestamp"`
	SatelliteCount *int      `json:"satelliteCount,omitempty"`
}

// Sensor is a normalized unit sensor definition.
type Sensor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Units string `json:"units,omitempty"`
	Param string `json:"param,omitempty"`
}

// Unit is a tracked vehicle or asset.
// Position is nil when the unit has never reported or is offline.
type Unit struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	UniqueID          string           `json:"uniqueId"`
	RegistrationPlate string           `json:"registrationPlate,omitempty"`
	IconURL           string           `json:"iconUrl"`
	Position          *Position        `json:"position,omitempty"`
	Sensors           map[int64]Sensor `json:"sensors,omitempty"`
	LastMessageAt     *time.Time       `json:"lastMessageAt,omitempty"`
}

// HasPosition reports whether the unit can be projected onto the map.
func (u Unit) HasPosition() bool {
	return u.Position != nil
}

// Marker is the on-map projection of a positioned unit.
type Marker struct {
	UnitID  int64   `json:"unitId"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	IconURL string  `json:"iconUrl"`
}
