// Package convert maps raw remote API shapes into pkg/core DTOs.
// Every function is total: absent or malformed fields become zero values.
package convert

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// IconSize is the pixel size requested for unit icons.
const IconSize = 32

// registrationPlateField is the profile field holding the plate number.
const registrationPlateField = "registration_plate"

// User converts a raw login user.
func User(u sdk.RawUser) core.User {
	return core.User{ID: u.ID, Name: u.Name}
}

// Resource converts a raw resource item.
func Resource(it sdk.Item) core.Resource {
	return core.Resource{ID: it.ID(), Name: str(it, "nm")}
}

// Unit converts a raw unit item. iconBase is the API base URL used to
// resolve relative icon paths.
func Unit(it sdk.Item, iconBase string) core.Unit {
	u := core.Unit{
		ID:       it.ID(),
		Name:     str(it, "nm"),
		UniqueID: str(it, "uid"),
		IconURL:  iconURL(iconBase, str(it, "uri")),
	}

	if pos := object(it, "pos"); pos != nil {
		u.Position = position(pos)
	}
	if lmsg := object(it, "lmsg"); lmsg != nil {
		if ts, ok := num(lmsg, "t"); ok && ts > 0 {
			t := time.Unix(int64(ts), 0).UTC()
			u.LastMessageAt = &t
		}
		// fall back to the last message position when pos was not requested
		if u.Position == nil {
			if pos := object(lmsg, "pos"); pos != nil {
				u.Position = position(pos)
				if u.Position != nil && u.Position.Timestamp.IsZero() && u.LastMessageAt != nil {
					u.Position.Timestamp = *u.LastMessageAt
				}
			}
		}
	}
	u.Sensors = sensors(it)
	u.RegistrationPlate = plate(it)
	return u
}

// Zone converts a raw zone of resourceID.
func Zone(z sdk.RawZone, resourceID int64) core.Zone {
	points := make([]core.ZonePoint, len(z.Points))
	for i, p := range z.Points {
		points[i] = core.ZonePoint{X: p.X, Y: p.Y, R: p.R}
	}
	return core.Zone{
		ID:         z.ID,
		Name:       z.Name,
		Type:       zoneType(z.Type),
		Width:      z.Width,
		Points:     points,
		Color:      z.Color,
		ResourceID: resourceID,
	}
}

// ZonePayload converts a zone into a creation payload.
func ZonePayload(z core.Zone) sdk.ZonePayload {
	points := make([]sdk.RawZonePoint, len(z.Points))
	for i, p := range z.Points {
		points[i] = sdk.RawZonePoint{X: p.X, Y: p.Y, R: p.R}
	}
	return sdk.ZonePayload{
		Name:   z.Name,
		Type:   int(z.Type),
		Width:  z.Width,
		Flags:  0,
		Color:  z.Color,
		Points: points,
	}
}

func zoneType(t int) core.ZoneType {
	switch core.ZoneType(t) {
	case core.ZonePolyline, core.ZonePolygon, core.ZoneCircle:
		return core.ZoneType(t)
	default:
		return core.ZoneUnknown
	}
}

func position(pos map[string]json.RawMessage) *core.Position {
	lng, okX := num(pos, "x")
	lat, okY := num(pos, "y")
	if !okX || !okY {
		return nil
	}
	p := &core.Position{Lat: lat, Lng: lng}
	p.SpeedKph, _ = num(pos, "s")
	p.CourseDeg, _ = num(pos, "c")
	if ts, ok := num(pos, "t"); ok && ts > 0 {
		p.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	if sc, ok := num(pos, "sc"); ok {
		n := int(sc)
		p.SatelliteCount = &n
	}
	return p
}

func sensors(it sdk.Item) map[int64]core.Sensor {
	raw := object(it, "sens")
	if len(raw) == 0 {
		return nil
	}
	out := make(map[int64]core.Sensor, len(raw))
	for key, val := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(val, &fields); err != nil {
			continue
		}
		id, ok := num(fields, "id")
		if !ok {
			parsed, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				continue
			}
			id = float64(parsed)
		}
		out[int64(id)] = core.Sensor{
			ID:    int64(id),
			Name:  str(fields, "n"),
			Type:  str(fields, "t"),
			Units: str(fields, "m"),
			Param: str(fields, "p"),
		}
	}
	return out
}

func plate(it sdk.Item) string {
	for _, val := range object(it, "pflds") {
		var field map[string]json.RawMessage
		if err := json.Unmarshal(val, &field); err != nil {
			continue
		}
		if str(field, "n") == registrationPlateField {
			return str(field, "v")
		}
	}
	return ""
}

func iconURL(base, uri string) string {
	if uri == "" {
		return ""
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(uri, "/") + sep + "b=" + strconv.Itoa(IconSize)
}

func object(m map[string]json.RawMessage, key string) map[string]json.RawMessage {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func str(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func num(m map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
