package sdk

import (
	"context"
	"encoding/json"
	"fmt"
)

// RawZonePoint is a zone vertex on the wire.
type RawZonePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r,omitempty"`
}

// RawZone is a zone as returned by resource/get_zone_data.
type RawZone struct {
	ID     int64          `json:"id"`
	Name   string         `json:"n"`
	Desc   string         `json:"d,omitempty"`
	Type   int            `json:"t"`
	Width  float64        `json:"w"`
	Color  uint32         `json:"c"`
	Points []RawZonePoint `json:"p"`
}

// ZonePayload is the body of a zone creation request.
type ZonePayload struct {
	Name   string         `json:"n"`
	Desc   string         `json:"d"`
	Type   int            `json:"t"`
	Width  float64        `json:"w"`
	Flags  int            `json:"f"`
	Color  uint32         `json:"c"`
	Points []RawZonePoint `json:"p"`
}

// ZoneData fetches every zone of a resource.
func (c *Client) ZoneData(ctx context.Context, resourceID int64) ([]RawZone, error) {
	var zones []RawZone
	params := map[string]any{"itemId": resourceID, "col": []int64{}, "flags": 0x1f}
	if err := c.call(ctx, "resource/get_zone_data", params, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// CreateZone creates a zone on a resource and returns it as stored remotely.
func (c *Client) CreateZone(ctx context.Context, resourceID int64, p ZonePayload) (RawZone, error) {
	params := map[string]any{
		"itemId":   resourceID,
		"id":       0,
		"callMode": "create",
		"n":        p.Name,
		"d":        p.Desc,
		"t":        p.Type,
		"w":        p.Width,
		"f":        p.Flags,
		"c":        p.Color,
		"p":        p.Points,
	}

	// response is [id, zone]
	var resp []json.RawMessage
	if err := c.call(ctx, "resource/update_zone", params, &resp); err != nil {
		return RawZone{}, err
	}
	if len(resp) < 2 {
		return RawZone{}, fmt.Errorf("resource/update_zone: unexpected response length %d", len(resp))
	}

	var zone RawZone
	if err := json.Unmarshal(resp[1], &zone); err != nil {
		return RawZone{}, fmt.Errorf("resource/update_zone: decode zone: %w", err)
	}
	if zone.ID == 0 {
		_ = json.Unmarshal(resp[0], &zone.ID)
	}
	return zone, nil
}
