package sdk

import (
	"context"
	"encoding/json"
	"sort"
)

// Item types understood by the remote API.
const (
	ItemsTypeUnit     = "avl_unit"
	ItemsTypeResource = "avl_resource"
)

// Item is a raw remote item. Field decoding is left to internal/convert so a
// single malformed field never fails the whole response.
type Item map[string]json.RawMessage

// ID returns the item id, or 0 if absent or malformed.
func (it Item) ID() int64 {
	var id int64
	if raw, ok := it["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	return id
}

// FlagSpec selects which data groups the backend populates for an item type.
type FlagSpec struct {
	Type  string `json:"type"`
	Data  string `json:"data"`
	Flags uint64 `json:"flags"`
	Mode  int    `json:"mode"`
}

// TypeSpec requests flags for every item of itemsType.
func TypeSpec(itemsType string, flags uint64) FlagSpec {
	return FlagSpec{Type: "type", Data: itemsType, Flags: flags, Mode: 0}
}

type flagUpdate struct {
	ID    int64 `json:"i"`
	Data  Item  `json:"d"`
	Flags int64 `json:"f"`
}

// UpdateDataFlags issues a single core/update_data_flags request and replaces
// the local item cache for spec.Data with the returned items.
func (c *Client) UpdateDataFlags(ctx context.Context, spec FlagSpec) error {
	var updates []flagUpdate
	params := map[string]any{"spec": []FlagSpec{spec}}
	if err := c.call(ctx, "core/update_data_flags", params, &updates); err != nil {
		return err
	}

	fresh := make(map[int64]Item, len(updates))
	for _, u := range updates {
		if u.Data == nil {
			continue
		}
		id := u.ID
		if id == 0 {
			id = u.Data.ID()
		}
		fresh[id] = u.Data
	}

	c.mu.Lock()
	c.items[spec.Data] = fresh
	c.mu.Unlock()
	return nil
}

// Items returns the cached items of itemsType ordered by id.
func (c *Client) Items(itemsType string) []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached := c.items[itemsType]
	out := make([]Item, 0, len(cached))
	for _, it := range cached {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
