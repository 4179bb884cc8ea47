package item

import (
	"maps"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// Item is a controlled entity bound to an LPI and a PHI.
type Item struct {
	ID   string `json:"id" validate:"required,max=128,excludesall= /#+"`
	Name string `json:"name" validate:"max=255"`

	// Group is the queue routing key. Empty means the item gets its own
	// queue when dispatch runs in per-item mode, or the default queue in
	// group mode.
	Group string `json:"group,omitempty" validate:"max=64"`

	LPIType string         `json:"lpi_type" validate:"required"`
	PHIID   string         `json:"phi_id" validate:"required"`
	Config  map[string]any `json:"config,omitempty"`

	State State `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the last-known state of an item.
type State struct {
	Value     any        `json:"value,omitempty"`
	Valid     bool       `json:"valid"`
	Status    string     `json:"status,omitempty"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Cached returns the state in the form LPIs take for skip decisions.
func (s State) Cached() driver.Cached {
	return driver.Cached{Value: s.Value, Valid: s.Valid}
}

// StateFromResult builds the state to store after an LPI evaluation.
// A skip keeps prev's value; an error keeps prev's value but records the
// error text.
func StateFromResult(prev State, r driver.StateResult, at time.Time) State {
	at = at.UTC()
	next := State{
		Value:     prev.Value,
		Valid:     prev.Valid,
		Status:    string(r.Status),
		UpdatedAt: &at,
	}
	switch r.Status {
	case driver.StateValue:
		next.Value = r.Value
		next.Valid = true
	case driver.StateError:
		if r.Err != nil {
			next.Error = r.Err.Error()
		}
	}
	return next
}

// DeepCopy returns a copy of the item that shares no mutable state.
func (i *Item) DeepCopy() *Item {
	if i == nil {
		return nil
	}
	c := *i
	c.Config = deepCopyMap(i.Config)
	c.State = i.State.clone()
	return &c
}

func (s State) clone() State {
	c := s
	c.Value = deepCopyValue(s.Value)
	if s.UpdatedAt != nil {
		t := *s.UpdatedAt
		c.UpdatedAt = &t
	}
	return c
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case map[string]string:
		return maps.Clone(val)
	default:
		return v
	}
}

// LPISpec returns the driver spec that binds the item to its PHI.
func (i *Item) LPISpec() driver.LPISpec {
	return driver.LPISpec{
		Item:   i.ID,
		Type:   i.LPIType,
		PHI:    i.PHIID,
		Config: deepCopyMap(i.Config),
	}
}
