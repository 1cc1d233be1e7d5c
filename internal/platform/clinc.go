package platform

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/processor"
)

// DefaultResponseSlot is the slot Clinc reads the business-logic reply from.
const DefaultResponseSlot = "_TEST_"

// ClincCodec speaks the Clinc business-logic webhook format. The request is
// echoed back with the next state and the reply slot filled in.
type ClincCodec struct {
	ResponseSlot string
}

func (ClincCodec) Name() string { return Clinc }

type clincSlot struct {
	Type   string           `json:"type,omitempty"`
	Values []clincSlotValue `json:"values"`
}

type clincSlotValue struct {
	Resolved int    `json:"resolved,omitempty"`
	Tokens   string `json:"tokens,omitempty"`
	Value    any    `json:"value"`
}

type clincEnvelope struct {
	raw          map[string]json.RawMessage
	slots        map[string]json.RawMessage
	turn         dialog.Turn
	responseSlot string
}

func (c ClincCodec) Decode(r io.Reader) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, badEnvelope("decode clinc request: %v", err)
	}
	if raw == nil {
		return nil, badEnvelope("clinc request is not an object")
	}

	userID := stringField(raw, "external_user_id")
	if userID == "" {
		userID = stringField(raw, "user_id")
	}
	if userID == "" {
		return nil, badEnvelope("clinc request has no user id")
	}

	var rawSlots map[string]json.RawMessage
	if s, ok := raw["slots"]; ok && string(s) != "null" {
		if err := json.Unmarshal(s, &rawSlots); err != nil {
			return nil, badEnvelope("decode clinc slots: %v", err)
		}
	}

	slots := make(map[string][]string, len(rawSlots))
	for name, v := range rawSlots {
		if name == c.ResponseSlot {
			continue
		}
		addSlot(slots, name, clincSlotValues(v)...)
	}

	return &clincEnvelope{
		raw:   raw,
		slots: rawSlots,
		turn: dialog.Turn{
			UserID:      userID,
			DialogState: stringField(raw, "state"),
			Utterance:   stringField(raw, "query"),
			Slots:       slots,
		},
		responseSlot: c.ResponseSlot,
	}, nil
}

func (e *clincEnvelope) Turn() dialog.Turn { return e.turn }

func (e *clincEnvelope) Reply(out processor.Outcome) any {
	body := make(map[string]json.RawMessage, len(e.raw)+2)
	for k, v := range e.raw {
		body[k] = v
	}

	slots := make(map[string]json.RawMessage, len(e.slots)+1)
	for k, v := range e.slots {
		slots[k] = v
	}
	slots[e.responseSlot] = mustJSON(clincSlot{
		Type:   "string",
		Values: []clincSlotValue{{Resolved: 1, Value: out.Text}},
	})

	body["slots"] = mustJSON(slots)
	if out.RawState != "" {
		body["state"] = mustJSON(out.RawState)
	} else {
		body["state"] = mustJSON(out.State.Key())
	}
	return body
}

// clincSlotValues accepts both {"values":[{"value":..}]} objects and plain
// string lists.
func clincSlotValues(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}

	var slot clincSlot
	if err := json.Unmarshal(raw, &slot); err != nil {
		return nil
	}
	out := make([]string, 0, len(slot.Values))
	for _, v := range slot.Values {
		switch val := v.Value.(type) {
		case string:
			out = append(out, val)
		case nil:
			out = append(out, v.Tokens)
		default:
			out = append(out, fmt.Sprint(val))
		}
	}
	return out
}

func stringField(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// mustJSON marshals values built from JSON-safe types.
func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("platform: marshal %T: %v", v, err))
	}
	return b
}
