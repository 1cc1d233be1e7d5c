// Package platform decodes conversational-platform webhook envelopes into
// dialog turns and encodes replies in the same platform's shape.
package platform

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/processor"
)

const (
	Dialogflow = "dialogflow"
	Clinc      = "clinc"
)

var ErrBadEnvelope = errors.New("malformed platform envelope")

// Envelope is one decoded webhook request.
type Envelope interface {
	Turn() dialog.Turn
	// Reply builds the JSON body answering this request.
	Reply(out processor.Outcome) any
}

type Codec interface {
	Name() string
	Decode(r io.Reader) (Envelope, error)
}

// New returns the codec for name. responseSlot is only used by Clinc.
func New(name, responseSlot string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Dialogflow, "":
		return DialogflowCodec{}, nil
	case Clinc:
		if responseSlot == "" {
			responseSlot = DefaultResponseSlot
		}
		return ClincCodec{ResponseSlot: responseSlot}, nil
	default:
		return nil, fmt.Errorf("unknown platform %q", name)
	}
}

// NormalizeSlotName maps platform slot names onto the names the dialog
// engine reads: "_TRIGGER_" and "trigger" both become "TRIGGER".
func NormalizeSlotName(name string) string {
	n := strings.Trim(strings.TrimSpace(name), "_")
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	n = strings.ToUpper(n)
	if n == "NAME" {
		return dialog.SlotStudentName
	}
	return n
}

func addSlot(slots map[string][]string, name string, values ...string) {
	key := NormalizeSlotName(name)
	if key == "" {
		return
	}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			slots[key] = append(slots[key], v)
		}
	}
}

func badEnvelope(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadEnvelope, fmt.Sprintf(format, args...))
}
