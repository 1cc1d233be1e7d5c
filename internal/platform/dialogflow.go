package platform

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/processor"
)

// intentStates maps legacy Dialogflow intent display names to dialog states.
var intentStates = map[string]dialog.State{
	"default welcome intent":                     dialog.Welcome,
	"introexplanation":                           dialog.IntroExplanation,
	"introexplanation - how are you?":            dialog.SentimentGatheringInitial,
	"introexplanation - how are you? - followup": dialog.SentimentGatheringFollowup,
	"mindfulnessexercise":                        dialog.MindfulnessIntro,
	"mindfulnessexercise - fallback":             dialog.MindfulnessFollowup1,
}

// DialogflowCodec speaks the Dialogflow ES fulfillment webhook format.
type DialogflowCodec struct{}

func (DialogflowCodec) Name() string { return Dialogflow }

type dialogflowRequest struct {
	ResponseID  string `json:"responseId"`
	Session     string `json:"session"`
	QueryResult struct {
		QueryText  string         `json:"queryText"`
		Parameters map[string]any `json:"parameters"`
		Intent     struct {
			DisplayName string `json:"displayName"`
		} `json:"intent"`
	} `json:"queryResult"`
}

type dialogflowEnvelope struct {
	turn dialog.Turn
}

func (e dialogflowEnvelope) Turn() dialog.Turn { return e.turn }

func (e dialogflowEnvelope) Reply(out processor.Outcome) any {
	return DialogflowResponse{FulfillmentText: out.Text}
}

// DialogflowResponse is the fulfillment reply body.
type DialogflowResponse struct {
	FulfillmentText string `json:"fulfillmentText"`
}

func (DialogflowCodec) Decode(r io.Reader) (Envelope, error) {
	var req dialogflowRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, badEnvelope("decode dialogflow request: %v", err)
	}

	userID := req.Session
	if i := strings.LastIndex(userID, "/"); i >= 0 {
		userID = userID[i+1:]
	}
	if userID == "" {
		return nil, badEnvelope("dialogflow request has no session")
	}

	slots := make(map[string][]string)
	for name, v := range req.QueryResult.Parameters {
		addSlot(slots, name, parameterValues(v)...)
	}

	return dialogflowEnvelope{turn: dialog.Turn{
		UserID:      userID,
		DialogState: intentState(req.QueryResult.Intent.DisplayName),
		Utterance:   req.QueryResult.QueryText,
		Slots:       slots,
	}}, nil
}

func intentState(displayName string) string {
	name := strings.TrimSpace(displayName)
	if s, ok := intentStates[strings.ToLower(name)]; ok {
		return s.Key()
	}
	return name
}

// parameterValues flattens a Dialogflow parameter into strings. Structured
// values (dates, durations) carry no slot text and are skipped.
func parameterValues(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case float64:
		return []string{strconv.FormatFloat(val, 'f', -1, 64)}
	case bool:
		return []string{strconv.FormatBool(val)}
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, parameterValues(item)...)
		}
		return out
	case map[string]any:
		if name, ok := val["name"].(string); ok {
			return []string{name}
		}
		return nil
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(val)}
	}
}
