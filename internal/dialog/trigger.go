package dialog

import "strings"

// TriggerType is the coarse cause of a panic episode.
type TriggerType string

const (
	TriggerNone   TriggerType = ""
	TriggerHealth TriggerType = "health"
	TriggerFight  TriggerType = "fight"
)

// "stomach ache" never matches a single token; it stays for parity with the
// keyword list used by the dialog platform.
var (
	healthKeywords = map[string]bool{"headache": true, "stomach": true, "stomach ache": true, "sick": true, "pain": true}
	fightKeywords  = map[string]bool{"fight": true, "argument": true, "disagreement": true, "fighting": true}
)

// ClassifyTrigger scans the whitespace tokens of values left to right. Each
// matching token overwrites the result, so the last match wins.
func ClassifyTrigger(values ...string) TriggerType {
	tt := TriggerNone
	for _, word := range strings.Fields(strings.ToLower(strings.Join(values, " "))) {
		if healthKeywords[word] {
			tt = TriggerHealth
		} else if fightKeywords[word] {
			tt = TriggerFight
		}
	}
	return tt
}

// Location is where a panic episode happened.
type Location string

const (
	LocationNone   Location = ""
	LocationHome   Location = "home"
	LocationWork   Location = "work"
	LocationSchool Location = "school"
)

// ParseLocation maps a LOCATION slot value onto a known location.
func ParseLocation(value string) Location {
	switch l := Location(strings.ToLower(strings.TrimSpace(value))); l {
	case LocationHome, LocationWork, LocationSchool:
		return l
	default:
		return LocationNone
	}
}

// panicAdviceSub picks one of the nine panic paragraphs.
func panicAdviceSub(tt TriggerType, loc Location) string {
	if tt == TriggerNone {
		return "unknown"
	}
	if loc == LocationNone {
		return string(tt)
	}
	return string(loc) + "_" + string(tt)
}
