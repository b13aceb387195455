package domain

// PersonalityType selects the tone used to restyle assistant replies.
type PersonalityType string

const (
	PersonalityCalmMentor  PersonalityType = "calm_mentor"
	PersonalityWittyFriend PersonalityType = "witty_friend"
	PersonalityTherapist   PersonalityType = "therapist"
	PersonalityNeutral     PersonalityType = "neutral"
)

// PersonalityTypes lists every known personality in display order.
var PersonalityTypes = []PersonalityType{
	PersonalityCalmMentor,
	PersonalityWittyFriend,
	PersonalityTherapist,
	PersonalityNeutral,
}

// Valid reports whether p is a known personality.
func (p PersonalityType) Valid() bool {
	for _, known := range PersonalityTypes {
		if p == known {
			return true
		}
	}
	return false
}

// Frame is the fixed text wrapped around a reply when no completion service
// is available.
type Frame struct {
	Prefix string `json:"-" yaml:"prefix"`
	Suffix string `json:"-" yaml:"suffix"`
}

// Apply wraps reply in the frame. An empty frame returns reply unchanged.
func (f Frame) Apply(reply string) string {
	out := reply
	if f.Prefix != "" {
		out = f.Prefix + " " + out
	}
	if f.Suffix != "" {
		out = out + " " + f.Suffix
	}
	return out
}

// PersonalityConfig describes one entry of the personality catalog.
type PersonalityConfig struct {
	Type        PersonalityType `json:"type" yaml:"type"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Tone        string          `json:"tone" yaml:"tone"`
	Examples    []string        `json:"examples" yaml:"examples"`
	Frame       Frame           `json:"-" yaml:"frame"`
}
