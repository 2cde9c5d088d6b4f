package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"tailortalk/internal/apperr"
)

// FallbackReply is returned whenever the model output cannot be understood.
const FallbackReply = "Sorry, I couldn't understand that."

// ActionKind is the closed set of actions the model may request.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionCheckAvailability
	ActionBook
)

func (a ActionKind) String() string {
	switch a {
	case ActionCheckAvailability:
		return "check_availability"
	case ActionBook:
		return "book"
	default:
		return "none"
	}
}

// ParseAction maps a wire value to an ActionKind. Anything unknown is
// ActionNone.
func ParseAction(s string) ActionKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "check_availability":
		return ActionCheckAvailability
	case "book":
		return ActionBook
	default:
		return ActionNone
	}
}

// ParsedIntent is the structured reading of one model reply.
type ParsedIntent struct {
	ReplyText  string
	Action     ActionKind
	TimePhrase string
}

// FallbackIntent is the intent used for malformed model output.
func FallbackIntent() ParsedIntent {
	return ParsedIntent{ReplyText: FallbackReply, Action: ActionNone}
}

// DecodeIntent strictly decodes the model's JSON reply. The payload must be
// exactly one JSON object; reply, action and time must be strings (or null)
// when present.
func DecodeIntent(raw string) (ParsedIntent, error) {
	dec := json.NewDecoder(strings.NewReader(raw))

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return ParsedIntent{}, apperr.Wrap(err, apperr.CodeLLMMalformed, "decode model reply")
	}
	if fields == nil {
		return ParsedIntent{}, apperr.New(apperr.CodeLLMMalformed, "model reply is not a JSON object")
	}
	if dec.More() {
		return ParsedIntent{}, apperr.New(apperr.CodeLLMMalformed, "trailing data after model reply")
	}

	reply, err := stringField(fields, "reply")
	if err != nil {
		return ParsedIntent{}, err
	}
	action, err := stringField(fields, "action")
	if err != nil {
		return ParsedIntent{}, err
	}
	phrase, err := stringField(fields, "time")
	if err != nil {
		return ParsedIntent{}, err
	}

	return ParsedIntent{
		ReplyText:  strings.TrimSpace(reply),
		Action:     ParseAction(action),
		TimePhrase: strings.TrimSpace(phrase),
	}, nil
}

// ParseIntent is DecodeIntent with the malformed case folded into
// FallbackIntent. It never fails; onMalformed hooks see the decode error.
func ParseIntent(raw string, onMalformed ...func(error)) ParsedIntent {
	intent, err := DecodeIntent(raw)
	if err != nil {
		for _, fn := range onMalformed {
			fn(err)
		}
		return FallbackIntent()
	}
	return intent
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	v, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", apperr.Wrap(err, apperr.CodeLLMMalformed, "field is not a string").WithContext("field", key)
	}
	return s, nil
}
