package extract

import (
	"errors"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"vision-click/internal/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	errAbsent     = errors.New("value absent")
	errNotNumeric = errors.New("value is not numeric")
)

type object map[string]jsoniter.RawMessage

// rawPair is a coordinate pair as it appeared in the payload, before normalization.
type rawPair struct {
	X, Y  float64
	Space string
}

// pointSchema is one accepted place for the coordinate pair. Schemas are tried in order and the
// first populated one wins.
type pointSchema struct {
	name    string
	resolve func(obj object) (rawPair, error)
}

var pointSchemas = []pointSchema{
	{name: "coords", resolve: nestedPair("coords")},
	{name: "top_level", resolve: topLevelPair},
	{name: "coordinates", resolve: nestedPair("coordinates")},
	{name: "point", resolve: nestedPair("point")},
}

var (
	confidenceKeys = []string{"confidence", "score"}
	rationaleKeys  = []string{"rationale", "why", "reason"}
	actionKeys     = []string{"action", "action_kind", "type"}
)

var knownActions = map[string]entity.ActionKind{
	"click":  entity.ActionClick,
	"type":   entity.ActionType,
	"scroll": entity.ActionScroll,
	"noop":   entity.ActionNoop,
}

func decodeObject(candidate string) (object, bool) {
	data := []byte(strings.TrimSpace(candidate))
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return nil, false
	}

	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}

	return obj, true
}

func nestedPair(key string) func(obj object) (rawPair, error) {
	return func(obj object) (rawPair, error) {
		raw, ok := obj[key]
		if !ok || isNull(raw) {
			return rawPair{}, errAbsent
		}

		trimmed := strings.TrimSpace(string(raw))

		if strings.HasPrefix(trimmed, "[") {
			var items []jsoniter.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil || len(items) < 2 {
				return rawPair{}, errAbsent
			}

			return pairFrom(items[0], items[1], "")
		}

		inner, ok := decodeObject(trimmed)
		if !ok {
			return rawPair{}, errAbsent
		}

		return pairFrom(inner["x"], inner["y"], stringField(inner, "space"))
	}
}

func topLevelPair(obj object) (rawPair, error) {
	return pairFrom(obj["x"], obj["y"], stringField(obj, "space"))
}

func pairFrom(rawX, rawY jsoniter.RawMessage, space string) (rawPair, error) {
	if isNull(rawX) || isNull(rawY) {
		return rawPair{}, errAbsent
	}

	x, err := number(rawX)
	if err != nil {
		return rawPair{}, &fieldError{field: "x", err: err}
	}

	y, err := number(rawY)
	if err != nil {
		return rawPair{}, &fieldError{field: "y", err: err}
	}

	return rawPair{X: x, Y: y, Space: space}, nil
}

// number accepts a JSON number or a string holding one.
func number(raw jsoniter.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, errAbsent
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errNotNumeric
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errNotNumeric
	}

	return f, nil
}

func stringField(obj object, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}

	return s
}

func firstString(obj object, keys []string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(stringField(obj, key)); s != "" {
			return s
		}
	}

	return ""
}

func firstNumber(obj object, keys []string) (float64, bool) {
	for _, key := range keys {
		if f, err := number(obj[key]); err == nil {
			return f, true
		}
	}

	return 0, false
}

// actionKind returns the declared verb and whether one of the known verbs was declared.
func actionKind(obj object) (entity.ActionKind, bool) {
	for _, key := range actionKeys {
		if kind, ok := knownActions[strings.ToLower(stringField(obj, key))]; ok {
			return kind, true
		}
	}

	return entity.ActionClick, false
}

func isNull(raw jsoniter.RawMessage) bool {
	s := strings.TrimSpace(string(raw))

	return s == "" || s == "null"
}

type fieldError struct {
	field string
	err   error
}

func (e *fieldError) Error() string {
	return e.field + ": " + e.err.Error()
}

func (e *fieldError) Unwrap() error {
	return e.err
}
