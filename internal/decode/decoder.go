// Package decode extracts and validates the JSON payloads returned by the
// persona/proctor service.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ashureev/recovery-room/internal/domain"
)

var (
	// ErrNoPayloadFound means the text has no `{` ... `}` span.
	ErrNoPayloadFound = errors.New("no JSON object found")
	// ErrMalformedPayload means the candidate span is not valid JSON.
	ErrMalformedPayload = errors.New("malformed JSON payload")
	// ErrSchemaViolation means the JSON is valid but breaks the contract.
	ErrSchemaViolation = errors.New("payload violates schema")
)

// Turn is a validated turn-contract payload.
type Turn struct {
	ThoughtProcess  string
	AngerLevel      int
	SpokenResponse  string
	InstantFeedback string
	Status          domain.Status
	// StatusReported is false when the payload omitted status and Status
	// was defaulted to active.
	StatusReported bool
}

// Fields are decoded loosely; only anger_level and spoken_response are
// required to have a usable type.
type turnWire struct {
	ThoughtProcess  any `json:"thought_process"`
	AngerLevel      any `json:"anger_level"`
	SpokenResponse  any `json:"spoken_response"`
	InstantFeedback any `json:"instant_feedback"`
	Status          any `json:"status"`
}

// Report is a syntactically valid report-contract payload. Cardinality and
// value ranges are not checked here; callers must validate. Fields whose JSON
// type is unusable come back empty: strings as "", numbers as nil.
type Report struct {
	Scenario   string
	Outcome    string
	FinalAnger *float64
	Score      *float64
	Summary    string
	Audit      []AuditEntry
}

// AuditEntry is one raw audit line.
type AuditEntry struct {
	StepCode string
	StepName string
	Status   string
	Feedback string
}

type reportWire struct {
	Scenario   any `json:"scenario"`
	Outcome    any `json:"outcome"`
	FinalAnger any `json:"final_anger"`
	Score      any `json:"score"`
	Summary    any `json:"summary"`
	Audit      any `json:"audit"`
}

// ExtractPayload returns the substring between the first `{` and the last `}`
// of raw, inclusive. Commentary or code fences around the object are dropped.
func ExtractPayload(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNoPayloadFound
	}
	return raw[start : end+1], nil
}

// DecodeTurn extracts and validates a turn payload.
func DecodeTurn(raw string) (Turn, error) {
	var wire turnWire
	if err := decodeInto(raw, &wire); err != nil {
		return Turn{}, err
	}

	level, err := angerLevel(wire.AngerLevel)
	if err != nil {
		return Turn{}, err
	}
	spoken, _ := wire.SpokenResponse.(string)
	if strings.TrimSpace(spoken) == "" {
		return Turn{}, fmt.Errorf("%w: spoken_response is missing, empty or not a string", ErrSchemaViolation)
	}

	turn := Turn{
		ThoughtProcess:  stringValue(wire.ThoughtProcess),
		AngerLevel:      level,
		SpokenResponse:  strings.TrimSpace(spoken),
		InstantFeedback: strings.TrimSpace(stringValue(wire.InstantFeedback)),
		Status:          domain.StatusActive,
	}

	// Status decides termination, so a value that cannot be read is a
	// violation rather than a silent default.
	switch v := wire.Status.(type) {
	case nil:
	case string:
		if strings.TrimSpace(v) != "" {
			status, err := parseStatus(v)
			if err != nil {
				return Turn{}, err
			}
			turn.Status = status
			turn.StatusReported = true
		}
	default:
		return Turn{}, fmt.Errorf("%w: status must be a string, got %T", ErrSchemaViolation, v)
	}
	return turn, nil
}

// DecodeReport extracts and parses a report payload. Only JSON syntax is
// enforced; numeric fields sent as numeric strings are accepted.
func DecodeReport(raw string) (Report, error) {
	var wire reportWire
	if err := decodeInto(raw, &wire); err != nil {
		return Report{}, err
	}

	report := Report{
		Scenario:   stringValue(wire.Scenario),
		Outcome:    stringValue(wire.Outcome),
		FinalAnger: numberValue(wire.FinalAnger),
		Score:      numberValue(wire.Score),
		Summary:    stringValue(wire.Summary),
	}
	if items, ok := wire.Audit.([]any); ok {
		report.Audit = make([]AuditEntry, 0, len(items))
		for _, item := range items {
			fields, _ := item.(map[string]any)
			report.Audit = append(report.Audit, AuditEntry{
				StepCode: stringValue(fields["step_code"]),
				StepName: stringValue(fields["step_name"]),
				Status:   stringValue(fields["status"]),
				Feedback: stringValue(fields["feedback"]),
			})
		}
	}
	return report, nil
}

// Preview shortens raw service output for log lines.
func Preview(raw string) string {
	const limit = 240
	raw = strings.TrimSpace(raw)
	if len(raw) <= limit {
		return raw
	}
	return raw[:limit] + "..."
}

func decodeInto(raw string, v any) error {
	payload, err := ExtractPayload(raw)
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: field %q has type %s", ErrSchemaViolation, typeErr.Field, typeErr.Value)
		}
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := ensureEOF(decoder); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func ensureEOF(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return errors.New("unexpected trailing JSON content")
}

func angerLevel(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: anger_level must be numeric, got %T", ErrSchemaViolation, v)
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: anger_level %q: %v", ErrSchemaViolation, n.String(), err)
	}
	// Bound before converting so absurd values cannot overflow int.
	f = math.Max(math.Min(math.Round(f), math.MaxInt32), math.MinInt32)
	return int(f), nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// numberValue reads a JSON number or a numeric string. Anything else,
// including NaN and infinities, is treated as absent.
func numberValue(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func parseStatus(s string) (domain.Status, error) {
	switch domain.Status(strings.ToLower(strings.TrimSpace(s))) {
	case domain.StatusActive:
		return domain.StatusActive, nil
	case domain.StatusResolved:
		return domain.StatusResolved, nil
	case domain.StatusFailed:
		return domain.StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrSchemaViolation, s)
	}
}
