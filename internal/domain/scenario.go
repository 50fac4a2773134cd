package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Scenario identifies one of the fixed guest-complaint situations.
type Scenario string

const (
	ScenarioTechFailure    Scenario = "tech_failure"
	ScenarioPrivacyBreach  Scenario = "privacy_breach"
	ScenarioFinancialShock Scenario = "financial_shock"
	ScenarioDiningDisaster Scenario = "dining_disaster"
)

// ScenarioDescriptor is the immutable description of a scenario.
type ScenarioDescriptor struct {
	ID          Scenario `json:"id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
}

var scenarios = []ScenarioDescriptor{
	{
		ID:          ScenarioTechFailure,
		Title:       "The Tech Failure",
		Summary:     "WiFi broken before critical meeting",
		Description: "The Tech Failure: Smart Room WiFi is broken before a critical Zoom meeting.",
	},
	{
		ID:          ScenarioPrivacyBreach,
		Title:       "The Privacy Breach",
		Summary:     "Housekeeping ignored DND sign",
		Description: "The Privacy Breach: Housekeeping entered while the 'Do Not Disturb' sign was on.",
	},
	{
		ID:          ScenarioFinancialShock,
		Title:       "The Financial Shock",
		Summary:     "Double charged after checkout",
		Description: "The Financial Shock: Double-charged credit card after checkout.",
	},
	{
		ID:          ScenarioDiningDisaster,
		Title:       "The Dining Disaster",
		Summary:     "Meat found in vegetarian meal",
		Description: "The Dining Disaster: Vegetarian meal contained meat.",
	},
}

// ErrUnknownScenario is returned when a scenario id is not in the catalog.
var ErrUnknownScenario = errors.New("unknown scenario")

// Scenarios returns the scenario catalog in display order.
func Scenarios() []ScenarioDescriptor {
	out := make([]ScenarioDescriptor, len(scenarios))
	copy(out, scenarios)
	return out
}

// ParseScenario resolves a scenario id, ignoring case and surrounding space.
func ParseScenario(id string) (Scenario, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, s := range scenarios {
		if string(s.ID) == id {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScenario, id)
}

// Descriptor returns the catalog entry for s. The zero value is returned for
// ids outside the catalog.
func (s Scenario) Descriptor() ScenarioDescriptor {
	for _, d := range scenarios {
		if d.ID == s {
			return d
		}
	}
	return ScenarioDescriptor{}
}

// Valid reports whether s is part of the catalog.
func (s Scenario) Valid() bool {
	return s.Descriptor().ID != ""
}
