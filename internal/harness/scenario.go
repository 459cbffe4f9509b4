package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cartsync/internal/cart"
)

// Scenario is a scripted cart session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is an optional CUE catalog path, relative to the scenario
	// file. Empty uses the bundled catalog unless the runner overrides it.
	Catalog string `yaml:"catalog,omitempty"`

	// Setup mutations are applied to the backend before the session starts
	// and the resulting cart is hydrated into the Store. They must succeed.
	Setup []MutationSpec `yaml:"setup,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Final is checked after the last step.
	Final *Expect `yaml:"final,omitempty"`
}

// MutationSpec is a mutation in wire form.
type MutationSpec struct {
	Action  cart.Kind      `yaml:"action"`
	Payload map[string]any `yaml:"payload"`
}

// Mutation decodes the entry with the same strict rules the backend uses.
func (m MutationSpec) Mutation() (cart.Mutation, error) {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	mut, err := cart.DecodeMutation(m.Action, data)
	if err != nil {
		return nil, err
	}
	if err := mut.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", m.Action, err)
	}
	return mut, nil
}

// Step is exactly one of Submit, Arrive, Deliver, Fail or Expect.
//
// Requests reach the backend in seq order when a response is delivered.
// Arrive makes the backend process the named request immediately, ahead
// of any lower seq still queued.
type Step struct {
	Submit  *SubmitStep `yaml:"submit,omitempty"`
	Arrive  string      `yaml:"arrive,omitempty"`
	Deliver string      `yaml:"deliver,omitempty"`
	Fail    string      `yaml:"fail,omitempty"`
	Expect  *Expect     `yaml:"expect,omitempty"`
}

// SubmitStep submits a mutation under a scenario-local name.
type SubmitStep struct {
	As           string `yaml:"as"`
	MutationSpec `yaml:",inline"`
}

// Expect describes the expected merged view. Unset fields are not checked.
type Expect struct {
	TotalQuantity      *int              `yaml:"totalQuantity,omitempty"`
	Empty              *bool             `yaml:"empty,omitempty"`
	Pending            *int              `yaml:"pending,omitempty"`
	Lines              []ExpectLine      `yaml:"lines,omitempty"`
	NoLines            bool              `yaml:"noLines,omitempty"`
	DiscountCodes      []ExpectCode      `yaml:"discountCodes,omitempty"`
	ApplicableDiscount *bool             `yaml:"applicableDiscount,omitempty"`
	GiftCards          []string          `yaml:"giftCards,omitempty"`
	Status             map[string]string `yaml:"status,omitempty"`
	ConfirmedQuantity  *int              `yaml:"confirmedQuantity,omitempty"`

	// Converged requires the confirmed snapshot to equal the backend's
	// stored cart.
	Converged bool `yaml:"converged,omitempty"`
}

// ExpectLine matches one view line, in order.
type ExpectLine struct {
	ID            string `yaml:"id,omitempty"`
	MerchandiseID string `yaml:"merchandiseId"`
	Quantity      int    `yaml:"quantity"`
	Optimistic    *bool  `yaml:"optimistic,omitempty"`
}

// ExpectCode matches one discount code, in order.
type ExpectCode struct {
	Code       string `yaml:"code"`
	Applicable bool   `yaml:"applicable"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors. A relative
// catalog path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Catalog != "" && !filepath.IsAbs(s.Catalog) {
		s.Catalog = filepath.Join(filepath.Dir(path), s.Catalog)
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks structure and name references. Payloads are
// decoded here so a bad mutation fails at load time, not mid-run.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, m := range s.Setup {
		if _, err := m.Mutation(); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	submitted := make(map[string]bool)
	arrived := make(map[string]bool)
	resolved := make(map[string]bool)
	for i, step := range s.Steps {
		kinds := 0
		if step.Submit != nil {
			kinds++
		}
		if step.Arrive != "" {
			kinds++
		}
		if step.Deliver != "" {
			kinds++
		}
		if step.Fail != "" {
			kinds++
		}
		if step.Expect != nil {
			kinds++
		}
		if kinds != 1 {
			return fmt.Errorf("steps[%d]: exactly one of submit, arrive, deliver, fail, expect is required", i)
		}

		switch {
		case step.Submit != nil:
			name := step.Submit.As
			if name == "" {
				return fmt.Errorf("steps[%d].submit: as is required", i)
			}
			if submitted[name] {
				return fmt.Errorf("steps[%d].submit: duplicate name %q", i, name)
			}
			if _, err := step.Submit.Mutation(); err != nil {
				return fmt.Errorf("steps[%d].submit: %w", i, err)
			}
			submitted[name] = true

		case step.Arrive != "":
			name := step.Arrive
			if !submitted[name] {
				return fmt.Errorf("steps[%d]: %q has not been submitted", i, name)
			}
			if arrived[name] || resolved[name] {
				return fmt.Errorf("steps[%d]: %q has already reached the backend", i, name)
			}
			arrived[name] = true

		case step.Deliver != "" || step.Fail != "":
			name := step.Deliver + step.Fail
			if !submitted[name] {
				return fmt.Errorf("steps[%d]: %q has not been submitted", i, name)
			}
			if resolved[name] {
				return fmt.Errorf("steps[%d]: %q is already resolved", i, name)
			}
			resolved[name] = true
		}
	}
	return nil
}
