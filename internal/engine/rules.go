// Package engine implements the SAGE inference pipeline.
// This file defines the clinical rules the table resolver applies: the
// domain-to-table preference registry, population filters and column
// preferences. Rules ship with compiled-in defaults and can be overridden
// from a YAML file.
package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Domain is a clinical data domain.
type Domain string

// Clinical domains.
const (
	DomainAdverseEvents Domain = "adverse_events"
	DomainDemographics  Domain = "demographics"
	DomainLabs          Domain = "labs"
	DomainVitals        Domain = "vitals"
	DomainConmeds       Domain = "conmeds"
	DomainExposure      Domain = "exposure"
	DomainUnknown       Domain = "unknown"
)

// Population is a study population scoping a query.
type Population string

// Study populations.
const (
	PopulationSafety      Population = "safety"
	PopulationITT         Population = "itt"
	PopulationEfficacy    Population = "efficacy"
	PopulationPerProtocol Population = "per_protocol"
	PopulationAllEnrolled Population = "all_enrolled"
)

// TableCandidate is one entry of a domain's table preference list.
type TableCandidate struct {
	// Name is the physical table name.
	Name string `yaml:"name"`

	// Type is "ADaM" or "SDTM". ADaM entries come first in every
	// preference list; the resolver prefers analysis-ready data.
	Type string `yaml:"type"`
}

// PopulationRule maps a population to its SQL filter fragment.
type PopulationRule struct {
	// Name is the display name, e.g. "Safety Population".
	Name string `yaml:"name"`

	// FlagColumn is the flag column the filter tests, empty for all-enrolled.
	FlagColumn string `yaml:"flag_column"`

	// Filter is the SQL fragment, e.g. "SAFFL = 'Y'". Empty for all-enrolled.
	Filter string `yaml:"filter"`
}

// ClinicalRules drives the table resolver.
type ClinicalRules struct {
	// TablePreferences maps each domain to its ordered table candidates.
	TablePreferences map[Domain][]TableCandidate `yaml:"table_preferences"`

	// Populations maps each population to its filter rule.
	Populations map[Population]PopulationRule `yaml:"populations"`

	// DomainDefaultPopulations sets the population applied when the
	// request does not name one.
	DomainDefaultPopulations map[Domain]Population `yaml:"domain_default_populations"`

	// GradeColumnPreference is the ordered preference for the toxicity
	// grade concept; the first column present on the chosen table wins.
	GradeColumnPreference []string `yaml:"grade_column_preference"`

	// TermColumnPreference is the ordered preference for the adverse
	// event term concept.
	TermColumnPreference []string `yaml:"term_column_preference"`

	// DomainKeywords maps each domain to question phrases suggesting it.
	DomainKeywords map[Domain][]string `yaml:"domain_keywords"`

	// JoinKey is the subject key used when a sibling join is planned.
	JoinKey string `yaml:"join_key"`
}

// DefaultClinicalRules returns the compiled-in rule set.
func DefaultClinicalRules() *ClinicalRules {
	return &ClinicalRules{
		TablePreferences: map[Domain][]TableCandidate{
			DomainAdverseEvents: {{Name: "ADAE", Type: "ADaM"}, {Name: "AE", Type: "SDTM"}},
			DomainDemographics:  {{Name: "ADSL", Type: "ADaM"}, {Name: "DM", Type: "SDTM"}},
			DomainLabs:          {{Name: "ADLB", Type: "ADaM"}, {Name: "LB", Type: "SDTM"}},
			DomainVitals:        {{Name: "ADVS", Type: "ADaM"}, {Name: "VS", Type: "SDTM"}},
			DomainConmeds:       {{Name: "ADCM", Type: "ADaM"}, {Name: "CM", Type: "SDTM"}},
			DomainExposure:      {{Name: "ADEX", Type: "ADaM"}, {Name: "EX", Type: "SDTM"}},
		},
		Populations: map[Population]PopulationRule{
			PopulationSafety:      {Name: "Safety Population", FlagColumn: "SAFFL", Filter: "SAFFL = 'Y'"},
			PopulationITT:         {Name: "Intent-to-Treat Population", FlagColumn: "ITTFL", Filter: "ITTFL = 'Y'"},
			PopulationEfficacy:    {Name: "Efficacy Population", FlagColumn: "EFFFL", Filter: "EFFFL = 'Y'"},
			PopulationPerProtocol: {Name: "Per-Protocol Population", FlagColumn: "PPROTFL", Filter: "PPROTFL = 'Y'"},
			PopulationAllEnrolled: {Name: "All Enrolled Subjects"},
		},
		DomainDefaultPopulations: map[Domain]Population{
			DomainAdverseEvents: PopulationSafety,
			DomainDemographics:  PopulationAllEnrolled,
			DomainLabs:          PopulationAllEnrolled,
			DomainVitals:        PopulationAllEnrolled,
			DomainConmeds:       PopulationSafety,
			DomainExposure:      PopulationSafety,
		},
		GradeColumnPreference: []string{"ATOXGR", "AETOXGR", "AESEV"},
		TermColumnPreference:  []string{"AEDECOD", "AETERM"},
		DomainKeywords: map[Domain][]string{
			DomainAdverseEvents: {
				"adverse event", "adverse events", "side effect", "side effects",
				"reaction", "toxicity", "serious event", "ae term",
			},
			DomainDemographics: {
				"age", "sex", "gender", "race", "ethnicity", "demographic",
				"demographics", "baseline characteristics",
			},
			DomainLabs: {
				"lab", "labs", "laboratory", "hemoglobin", "haemoglobin",
				"creatinine", "alt", "ast", "bilirubin", "lab value",
			},
			DomainVitals: {
				"vital", "vitals", "blood pressure", "heart rate", "pulse",
				"temperature reading", "weight", "height", "bmi",
			},
			DomainConmeds: {
				"concomitant", "conmed", "conmeds", "medication", "medications",
			},
			DomainExposure: {
				"exposure", "dose", "dosing", "treatment duration",
			},
		},
		JoinKey: "USUBJID",
	}
}

// LoadClinicalRules reads a YAML rules file, applying defaults for any
// section the file omits.
func LoadClinicalRules(path string) (*ClinicalRules, error) {
	rules := DefaultClinicalRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to read rules file: %w", err)
	}

	var overrides ClinicalRules
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("engine: failed to parse rules file: %w", err)
	}

	if len(overrides.TablePreferences) > 0 {
		rules.TablePreferences = overrides.TablePreferences
	}
	if len(overrides.Populations) > 0 {
		rules.Populations = overrides.Populations
	}
	if len(overrides.DomainDefaultPopulations) > 0 {
		rules.DomainDefaultPopulations = overrides.DomainDefaultPopulations
	}
	if len(overrides.GradeColumnPreference) > 0 {
		rules.GradeColumnPreference = overrides.GradeColumnPreference
	}
	if len(overrides.TermColumnPreference) > 0 {
		rules.TermColumnPreference = overrides.TermColumnPreference
	}
	if len(overrides.DomainKeywords) > 0 {
		rules.DomainKeywords = overrides.DomainKeywords
	}
	if overrides.JoinKey != "" {
		rules.JoinKey = overrides.JoinKey
	}

	return rules, nil
}
