// Package engine implements the SAGE inference pipeline.
// This file implements the table resolver, the clinical rules engine that
// chooses exactly one physical table and one population filter per question.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
)

// TableResolver applies the clinical rules to choose a table and population.
type TableResolver struct {
	rules  *ClinicalRules
	tables map[string][]string
	logger *slog.Logger
}

// TableResolverConfig holds configuration for the resolver.
type TableResolverConfig struct {
	// Rules is the clinical rule set. Defaults when nil.
	Rules *ClinicalRules

	// AvailableTables maps each physical table present in the warehouse to
	// its column list.
	AvailableTables map[string][]string

	Logger *slog.Logger
}

// ResolveRequest carries the inputs of one resolution.
type ResolveRequest struct {
	// Question is the sanitized question text.
	Question string

	// Entities are the extracted entity matches.
	Entities []EntityMatch

	// ExplicitDomain overrides domain detection when set.
	ExplicitDomain Domain

	// ExplicitPopulation overrides the domain default when set.
	ExplicitPopulation Population
}

// NewTableResolver creates a table resolver.
func NewTableResolver(cfg TableResolverConfig) *TableResolver {
	if cfg.Rules == nil {
		cfg.Rules = DefaultClinicalRules()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Index available tables case-insensitively; physical names are upper.
	tables := make(map[string][]string, len(cfg.AvailableTables))
	for name, cols := range cfg.AvailableTables {
		tables[strings.ToUpper(name)] = cols
	}

	return &TableResolver{
		rules:  cfg.Rules,
		tables: tables,
		logger: cfg.Logger.With(slog.String("component", "table_resolver")),
	}
}

// Resolve chooses the table and population for a question.
func (r *TableResolver) Resolve(req ResolveRequest) (*TableResolution, error) {
	domain := req.ExplicitDomain
	if domain == "" || domain == DomainUnknown {
		domain = r.detectDomain(req)
	}

	candidates, ok := r.rules.TablePreferences[domain]
	if !ok {
		domain = DomainDemographics
		candidates = r.rules.TablePreferences[domain]
	}

	resolution := &TableResolution{
		Domain:          domain,
		ColumnsResolved: make(map[string]string),
	}

	// First available table in the preference list wins; anything past the
	// first position is a fallback.
	for i, candidate := range candidates {
		columns, available := r.tables[strings.ToUpper(candidate.Name)]
		if !available {
			continue
		}
		resolution.SelectedTable = strings.ToUpper(candidate.Name)
		resolution.TableType = candidate.Type
		resolution.TableColumns = columns
		resolution.FallbackUsed = i > 0
		if i > 0 {
			resolution.SelectionReason = fmt.Sprintf(
				"Using %s (%s fallback; preferred %s not loaded)",
				candidate.Name, candidate.Type, candidates[0].Name)
			resolution.Assumptions = append(resolution.Assumptions,
				fmt.Sprintf("Preferred table %s is not loaded; using %s", candidates[0].Name, candidate.Name))
		} else {
			resolution.SelectionReason = fmt.Sprintf("Using %s (preferred %s table for %s)",
				candidate.Name, candidate.Type, domain)
		}
		break
	}

	if resolution.SelectedTable == "" {
		return nil, NewStageError(KindResolution, StageResolution,
			fmt.Sprintf("no table available for domain %s", domain))
	}

	r.resolvePopulation(req, resolution)
	r.resolveColumns(resolution)

	r.logger.Debug("table resolved",
		slog.String("table", resolution.SelectedTable),
		slog.String("domain", string(domain)),
		slog.String("population", string(resolution.Population)),
		slog.Bool("fallback", resolution.FallbackUsed),
	)

	return resolution, nil
}

// detectDomain infers the domain from entity matches first, question
// keywords second. Unmatched questions default to demographics.
func (r *TableResolver) detectDomain(req ResolveRequest) Domain {
	for _, entity := range req.Entities {
		switch entity.Column {
		case "AEDECOD", "AETERM":
			return DomainAdverseEvents
		case "PARAMCD", "PARAM":
			if entity.Table == "ADVS" || entity.Table == "VS" {
				return DomainVitals
			}
			return DomainLabs
		case "CMDECOD", "CMTRT":
			return DomainConmeds
		}
	}

	lower := strings.ToLower(req.Question)
	for _, domain := range []Domain{
		DomainAdverseEvents, DomainLabs, DomainVitals,
		DomainConmeds, DomainExposure, DomainDemographics,
	} {
		for _, keyword := range r.rules.DomainKeywords[domain] {
			if strings.Contains(lower, keyword) {
				return domain
			}
		}
	}

	// Entity matches on columns not mapped above, with no domain keyword in
	// the question, default to adverse events.
	if len(req.Entities) > 0 {
		return DomainAdverseEvents
	}

	return DomainDemographics
}

// resolvePopulation applies the explicit or domain-default population and
// plans a join when the flag column is missing from the chosen table.
func (r *TableResolver) resolvePopulation(req ResolveRequest, resolution *TableResolution) {
	population := req.ExplicitPopulation
	if population == "" {
		population = r.rules.DomainDefaultPopulations[resolution.Domain]
		if population == "" {
			population = PopulationAllEnrolled
		}
		if population != PopulationAllEnrolled {
			resolution.Assumptions = append(resolution.Assumptions,
				fmt.Sprintf("Defaulting to the %s for %s queries",
					r.rules.Populations[population].Name, resolution.Domain))
		}
	}

	rule := r.rules.Populations[population]
	resolution.Population = population
	resolution.PopulationName = rule.Name
	resolution.PopulationFilter = rule.Filter

	if rule.FlagColumn == "" {
		return
	}

	if hasColumn(resolution.TableColumns, rule.FlagColumn) {
		return
	}

	// Flag column lives on the subject-level table; plan a join.
	if adslColumns, ok := r.tables["ADSL"]; ok && hasColumn(adslColumns, rule.FlagColumn) {
		resolution.JoinTable = "ADSL"
		resolution.JoinKey = r.rules.JoinKey
		resolution.Assumptions = append(resolution.Assumptions,
			fmt.Sprintf("Population flag %s requires a join to ADSL on %s",
				rule.FlagColumn, r.rules.JoinKey))
		return
	}

	// No table carries the flag; drop the filter rather than emit SQL that
	// cannot execute.
	resolution.PopulationFilter = ""
	resolution.Assumptions = append(resolution.Assumptions,
		fmt.Sprintf("Population flag %s is not present in the data; no population filter applied",
			rule.FlagColumn))
}

// resolveColumns picks the physical column for each contested concept.
func (r *TableResolver) resolveColumns(resolution *TableResolution) {
	for _, col := range r.rules.GradeColumnPreference {
		if hasColumn(resolution.TableColumns, col) {
			resolution.ColumnsResolved["toxicity_grade"] = col
			break
		}
	}
	for _, col := range r.rules.TermColumnPreference {
		if hasColumn(resolution.TableColumns, col) {
			resolution.ColumnsResolved["event_term"] = col
			break
		}
	}
	if hasColumn(resolution.TableColumns, r.rules.JoinKey) {
		resolution.ColumnsResolved["subject_id"] = r.rules.JoinKey
	}
}

// hasColumn reports whether columns contains name, case-insensitively.
func hasColumn(columns []string, name string) bool {
	for _, col := range columns {
		if strings.EqualFold(col, name) {
			return true
		}
	}
	return false
}
