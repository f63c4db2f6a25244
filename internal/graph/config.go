package graph

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a malformed ResolutionConfig.
var ErrInvalidConfig = errors.New("invalid resolution config")

// ResolutionConfig is the immutable per-graph configuration. It is passed
// and stored by value; adjustments produce a new value, never an in-place
// mutation.
type ResolutionConfig struct {
	// Distance thresholds. A node at distance d from the current position
	// renders FULL when d < FullContextDistance, SUMMARY when
	// d < SummaryDistance, TITLE when d < TitleDistance, HIDDEN otherwise.
	FullContextDistance int `yaml:"full_context_distance" json:"full_context_distance"`
	SummaryDistance     int `yaml:"summary_distance" json:"summary_distance"`
	TitleDistance       int `yaml:"title_distance" json:"title_distance"`

	// Per-representation token caps.
	MaxSummaryTokens int `yaml:"max_summary_tokens" json:"max_summary_tokens"`
	MaxTitleTokens   int `yaml:"max_title_tokens" json:"max_title_tokens"`

	// Community thresholds.
	MinNodesForCommunity       int     `yaml:"min_nodes_for_community" json:"min_nodes_for_community"`
	CommunityInclusionDistance int     `yaml:"community_inclusion_distance" json:"community_inclusion_distance"`
	CommunityRegenGrowth       float64 `yaml:"community_regen_growth" json:"community_regen_growth"`

	// DailyCostBudget caps condenser calls per UTC day across the pipeline.
	DailyCostBudget int `yaml:"daily_cost_budget" json:"daily_cost_budget"`

	// AdaptationEnabled toggles importance-weighted downgrade ordering.
	AdaptationEnabled bool `yaml:"adaptation_enabled" json:"adaptation_enabled"`
}

// DefaultResolutionConfig returns sensible defaults.
func DefaultResolutionConfig() ResolutionConfig {
	return ResolutionConfig{
		FullContextDistance:        5,
		SummaryDistance:            20,
		TitleDistance:              50,
		MaxSummaryTokens:           150,
		MaxTitleTokens:             15,
		MinNodesForCommunity:       3,
		CommunityInclusionDistance: 100,
		CommunityRegenGrowth:       0.25,
		DailyCostBudget:            2000,
		AdaptationEnabled:          true,
	}
}

// Validate checks threshold ordering and caps.
func (c ResolutionConfig) Validate() error {
	if c.FullContextDistance <= 0 {
		return fmt.Errorf("%w: full_context_distance must be positive", ErrInvalidConfig)
	}
	if c.SummaryDistance < c.FullContextDistance {
		return fmt.Errorf("%w: summary_distance %d < full_context_distance %d",
			ErrInvalidConfig, c.SummaryDistance, c.FullContextDistance)
	}
	if c.TitleDistance < c.SummaryDistance {
		return fmt.Errorf("%w: title_distance %d < summary_distance %d",
			ErrInvalidConfig, c.TitleDistance, c.SummaryDistance)
	}
	if c.MaxSummaryTokens <= 0 || c.MaxTitleTokens <= 0 {
		return fmt.Errorf("%w: representation token caps must be positive", ErrInvalidConfig)
	}
	if c.MinNodesForCommunity <= 0 {
		return fmt.Errorf("%w: min_nodes_for_community must be positive", ErrInvalidConfig)
	}
	return nil
}
