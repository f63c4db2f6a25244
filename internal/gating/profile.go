// Package gating implements the adaptive similarity gate: per
// (project, retrieval-type) threshold profiles driven by robust statistics
// over rolling score windows, adapted by quality feedback.
package gating

import (
	"errors"
	"time"

	"github.com/adaptive-context-kernel/internal/stats"
)

// ErrInvalidInput indicates malformed gate parameters (e.g. min > max).
var ErrInvalidInput = errors.New("invalid input")

// OutlierMethod selects the robust statistic used to derive a cutoff.
type OutlierMethod string

const (
	// MethodMAD uses median + k*MAD.
	MethodMAD OutlierMethod = "mad"
	// MethodIQR uses Q1 + k*IQR.
	MethodIQR OutlierMethod = "iqr"
	// MethodZScore uses mean + k*stddev. Not outlier-resistant; kept for
	// comparison and for callers that ask for it explicitly.
	MethodZScore OutlierMethod = "zscore"
)

// WindowCapacity is the rolling window size for recent similarity scores.
const WindowCapacity = 200

// minSamplesForAdaptation is the window population below which the gate
// falls back to the base threshold.
const minSamplesForAdaptation = 20

// Profile is the adaptive threshold state for one (project, retrieval-type)
// pair. All mutation goes through the owning Store's single-writer path.
type Profile struct {
	ProjectID     string
	RetrievalType string

	Window *stats.Window

	CurrentThreshold float64
	BaseThreshold    float64
	MinThreshold     float64
	MaxThreshold     float64

	TargetChunks   int
	AdaptationRate float64
	Method         OutlierMethod
	// K scales the spread term of the chosen method.
	K float64

	UpdatedAt time.Time
}

// NewProfile creates a profile with default adaptive state.
func NewProfile(projectID, retrievalType string) *Profile {
	return &Profile{
		ProjectID:        projectID,
		RetrievalType:    retrievalType,
		Window:           stats.NewWindow(WindowCapacity),
		CurrentThreshold: 0.65,
		BaseThreshold:    0.65,
		MinThreshold:     0.30,
		MaxThreshold:     0.90,
		TargetChunks:     5,
		AdaptationRate:   0.05,
		Method:           MethodMAD,
		K:                1.0,
	}
}

// StatCutoff derives the robust cutoff from the window snapshot using the
// profile's method.
func (p *Profile) StatCutoff(scores []float64) float64 {
	switch p.Method {
	case MethodIQR:
		q1, _, _ := stats.Quartiles(scores)
		return q1 + p.K*stats.IQR(scores)
	case MethodZScore:
		return stats.Mean(scores) + p.K*stats.StdDev(scores)
	default:
		return stats.Median(scores) + p.K*stats.MAD(scores)
	}
}

// Clamp bounds v to the profile's threshold range.
func (p *Profile) Clamp(v float64) float64 {
	if v < p.MinThreshold {
		return p.MinThreshold
	}
	if v > p.MaxThreshold {
		return p.MaxThreshold
	}
	return v
}

// State is the serializable form of a profile.
type State struct {
	ProjectID     string        `json:"project_id"`
	RetrievalType string        `json:"retrieval_type"`
	Scores        []float64     `json:"scores"`
	Current       float64       `json:"current_threshold"`
	Base          float64       `json:"base_threshold"`
	Min           float64       `json:"min_threshold"`
	Max           float64       `json:"max_threshold"`
	TargetChunks  int           `json:"target_chunks"`
	Rate          float64       `json:"adaptation_rate"`
	Method        OutlierMethod `json:"method"`
	K             float64       `json:"k"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ToState snapshots the profile for persistence.
func (p *Profile) ToState() *State {
	return &State{
		ProjectID:     p.ProjectID,
		RetrievalType: p.RetrievalType,
		Scores:        p.Window.Snapshot(),
		Current:       p.CurrentThreshold,
		Base:          p.BaseThreshold,
		Min:           p.MinThreshold,
		Max:           p.MaxThreshold,
		TargetChunks:  p.TargetChunks,
		Rate:          p.AdaptationRate,
		Method:        p.Method,
		K:             p.K,
		UpdatedAt:     p.UpdatedAt,
	}
}

// FromState rehydrates a profile from its persisted form.
func FromState(s *State) *Profile {
	p := NewProfile(s.ProjectID, s.RetrievalType)
	p.Window.Restore(s.Scores)
	p.CurrentThreshold = s.Current
	p.BaseThreshold = s.Base
	p.MinThreshold = s.Min
	p.MaxThreshold = s.Max
	if s.TargetChunks > 0 {
		p.TargetChunks = s.TargetChunks
	}
	if s.Rate > 0 {
		p.AdaptationRate = s.Rate
	}
	if s.Method != "" {
		p.Method = s.Method
	}
	if s.K != 0 {
		p.K = s.K
	}
	p.UpdatedAt = s.UpdatedAt
	return p
}
