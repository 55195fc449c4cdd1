// SPDX-License-Identifier: MIT

// Package reqrank implements a small requirement ranking app with MoSCoW
// priorities and WSJF scoring, served as HTML pages from the daemon.
package reqrank

import "time"

// MoSCoW priority buckets.
const (
	MoSCoWMust   = "M"
	MoSCoWShould = "S"
	MoSCoWCould  = "C"
	MoSCoWWont   = "W"
)

// Requirement is one ranked requirement.
type Requirement struct {
	ID              int64
	Title           string
	Description     string
	Category        string // functional / nonfunctional
	MoSCoW          string // M / S / C / W
	BusinessValue   int
	TimeCriticality int
	RiskReduction   int
	Effort          int // 1..10
	RiskLevel       int // 1..5
	Assignee        string
	Status          string // todo / doing / done
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WSJF computes the weighted shortest job first score. Effort is clamped to
// a minimum of 1 to avoid division by zero.
func (r *Requirement) WSJF() float64 {
	effort := r.Effort
	if effort < 1 {
		effort = 1
	}
	return float64(r.BusinessValue+r.TimeCriticality+r.RiskReduction) / float64(effort)
}

// Normalize fills defaults and clamps fields into their valid ranges.
func (r *Requirement) Normalize() {
	if r.Category != "nonfunctional" {
		r.Category = "functional"
	}
	switch r.MoSCoW {
	case MoSCoWMust, MoSCoWShould, MoSCoWCould, MoSCoWWont:
	default:
		r.MoSCoW = MoSCoWCould
	}
	switch r.Status {
	case "todo", "doing", "done":
	default:
		r.Status = "todo"
	}
	r.BusinessValue = clamp(r.BusinessValue, 0, 10)
	r.TimeCriticality = clamp(r.TimeCriticality, 0, 10)
	r.RiskReduction = clamp(r.RiskReduction, 0, 10)
	r.Effort = clamp(r.Effort, 1, 10)
	r.RiskLevel = clamp(r.RiskLevel, 1, 5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Filter narrows requirement listings.
type Filter struct {
	Query  string // substring match on title
	Status string
	MoSCoW string
	Sort   string // "wsjf" or "created", empty keeps insertion order
}
