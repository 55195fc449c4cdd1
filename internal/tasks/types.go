// SPDX-License-Identifier: MIT

// Package tasks holds the task model, its persistence backends and the
// worker queue that drives diagram processing.
package tasks

import (
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Type selects the processing pipeline for a task.
type Type string

const (
	TypeStarUML  Type = "staruml"  // .mdj project file
	TypeImage    Type = "image"    // rendered diagram image
	TypePlantUML Type = "plantuml" // raw .puml source
)

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	switch t {
	case TypeStarUML, TypeImage, TypePlantUML:
		return true
	}
	return false
}

// ResultSummary is the condensed outcome stored on a completed task.
type ResultSummary struct {
	ErrorCount     int    `json:"error_count"`
	SeverityLevel  string `json:"severity_level"`
	HasCorrections bool   `json:"has_corrections"`
}

// Task is one submitted diagram job.
type Task struct {
	ID       string `json:"id"`
	Type     Type   `json:"task_type"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	Filename  string `json:"filename"`
	InputPath string `json:"input_file_path"`

	// Result file paths, relative to the results directory.
	ErrorAnalysisPath  string `json:"error_analysis_path,omitempty"`
	CorrectedUMLPath   string `json:"corrected_uml_path,omitempty"`
	CorrectedImagePath string `json:"corrected_image_path,omitempty"`
	AnnotatedImagePath string `json:"annotated_image_path,omitempty"`
	GeneratedUMLPath   string `json:"generated_uml_path,omitempty"`

	Summary *ResultSummary `json:"result_summary,omitempty"`
	Error   string         `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Summary != nil {
		s := *t.Summary
		cp.Summary = &s
	}
	return &cp
}

// Stats aggregates task counts for the stats endpoint.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[Type]int   `json:"by_type"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status Status // empty matches all
	Limit  int
	Offset int
}
