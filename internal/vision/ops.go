// SPDX-License-Identifier: MIT

package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/umlgrade/umlgrade/internal/cache"
	"github.com/umlgrade/umlgrade/internal/log"
	"github.com/umlgrade/umlgrade/internal/staruml"
)

// Region locates an error inside the analyzed image.
type Region struct {
	Description string      `json:"description"`
	Coordinates Coordinates `json:"coordinates"`
}

// Coordinates is a pixel bounding box within the analyzed image.
type Coordinates struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// DiagramError is one modeling error found by the model.
type DiagramError struct {
	Type        string `json:"type"`
	Element     string `json:"element"`
	Severity    string `json:"severity"`
	Description string `json:"error_description"`
	Suggestion  string `json:"suggestion"`
	Region      Region `json:"region"`
}

// ErrorSummary aggregates an error report.
type ErrorSummary struct {
	TotalErrors   int    `json:"total_errors"`
	SeverityLevel string `json:"severity_level"`
}

// ErrorReport is the result of AnalyzeErrors. RawAnalysis carries the
// unparsed model text when the response held no usable JSON.
type ErrorReport struct {
	Errors      []DiagramError `json:"errors"`
	Summary     ErrorSummary   `json:"summary"`
	RawAnalysis string         `json:"raw_analysis,omitempty"`
}

// CorrectionResult is the result of Correct.
type CorrectionResult struct {
	CorrectedPlantUML string   `json:"corrected_plantuml"`
	Changes           []string `json:"changes"`
}

// imageStructure is the wire shape the model returns for DescribeImage.
type imageStructure struct {
	DiagramType string `json:"diagram_type"`
	Elements    []struct {
		Type       string   `json:"type"`
		Name       string   `json:"name"`
		Attributes []string `json:"attributes"`
		Methods    []string `json:"methods"`
	} `json:"elements"`
	Relationships []struct {
		Type         string `json:"type"`
		Source       string `json:"source"`
		Target       string `json:"target"`
		Multiplicity string `json:"multiplicity"`
		Label        string `json:"label"`
	} `json:"relationships"`
	Notes []string `json:"notes"`
}

// Analyzer runs the diagram operations against the model, with responses
// cached by image content so re-submitting a diagram is free.
type Analyzer struct {
	client *Client
	cache  cache.Cache
	ttl    time.Duration
}

// NewAnalyzer wires a model client with a response cache.
func NewAnalyzer(client *Client, c cache.Cache, ttl time.Duration) *Analyzer {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Analyzer{client: client, cache: c, ttl: ttl}
}

// DescribeImage extracts the diagram structure from a rendered UML image.
func (a *Analyzer) DescribeImage(ctx context.Context, imageData []byte) (*staruml.Model, error) {
	var structure imageStructure
	err := a.cached(ctx, "describe", imageData, describeSystemPrompt, describeUserPrompt, &structure)
	if err != nil {
		return nil, err
	}
	return structureToModel(structure), nil
}

// AnalyzeErrors asks the model for modeling errors in the diagram image.
// When the response carries no parseable JSON the raw text is preserved in
// a degraded report instead of failing the task.
func (a *Analyzer) AnalyzeErrors(ctx context.Context, imageData []byte) (*ErrorReport, error) {
	var report ErrorReport
	err := a.cached(ctx, "analyze", imageData, analyzeSystemPrompt, analyzeUserPrompt, &report)
	var pe *ParseError
	if errors.As(err, &pe) {
		return &ErrorReport{
			Summary:     ErrorSummary{SeverityLevel: "unknown"},
			RawAnalysis: pe.Raw,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	// Keep the summary consistent even when the model miscounts.
	report.Summary.TotalErrors = len(report.Errors)
	if report.Summary.SeverityLevel == "" {
		report.Summary.SeverityLevel = maxSeverity(report.Errors)
	}
	return &report, nil
}

// Correct asks the model for a fixed PlantUML rendition of the diagram.
func (a *Analyzer) Correct(ctx context.Context, imageData []byte) (*CorrectionResult, error) {
	var result CorrectionResult
	err := a.cached(ctx, "correct", imageData, correctSystemPrompt, correctUserPrompt, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// cached runs one image operation through the cache. Cache values hold the
// already-extracted JSON, not the raw model text.
func (a *Analyzer) cached(ctx context.Context, op string, imageData []byte, systemPrompt, userPrompt string, v any) error {
	logger := log.WithContext(ctx, log.WithComponent("vision"))
	key := cacheKey(op, imageData)

	if data, ok := a.cache.Get(key); ok {
		logger.Debug().
			Str("event", "vision.cache_hit").
			Str("op", op).
			Msg("serving analysis from cache")
		return json.Unmarshal(data, v)
	}

	dataURL, err := PrepareImage(imageData)
	if err != nil {
		return err
	}

	response, err := a.client.Complete(ctx, op, []chatMessage{
		textMessage("system", systemPrompt),
		imageMessage(userPrompt, dataURL),
	})
	if err != nil {
		return err
	}

	if err := ExtractJSON(response, v); err != nil {
		return &ParseError{Raw: response, Err: err}
	}

	if data, err := json.Marshal(v); err == nil {
		a.cache.Set(key, data, a.ttl)
	}
	return nil
}

func cacheKey(op string, imageData []byte) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write(imageData)
	return "vision:" + hex.EncodeToString(h.Sum(nil))
}

func maxSeverity(errors []DiagramError) string {
	if len(errors) == 0 {
		return "none"
	}
	level := "low"
	for _, e := range errors {
		switch strings.ToLower(e.Severity) {
		case "high":
			return "high"
		case "medium":
			level = "medium"
		}
	}
	return level
}

// structureToModel converts the model's image description into the shared
// diagram model. Attribute and method strings arrive preformatted, so they
// are split back into their parts where possible.
func structureToModel(s imageStructure) *staruml.Model {
	m := &staruml.Model{
		Name:  strings.ReplaceAll(s.DiagramType, "_", " "),
		Notes: s.Notes,
	}

	for _, e := range s.Elements {
		c := staruml.Classifier{
			Name: e.Name,
			Kind: normalizeKind(e.Type),
		}
		if c.Kind == "enum" && len(e.Methods) == 0 && allBare(e.Attributes) {
			c.Literals = e.Attributes
		} else {
			for _, a := range e.Attributes {
				c.Attributes = append(c.Attributes, parseAttribute(a))
			}
		}
		for _, op := range e.Methods {
			c.Operations = append(c.Operations, parseOperation(op))
		}
		m.Classifiers = append(m.Classifiers, c)
	}

	for _, r := range s.Relationships {
		m.Relationships = append(m.Relationships, staruml.Relationship{
			Kind:               normalizeRelation(r.Type),
			Source:             r.Source,
			Target:             r.Target,
			Label:              r.Label,
			TargetMultiplicity: r.Multiplicity,
		})
	}

	return m
}

func normalizeKind(t string) string {
	switch strings.ToLower(t) {
	case "interface":
		return "interface"
	case "enum", "enumeration":
		return "enum"
	default:
		return "class"
	}
}

func normalizeRelation(t string) staruml.RelationKind {
	switch strings.ToLower(t) {
	case "inheritance", "generalization":
		return staruml.RelationGeneralization
	case "implementation", "realization":
		return staruml.RelationRealization
	case "dependency":
		return staruml.RelationDependency
	default:
		return staruml.RelationAssociation
	}
}

// allBare reports whether every entry looks like a plain literal, without
// visibility markers or type annotations.
func allBare(items []string) bool {
	for _, it := range items {
		if strings.ContainsAny(it, ":+-#~(") {
			return false
		}
	}
	return len(items) > 0
}

func parseAttribute(s string) staruml.Attribute {
	vis, rest := splitVisibility(s)
	a := staruml.Attribute{Visibility: vis}
	if name, typ, ok := strings.Cut(rest, ":"); ok {
		a.Name = strings.TrimSpace(name)
		a.Type = strings.TrimSpace(typ)
	} else {
		a.Name = strings.TrimSpace(rest)
	}
	return a
}

func parseOperation(s string) staruml.Operation {
	vis, rest := splitVisibility(s)
	o := staruml.Operation{Visibility: vis}
	if sig, ret, ok := cutLast(rest, ":"); ok {
		rest = sig
		o.ReturnType = strings.TrimSpace(ret)
	}
	if idx := strings.Index(rest, "("); idx >= 0 {
		rest = rest[:idx]
	}
	o.Name = strings.TrimSpace(rest)
	return o
}

// cutLast splits around the last occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

func splitVisibility(s string) (vis, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return staruml.VisibilityPublic, ""
	}
	switch s[0] {
	case '+', '-', '#', '~':
		return string(s[0]), strings.TrimSpace(s[1:])
	}
	return staruml.VisibilityPublic, s
}
