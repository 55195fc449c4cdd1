// SPDX-License-Identifier: MIT

// Package pipeline executes the per-type task flows: parsing StarUML
// projects, rendering PlantUML, and running vision analysis over diagram
// images.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/umlgrade/umlgrade/internal/annotate"
	"github.com/umlgrade/umlgrade/internal/log"
	"github.com/umlgrade/umlgrade/internal/plantuml"
	"github.com/umlgrade/umlgrade/internal/staruml"
	"github.com/umlgrade/umlgrade/internal/tasks"
	"github.com/umlgrade/umlgrade/internal/vision"
)

// Result file names inside results/<task-id>/.
const (
	fileErrorAnalysis  = "error_analysis.json"
	fileCorrected      = "corrected_result.json"
	fileGeneratedUML   = "generated.puml"
	fileRenderedImage  = "rendered.jpg"
	fileAnnotatedImage = "annotated.jpg"
	fileCorrectedImage = "corrected.jpg"
)

// Analyzer is the subset of the vision API the pipeline needs.
type Analyzer interface {
	DescribeImage(ctx context.Context, imageData []byte) (*staruml.Model, error)
	AnalyzeErrors(ctx context.Context, imageData []byte) (*vision.ErrorReport, error)
	Correct(ctx context.Context, imageData []byte) (*vision.CorrectionResult, error)
}

// Renderer rasterizes PlantUML source to JPEG bytes.
type Renderer interface {
	Render(ctx context.Context, source string) ([]byte, error)
}

// Processor implements tasks.Processor for all three task types.
type Processor struct {
	store      tasks.Store
	analyzer   Analyzer
	renderer   Renderer
	resultsDir string
}

// New creates a processor writing result files under resultsDir.
func New(store tasks.Store, analyzer Analyzer, renderer Renderer, resultsDir string) *Processor {
	return &Processor{
		store:      store,
		analyzer:   analyzer,
		renderer:   renderer,
		resultsDir: resultsDir,
	}
}

// Process dispatches on the task type.
func (p *Processor) Process(ctx context.Context, task *tasks.Task) error {
	logger := log.WithContext(ctx, log.WithComponent("pipeline"))
	logger.Info().
		Str("event", "pipeline.start").
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Msg("processing task")

	dir := filepath.Join(p.resultsDir, task.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	switch task.Type {
	case tasks.TypeImage:
		return p.processImage(ctx, task, dir)
	case tasks.TypeStarUML:
		return p.processStarUML(ctx, task, dir)
	case tasks.TypePlantUML:
		return p.processPlantUML(ctx, task, dir)
	default:
		return fmt.Errorf("unknown task type %q", task.Type)
	}
}

// processImage analyzes an uploaded diagram image: find errors, annotate
// them onto the image, then ask for a corrected diagram and render it.
func (p *Processor) processImage(ctx context.Context, task *tasks.Task, dir string) error {
	imageData, err := os.ReadFile(task.InputPath)
	if err != nil {
		return fmt.Errorf("read input image: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 10); err != nil {
		return err
	}

	report, err := p.analyzer.AnalyzeErrors(ctx, imageData)
	if err != nil {
		return fmt.Errorf("analyze errors: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 30); err != nil {
		return err
	}

	if err := writeJSONFile(filepath.Join(dir, fileErrorAnalysis), report); err != nil {
		return err
	}
	if err := p.setProgress(ctx, task.ID, 50); err != nil {
		return err
	}

	annotated, err := annotate.Annotate(imageData, boxesFromReport(report))
	if err != nil {
		return fmt.Errorf("annotate image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileAnnotatedImage), annotated, 0o640); err != nil {
		return fmt.Errorf("write annotated image: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 70); err != nil {
		return err
	}

	correction, err := p.analyzer.Correct(ctx, imageData)
	if err != nil {
		return fmt.Errorf("correct diagram: %w", err)
	}
	if err := writeJSONFile(filepath.Join(dir, fileCorrected), correction); err != nil {
		return err
	}
	if err := p.setProgress(ctx, task.ID, 85); err != nil {
		return err
	}

	correctedImage := false
	if correction.CorrectedPlantUML != "" {
		rendered, err := p.renderer.Render(ctx, correction.CorrectedPlantUML)
		if err != nil {
			// A broken corrected rendition should not fail the whole task;
			// the analysis results are already on disk.
			logger := log.WithContext(ctx, log.WithComponent("pipeline"))
			logger.Warn().
				Err(err).
				Str("event", "pipeline.corrected_render_failed").
				Str("task_id", task.ID).
				Msg("could not render corrected diagram")
		} else {
			if err := os.WriteFile(filepath.Join(dir, fileCorrectedImage), rendered, 0o640); err != nil {
				return fmt.Errorf("write corrected image: %w", err)
			}
			correctedImage = true
		}
	}
	if err := p.setProgress(ctx, task.ID, 95); err != nil {
		return err
	}

	return p.finish(ctx, task.ID, func(u *tasks.Task) {
		u.ErrorAnalysisPath = filepath.Join(task.ID, fileErrorAnalysis)
		u.AnnotatedImagePath = filepath.Join(task.ID, fileAnnotatedImage)
		u.CorrectedUMLPath = filepath.Join(task.ID, fileCorrected)
		if correctedImage {
			u.CorrectedImagePath = filepath.Join(task.ID, fileCorrectedImage)
		}
		u.Summary = &tasks.ResultSummary{
			ErrorCount:     len(report.Errors),
			SeverityLevel:  report.Summary.SeverityLevel,
			HasCorrections: correction.CorrectedPlantUML != "",
		}
	})
}

// processStarUML converts a .mdj project to PlantUML, renders it and runs
// the error analysis over the rendered image.
func (p *Processor) processStarUML(ctx context.Context, task *tasks.Task, dir string) error {
	data, err := os.ReadFile(task.InputPath)
	if err != nil {
		return fmt.Errorf("read project file: %w", err)
	}

	model, err := staruml.Parse(data)
	if err != nil {
		return fmt.Errorf("parse project: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 30); err != nil {
		return err
	}

	source := plantuml.Generate(model)
	if err := os.WriteFile(filepath.Join(dir, fileGeneratedUML), []byte(source), 0o640); err != nil {
		return fmt.Errorf("write generated source: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 50); err != nil {
		return err
	}

	rendered, err := p.renderer.Render(ctx, source)
	if err != nil {
		return fmt.Errorf("render diagram: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileRenderedImage), rendered, 0o640); err != nil {
		return fmt.Errorf("write rendered image: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 70); err != nil {
		return err
	}

	report, err := p.analyzer.AnalyzeErrors(ctx, rendered)
	if err != nil {
		return fmt.Errorf("analyze errors: %w", err)
	}
	if err := writeJSONFile(filepath.Join(dir, fileErrorAnalysis), report); err != nil {
		return err
	}
	if err := p.setProgress(ctx, task.ID, 85); err != nil {
		return err
	}

	annotated, err := annotate.Annotate(rendered, boxesFromReport(report))
	if err != nil {
		return fmt.Errorf("annotate image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileAnnotatedImage), annotated, 0o640); err != nil {
		return fmt.Errorf("write annotated image: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 95); err != nil {
		return err
	}

	return p.finish(ctx, task.ID, func(u *tasks.Task) {
		u.GeneratedUMLPath = filepath.Join(task.ID, fileGeneratedUML)
		u.ErrorAnalysisPath = filepath.Join(task.ID, fileErrorAnalysis)
		u.AnnotatedImagePath = filepath.Join(task.ID, fileAnnotatedImage)
		u.CorrectedImagePath = filepath.Join(task.ID, fileRenderedImage)
		u.Summary = &tasks.ResultSummary{
			ErrorCount:    len(report.Errors),
			SeverityLevel: report.Summary.SeverityLevel,
		}
	})
}

// processPlantUML renders raw .puml source and analyzes the result.
func (p *Processor) processPlantUML(ctx context.Context, task *tasks.Task, dir string) error {
	source, err := os.ReadFile(task.InputPath)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 10); err != nil {
		return err
	}

	rendered, err := p.renderer.Render(ctx, string(source))
	if err != nil {
		return fmt.Errorf("render diagram: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileRenderedImage), rendered, 0o640); err != nil {
		return fmt.Errorf("write rendered image: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 50); err != nil {
		return err
	}

	report, err := p.analyzer.AnalyzeErrors(ctx, rendered)
	if err != nil {
		return fmt.Errorf("analyze errors: %w", err)
	}
	if err := writeJSONFile(filepath.Join(dir, fileErrorAnalysis), report); err != nil {
		return err
	}
	if err := p.setProgress(ctx, task.ID, 70); err != nil {
		return err
	}

	annotated, err := annotate.Annotate(rendered, boxesFromReport(report))
	if err != nil {
		return fmt.Errorf("annotate image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileAnnotatedImage), annotated, 0o640); err != nil {
		return fmt.Errorf("write annotated image: %w", err)
	}
	if err := p.setProgress(ctx, task.ID, 95); err != nil {
		return err
	}

	return p.finish(ctx, task.ID, func(u *tasks.Task) {
		u.ErrorAnalysisPath = filepath.Join(task.ID, fileErrorAnalysis)
		u.AnnotatedImagePath = filepath.Join(task.ID, fileAnnotatedImage)
		u.CorrectedImagePath = filepath.Join(task.ID, fileRenderedImage)
		u.Summary = &tasks.ResultSummary{
			ErrorCount:    len(report.Errors),
			SeverityLevel: report.Summary.SeverityLevel,
		}
	})
}

func (p *Processor) setProgress(ctx context.Context, id string, progress int) error {
	_, err := p.store.Update(ctx, id, func(u *tasks.Task) error {
		u.Progress = progress
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
	return err
}

func (p *Processor) finish(ctx context.Context, id string, apply func(*tasks.Task)) error {
	_, err := p.store.Update(ctx, id, func(u *tasks.Task) error {
		apply(u)
		u.Status = tasks.StatusCompleted
		u.Progress = 100
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
	return err
}

func boxesFromReport(report *vision.ErrorReport) []annotate.Box {
	boxes := make([]annotate.Box, 0, len(report.Errors))
	for _, e := range report.Errors {
		label := e.Type
		if label == "" {
			label = e.Element
		}
		boxes = append(boxes, annotate.Box{
			X1:       e.Region.Coordinates.X1,
			Y1:       e.Region.Coordinates.Y1,
			X2:       e.Region.Coordinates.X2,
			Y2:       e.Region.Coordinates.Y2,
			Label:    label,
			Severity: e.Severity,
		})
	}
	return boxes
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
