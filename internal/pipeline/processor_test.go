// SPDX-License-Identifier: MIT

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umlgrade/umlgrade/internal/staruml"
	"github.com/umlgrade/umlgrade/internal/tasks"
	"github.com/umlgrade/umlgrade/internal/vision"
)

type stubAnalyzer struct {
	report     *vision.ErrorReport
	correction *vision.CorrectionResult
	model      *staruml.Model
	err        error
}

func (s *stubAnalyzer) DescribeImage(context.Context, []byte) (*staruml.Model, error) {
	return s.model, s.err
}

func (s *stubAnalyzer) AnalyzeErrors(context.Context, []byte) (*vision.ErrorReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubAnalyzer) Correct(context.Context, []byte) (*vision.CorrectionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.correction, nil
}

type stubRenderer struct {
	output []byte
	err    error
	inputs []string
}

func (s *stubRenderer) Render(_ context.Context, source string) ([]byte, error) {
	s.inputs = append(s.inputs, source)
	return s.output, s.err
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 120, 80))))
	return buf.Bytes()
}

func defaultReport() *vision.ErrorReport {
	return &vision.ErrorReport{
		Errors: []vision.DiagramError{
			{
				Type:     "wrong_arrow",
				Element:  "Order",
				Severity: "high",
				Region: vision.Region{
					Coordinates: vision.Coordinates{X1: 5, Y1: 5, X2: 60, Y2: 40},
				},
			},
		},
		Summary: vision.ErrorSummary{TotalErrors: 1, SeverityLevel: "high"},
	}
}

func setup(t *testing.T, analyzer Analyzer, renderer Renderer) (*Processor, tasks.Store, string) {
	t.Helper()
	store, err := tasks.OpenJSONStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	resultsDir := t.TempDir()
	return New(store, analyzer, renderer, resultsDir), store, resultsDir
}

func createTask(t *testing.T, store tasks.Store, typ tasks.Type, inputPath string) *tasks.Task {
	t.Helper()
	task := &tasks.Task{
		ID:        "task-" + string(typ),
		Type:      typ,
		Status:    tasks.StatusProcessing,
		InputPath: inputPath,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), task))
	return task
}

func TestProcessImageTask(t *testing.T) {
	img := testPNG(t)
	input := filepath.Join(t.TempDir(), "diagram.png")
	require.NoError(t, os.WriteFile(input, img, 0o640))

	analyzer := &stubAnalyzer{
		report: defaultReport(),
		correction: &vision.CorrectionResult{
			CorrectedPlantUML: "@startuml\nclass Fixed\n@enduml",
			Changes:           []string{"fixed arrow"},
		},
	}
	renderer := &stubRenderer{output: testPNG(t)}
	p, store, resultsDir := setup(t, analyzer, renderer)

	task := createTask(t, store, tasks.TypeImage, input)
	require.NoError(t, p.Process(context.Background(), task))

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.ErrorCount)
	assert.Equal(t, "high", got.Summary.SeverityLevel)
	assert.True(t, got.Summary.HasCorrections)

	dir := filepath.Join(resultsDir, task.ID)
	for _, name := range []string{fileErrorAnalysis, fileCorrected, fileAnnotatedImage, fileCorrectedImage} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// The corrected PlantUML went through the renderer.
	require.Len(t, renderer.inputs, 1)
	assert.Contains(t, renderer.inputs[0], "class Fixed")

	// The stored analysis parses back into the same report shape.
	data, err := os.ReadFile(filepath.Join(dir, fileErrorAnalysis))
	require.NoError(t, err)
	var report vision.ErrorReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "wrong_arrow", report.Errors[0].Type)
}

func TestProcessImageTaskToleratesCorrectedRenderFailure(t *testing.T) {
	img := testPNG(t)
	input := filepath.Join(t.TempDir(), "diagram.png")
	require.NoError(t, os.WriteFile(input, img, 0o640))

	analyzer := &stubAnalyzer{
		report:     defaultReport(),
		correction: &vision.CorrectionResult{CorrectedPlantUML: "@startuml\nbroken\n@enduml"},
	}
	renderer := &stubRenderer{err: assert.AnError}
	p, store, resultsDir := setup(t, analyzer, renderer)

	task := createTask(t, store, tasks.TypeImage, input)
	require.NoError(t, p.Process(context.Background(), task))

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, got.Status)
	assert.Empty(t, got.CorrectedImagePath)

	_, err = os.Stat(filepath.Join(resultsDir, task.ID, fileCorrectedImage))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessStarUMLTask(t *testing.T) {
	project := `{
	  "_type": "Project", "_id": "p", "name": "Demo",
	  "ownedElements": [
	    {"_type": "UMLClass", "_id": "c1", "name": "Order"}
	  ]
	}`
	input := filepath.Join(t.TempDir(), "project.mdj")
	require.NoError(t, os.WriteFile(input, []byte(project), 0o640))

	analyzer := &stubAnalyzer{report: defaultReport()}
	renderer := &stubRenderer{output: testPNG(t)}
	p, store, resultsDir := setup(t, analyzer, renderer)

	task := createTask(t, store, tasks.TypeStarUML, input)
	require.NoError(t, p.Process(context.Background(), task))

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.GeneratedUMLPath)

	source, err := os.ReadFile(filepath.Join(resultsDir, task.ID, fileGeneratedUML))
	require.NoError(t, err)
	assert.Contains(t, string(source), "class Order")

	require.Len(t, renderer.inputs, 1)
	assert.Contains(t, renderer.inputs[0], "@startuml")
}

func TestProcessStarUMLTaskBadProject(t *testing.T) {
	input := filepath.Join(t.TempDir(), "broken.mdj")
	require.NoError(t, os.WriteFile(input, []byte("not json"), 0o640))

	p, store, _ := setup(t, &stubAnalyzer{}, &stubRenderer{})
	task := createTask(t, store, tasks.TypeStarUML, input)

	err := p.Process(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse project")
}

func TestProcessPlantUMLTask(t *testing.T) {
	input := filepath.Join(t.TempDir(), "diagram.puml")
	require.NoError(t, os.WriteFile(input, []byte("@startuml\nclass A\n@enduml"), 0o640))

	analyzer := &stubAnalyzer{report: &vision.ErrorReport{Summary: vision.ErrorSummary{SeverityLevel: "none"}}}
	renderer := &stubRenderer{output: testPNG(t)}
	p, store, resultsDir := setup(t, analyzer, renderer)

	task := createTask(t, store, tasks.TypePlantUML, input)
	require.NoError(t, p.Process(context.Background(), task))

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 0, got.Summary.ErrorCount)

	_, err = os.Stat(filepath.Join(resultsDir, task.ID, fileRenderedImage))
	assert.NoError(t, err)
}

func TestProcessUnknownType(t *testing.T) {
	p, store, _ := setup(t, &stubAnalyzer{}, &stubRenderer{})
	task := createTask(t, store, tasks.Type("bogus"), "nowhere")

	err := p.Process(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task type")
}

func TestProcessMissingInputFile(t *testing.T) {
	p, store, _ := setup(t, &stubAnalyzer{}, &stubRenderer{})
	task := createTask(t, store, tasks.TypeImage, filepath.Join(t.TempDir(), "gone.png"))

	err := p.Process(context.Background(), task)
	assert.Error(t, err)
}
