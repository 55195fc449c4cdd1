// SPDX-License-Identifier: MIT

// grade is a one-shot CLI for UML diagram work without running the daemon.
//
// Usage:
//
//	grade convert -in project.mdj [-out diagram.puml]
//	grade render -in diagram.puml [-out diagram.jpg]
//	grade analyze -in diagram.png [-out report.json]
//	grade recover -in diagram.png [-out diagram.puml]
//
// convert turns a StarUML project into PlantUML source, render rasterizes
// PlantUML to JPEG, analyze asks the vision model for an error report, and
// recover reconstructs PlantUML source from a diagram image.
//
// Exit codes:
//   - 0: success
//   - 1: operation failed
//   - 2: usage error
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/umlgrade/umlgrade/internal/cache"
	"github.com/umlgrade/umlgrade/internal/config"
	umllog "github.com/umlgrade/umlgrade/internal/log"
	"github.com/umlgrade/umlgrade/internal/plantuml"
	"github.com/umlgrade/umlgrade/internal/plantuml/render"
	"github.com/umlgrade/umlgrade/internal/staruml"
	"github.com/umlgrade/umlgrade/internal/vision"
)

var version = "v1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 2
	}

	cmd := os.Args[1]
	if cmd == "-version" || cmd == "--version" {
		fmt.Println(version)
		return 0
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	in := fs.String("in", "", "input file")
	out := fs.String("out", "", "output file (defaults next to the input)")
	logLevel := fs.String("log-level", "warn", "log level")
	_ = fs.Parse(os.Args[2:])

	umllog.Configure(umllog.Config{
		Level:   *logLevel,
		Service: "umlgrade",
		Version: version,
		Output:  os.Stderr,
	})

	if *in == "" {
		fmt.Fprintln(os.Stderr, "Error: -in is required")
		usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv(version)

	var err error
	switch cmd {
	case "convert":
		err = runConvert(*in, *out)
	case "render":
		err = runRender(ctx, cfg, *in, *out)
	case "analyze":
		err = runAnalyze(ctx, cfg, *in, *out)
	case "recover":
		err = runRecover(ctx, cfg, *in, *out)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  grade convert -in project.mdj [-out diagram.puml]")
	fmt.Fprintln(os.Stderr, "  grade render -in diagram.puml [-out diagram.jpg]")
	fmt.Fprintln(os.Stderr, "  grade analyze -in diagram.png [-out report.json]")
	fmt.Fprintln(os.Stderr, "  grade recover -in diagram.png [-out diagram.puml]")
}

func runConvert(in, out string) error {
	data, err := os.ReadFile(in) // #nosec G304 -- operator-provided path
	if err != nil {
		return err
	}
	model, err := staruml.Parse(data)
	if err != nil {
		return err
	}
	source := plantuml.Generate(model)
	return writeOutput(out, defaultOut(in, ".puml"), []byte(source))
}

func runRender(ctx context.Context, cfg config.AppConfig, in, out string) error {
	source, err := os.ReadFile(in) // #nosec G304 -- operator-provided path
	if err != nil {
		return err
	}
	runner := render.NewRunner(cfg.JavaBin, cfg.PlantUMLJar, cfg.RenderTimeout)
	image, err := runner.Render(ctx, string(source))
	if err != nil {
		return err
	}
	return writeOutput(out, defaultOut(in, ".jpg"), image)
}

func runAnalyze(ctx context.Context, cfg config.AppConfig, in, out string) error {
	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		return err
	}
	image, err := os.ReadFile(in) // #nosec G304 -- operator-provided path
	if err != nil {
		return err
	}
	report, err := analyzer.AnalyzeErrors(ctx, image)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%d error(s), severity %s\n", report.Summary.TotalErrors, report.Summary.SeverityLevel)
	return writeOutput(out, defaultOut(in, ".report.json"), data)
}

func runRecover(ctx context.Context, cfg config.AppConfig, in, out string) error {
	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		return err
	}
	image, err := os.ReadFile(in) // #nosec G304 -- operator-provided path
	if err != nil {
		return err
	}
	model, err := analyzer.DescribeImage(ctx, image)
	if err != nil {
		return err
	}
	source := plantuml.Generate(model)
	return writeOutput(out, defaultOut(in, ".puml"), []byte(source))
}

func newAnalyzer(cfg config.AppConfig) (*vision.Analyzer, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	client := vision.NewClient(vision.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.VisionTimeout,
		RPS:     cfg.VisionRPS,
	})
	return vision.NewAnalyzer(client, cache.NewNoOpCache(), 0), nil
}

func defaultOut(in, ext string) string {
	base := in
	if i := strings.LastIndex(in, "."); i > 0 {
		base = in[:i]
	}
	return base + ext
}

func writeOutput(out, fallback string, data []byte) error {
	path := out
	if path == "" {
		path = fallback
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
