package workload

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ErrTemplateUnreadable aborts a generation run: without a template no
// part of the corpus is usable.
var ErrTemplateUnreadable = errors.New("template unreadable")

// DefaultTemplate returns the built-in template for kind.
func DefaultTemplate(kind Kind) (string, error) {
	var name string
	switch kind {
	case KindLogic:
		name = "templates/logic.c.tmpl"
	case KindPadding:
		name = "templates/padding.s.tmpl"
	case KindEntry:
		name = "templates/entry.c.tmpl"
	default:
		return "", fmt.Errorf("no default template for kind %q", kind)
	}
	data, err := templateFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateUnreadable, err)
	}
	return string(data), nil
}

// LoadTemplate reads a template from path, or returns the built-in
// template for kind when path is empty.
func LoadTemplate(path string, kind Kind) (string, error) {
	if path == "" {
		return DefaultTemplate(kind)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplateUnreadable, path, err)
	}
	return string(data), nil
}

// Result is the outcome of generating one kind of unit.
type Result struct {
	Kind      Kind          `json:"kind"`
	Units     []Unit        `json:"-"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}

// Err returns a non-nil error when any unit failed.
func (r *Result) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d %s units failed to generate", r.Failed, r.Failed+r.Succeeded, r.Kind)
}

// Generator writes source units for a workload.
type Generator struct {
	Spec   Spec
	Layout Layout
	Logger *slog.Logger
}

// NewGenerator creates a generator rooted at root.
func NewGenerator(spec Spec, root string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{Spec: spec, Layout: Layout{Root: root}, Logger: logger}
}

// Generate renders Spec.UnitCount units of kind from template.
//
// A unit whose render or write fails is recorded in the result and the
// loop moves on. A returned error means nothing usable was produced: an
// invalid spec, an unbindable template, or an output directory that cannot
// be created.
func (g *Generator) Generate(ctx context.Context, kind Kind, template string) (*Result, error) {
	if err := g.Spec.Validate(); err != nil {
		return nil, err
	}
	if kind != KindLogic && kind != KindPadding {
		return nil, fmt.Errorf("generate: unsupported kind %q", kind)
	}
	if g.Spec.NamingTemplate != "" && !strings.Contains(g.Spec.NamingTemplate, "{{"+PlaceholderIndex+"}}") {
		return nil, fmt.Errorf("naming template %q must contain {{%s}}", g.Spec.NamingTemplate, PlaceholderIndex)
	}

	bound, err := Bind(template, PlaceholderSize, strconv.FormatInt(g.Spec.UnitSizeBytes, 10))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateUnreadable, err)
	}

	dir := g.Layout.SourceDir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create source dir: %w", err)
	}

	width := IndexWidth(g.Spec.UnitCount)
	result := &Result{Kind: kind, Units: make([]Unit, 0, g.Spec.UnitCount)}

	g.Logger.Info("generating units", "kind", kind, "count", g.Spec.UnitCount, "dir", dir)
	for i := 0; i < g.Spec.UnitCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		unit, err := g.writeUnit(bound, kind, i, width)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, UnitFailure{UnitID: unit.ID, Error: err.Error()})
			g.Logger.Warn("unit generation failed", "kind", kind, "index", i, "error", err)
			continue
		}
		result.Succeeded++
		result.Units = append(result.Units, unit)
	}
	g.Logger.Info("generation finished", "kind", kind, "succeeded", result.Succeeded, "failed", result.Failed)

	return result, nil
}

func (g *Generator) writeUnit(template string, kind Kind, index, width int) (Unit, error) {
	stem, err := UnitStem(g.Spec.NamingTemplate, kind, index, width)
	if err != nil {
		return Unit{ID: fmt.Sprintf("%s#%d", kind, index)}, err
	}
	unit := Unit{
		ID:         stem,
		Kind:       kind,
		Index:      index,
		SourcePath: filepath.Join(g.Layout.SourceDir(kind), stem+kind.SourceExt()),
	}

	text, err := Render(template, index)
	if err != nil {
		return unit, err
	}
	if err := os.WriteFile(unit.SourcePath, []byte(text), 0o644); err != nil {
		return unit, fmt.Errorf("write source: %w", err)
	}
	return unit, nil
}

// GenerateEntry writes the fixed entry unit. The entry template is not
// indexed; it is rendered with index 0.
func (g *Generator) GenerateEntry(template string) (Unit, error) {
	dir := g.Layout.SourceDir(KindEntry)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Unit{}, fmt.Errorf("create entry dir: %w", err)
	}
	text, err := Render(template, 0)
	if err != nil {
		return Unit{}, fmt.Errorf("render entry: %w", err)
	}
	unit := Unit{ID: EntryStem, Kind: KindEntry, SourcePath: g.Layout.EntrySource()}
	if err := os.WriteFile(unit.SourcePath, []byte(text), 0o644); err != nil {
		return Unit{}, fmt.Errorf("write entry: %w", err)
	}
	return unit, nil
}
