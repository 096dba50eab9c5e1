package link

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/islandcheck/internal/workload"
)

// Order arranges discovered units within one kind.
type Order string

const (
	OrderLexical Order = "lexical"
	OrderReverse Order = "reverse"
)

// ParseOrder validates an order string.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderLexical, OrderReverse:
		return Order(s), nil
	case "":
		return OrderLexical, nil
	}
	return "", fmt.Errorf("invalid order %q: must be lexical or reverse", s)
}

// PreconditionError identifies a required input that is missing.
type PreconditionError struct {
	Path string
	What string
	Err  error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not found: %s: %v", e.What, e.Path, e.Err)
	}
	return fmt.Sprintf("%s not found: %s", e.What, e.Path)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// RequireDir fails with a PreconditionError unless path is a directory.
func RequireDir(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &PreconditionError{Path: path, What: what, Err: err}
	}
	if !info.IsDir() {
		return &PreconditionError{Path: path, What: what, Err: errors.New("not a directory")}
	}
	return nil
}

// RequireFile fails with a PreconditionError unless path is a regular file.
func RequireFile(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &PreconditionError{Path: path, What: what, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &PreconditionError{Path: path, What: what, Err: errors.New("not a regular file")}
	}
	return nil
}

// Discover lists the object files (*.o) of one kind in dir. Files are
// sorted lexically, which matches numeric order for generated units, and
// then arranged by order.
func Discover(dir string, kind workload.Kind, order Order) ([]workload.Unit, error) {
	if err := RequireDir(dir, string(kind)+" object directory"); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".o" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	units := make([]workload.Unit, len(names))
	for i, name := range names {
		units[i] = workload.Unit{
			ID:           strings.TrimSuffix(name, ".o"),
			Kind:         kind,
			Index:        i,
			ArtifactPath: filepath.Join(dir, name),
			Compiled:     true,
		}
	}
	return Arrange(units, order), nil
}

// Arrange returns units in the given order. Lexical keeps the slice as
// is; reverse returns a reversed copy. Unit indices are not renumbered.
func Arrange(units []workload.Unit, order Order) []workload.Unit {
	if order != OrderReverse {
		return units
	}
	out := make([]workload.Unit, len(units))
	for i, u := range units {
		out[len(units)-1-i] = u
	}
	return out
}

// EntryUnit wraps an existing entry object file.
func EntryUnit(path string) (workload.Unit, error) {
	if err := RequireFile(path, "entry object"); err != nil {
		return workload.Unit{}, err
	}
	return workload.Unit{
		ID:           strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Kind:         workload.KindEntry,
		ArtifactPath: path,
		Compiled:     true,
	}, nil
}

// DiscoverSources lists the generated sources of a workload for
// recompilation: logic and padding units in lexical order, then the entry
// unit. A missing kind directory contributes no units; a missing entry
// source is a precondition failure.
func DiscoverSources(layout workload.Layout) ([]workload.Unit, error) {
	if err := RequireDir(filepath.Join(layout.Root, "src"), "workload source directory"); err != nil {
		return nil, err
	}

	var units []workload.Unit
	for _, kind := range []workload.Kind{workload.KindLogic, workload.KindPadding} {
		dir := layout.SourceDir(kind)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == kind.SourceExt() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for i, name := range names {
			units = append(units, workload.Unit{
				ID:         strings.TrimSuffix(name, kind.SourceExt()),
				Kind:       kind,
				Index:      i,
				SourcePath: filepath.Join(dir, name),
			})
		}
	}

	entry := layout.EntrySource()
	if err := RequireFile(entry, "entry source"); err != nil {
		return nil, err
	}
	return append(units, workload.Unit{ID: workload.EntryStem, Kind: workload.KindEntry, SourcePath: entry}), nil
}
