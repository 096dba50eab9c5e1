package workload

import "path/filepath"

// EntryStem is the file stem of the fixed entry unit.
const EntryStem = "main"

// Layout resolves the sibling source and object directories of a workload.
type Layout struct {
	Root string
}

// SourceDir returns <root>/src/<kind>.
func (l Layout) SourceDir(kind Kind) string {
	return filepath.Join(l.Root, "src", string(kind))
}

// ObjectDir returns <root>/obj/<kind>.
func (l Layout) ObjectDir(kind Kind) string {
	return filepath.Join(l.Root, "obj", string(kind))
}

// EntrySource returns the path of the entry unit's source file.
func (l Layout) EntrySource() string {
	return filepath.Join(l.SourceDir(KindEntry), EntryStem+KindEntry.SourceExt())
}

// EntryObject returns the path of the compiled entry unit.
func (l Layout) EntryObject() string {
	return filepath.Join(l.ObjectDir(KindEntry), EntryStem+".o")
}

// ObjectPathFor maps a unit's source path to its artifact path in the
// sibling obj directory.
func (l Layout) ObjectPathFor(u Unit) string {
	return filepath.Join(l.ObjectDir(u.Kind), u.ID+".o")
}
