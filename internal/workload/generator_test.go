package workload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_LogicUnits(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(Spec{UnitCount: 3}, root, nil)

	tmpl, err := DefaultTemplate(KindLogic)
	require.NoError(t, err)

	result, err := gen.Generate(context.Background(), KindLogic, tmpl)
	require.NoError(t, err)
	require.NoError(t, result.Err())

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Units, 3)

	for i, u := range result.Units {
		assert.Equal(t, KindLogic, u.Kind)
		assert.Equal(t, i, u.Index)
		assert.False(t, u.Compiled)
		assert.Equal(t, filepath.Join(root, "src", "logic", u.ID+".c"), u.SourcePath)

		data, err := os.ReadFile(u.SourcePath)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "{{")
	}

	data, err := os.ReadFile(result.Units[2].SourcePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "int logic_2(int x)")
	assert.Equal(t, "logic_0002", result.Units[2].ID)
}

func TestGenerate_PaddingBindsSize(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(Spec{UnitCount: 2, UnitSizeBytes: 16 << 20}, root, nil)

	tmpl, err := DefaultTemplate(KindPadding)
	require.NoError(t, err)

	result, err := gen.Generate(context.Background(), KindPadding, tmpl)
	require.NoError(t, err)
	require.Len(t, result.Units, 2)

	data, err := os.ReadFile(result.Units[1].SourcePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), ".space 16777216")
	assert.Contains(t, string(data), "_padding_1:")
	assert.Equal(t, ".s", filepath.Ext(result.Units[1].SourcePath))
}

func TestGenerate_DirectoryListingIsSorted(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(Spec{UnitCount: 12}, root, nil)

	result, err := gen.Generate(context.Background(), KindLogic, "int f{{INDEX}};")
	require.NoError(t, err)

	entries, err := os.ReadDir(gen.Layout.SourceDir(KindLogic))
	require.NoError(t, err)
	require.Len(t, entries, 12)
	for i, e := range entries {
		assert.Equal(t, filepath.Base(result.Units[i].SourcePath), e.Name())
	}
}

func TestGenerate_PerUnitFailureContinues(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(Spec{UnitCount: 4}, root, nil)

	// A directory squatting on unit 1's path makes that write fail.
	blocked := filepath.Join(gen.Layout.SourceDir(KindLogic), "logic_0001.c")
	require.NoError(t, os.MkdirAll(blocked, 0o755))

	result, err := gen.Generate(context.Background(), KindLogic, "int f{{INDEX}};")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "logic_0001", result.Failures[0].UnitID)
	assert.Error(t, result.Err())

	for _, u := range result.Units {
		assert.NotEqual(t, "logic_0001", u.ID)
	}
}

func TestGenerate_RenderFailureIsPerUnit(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(Spec{UnitCount: 2}, root, nil)

	result, err := gen.Generate(context.Background(), KindLogic, "int f{{INDEX}}; {{BOGUS}}")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
}

func TestGenerate_UnboundableTemplateAborts(t *testing.T) {
	gen := NewGenerator(Spec{UnitCount: 2}, t.TempDir(), nil)

	result, err := gen.Generate(context.Background(), KindLogic, "broken {{INDEX")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrTemplateUnreadable))
}

func TestLoadTemplate_Unreadable(t *testing.T) {
	_, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.tmpl"), KindLogic)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateUnreadable))
}

func TestLoadTemplate_Default(t *testing.T) {
	tmpl, err := LoadTemplate("", KindPadding)
	require.NoError(t, err)
	assert.Contains(t, tmpl, "{{SIZE}}")
}

func TestGenerate_InvalidSpec(t *testing.T) {
	gen := NewGenerator(Spec{UnitCount: 0}, t.TempDir(), nil)
	_, err := gen.Generate(context.Background(), KindLogic, "x")
	assert.Error(t, err)
}

func TestGenerate_NamingTemplateNeedsIndex(t *testing.T) {
	gen := NewGenerator(Spec{UnitCount: 2, NamingTemplate: "fixed"}, t.TempDir(), nil)
	_, err := gen.Generate(context.Background(), KindLogic, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{{INDEX}}")
}

func TestGenerateEntry(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(Spec{UnitCount: 1}, root, nil)

	tmpl, err := DefaultTemplate(KindEntry)
	require.NoError(t, err)

	unit, err := gen.GenerateEntry(tmpl)
	require.NoError(t, err)
	assert.Equal(t, KindEntry, unit.Kind)
	assert.Equal(t, gen.Layout.EntrySource(), unit.SourcePath)

	data, err := os.ReadFile(unit.SourcePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "int main(void)")
}
