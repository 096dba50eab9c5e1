package workload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_ReplacesEveryOccurrence(t *testing.T) {
	out, err := Render("int f_{{INDEX}}(void) { return {{INDEX}} * 2; }", 17)
	require.NoError(t, err)
	assert.Equal(t, "int f_17(void) { return 17 * 2; }", out)
}

func TestRender_Pure(t *testing.T) {
	tmpl := "x{{INDEX}}y{{ INDEX }}z"
	a, err := Render(tmpl, 3)
	require.NoError(t, err)
	b, err := Render(tmpl, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "x3y3z", a)
}

func TestRender_NoPlaceholder(t *testing.T) {
	out, err := Render("plain text", 5)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestRender_UnknownPlaceholder(t *testing.T) {
	_, err := Render("a {{SIZE}} b", 1)
	require.Error(t, err)

	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.Offset)
	assert.Contains(t, re.Message, "SIZE")
}

func TestRender_Unterminated(t *testing.T) {
	_, err := Render("ok {{INDEX}} then {{INDEX", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")
}

func TestBind_LeavesOtherPlaceholders(t *testing.T) {
	out, err := Bind(".space {{SIZE}} ; {{INDEX}}", PlaceholderSize, "4096")
	require.NoError(t, err)
	assert.Equal(t, ".space 4096 ; {{INDEX}}", out)

	rendered, err := Render(out, 9)
	require.NoError(t, err)
	assert.Equal(t, ".space 4096 ; 9", rendered)
}

func TestIndexWidth(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 4},
		{1, 4},
		{10, 4},
		{10000, 4},
		{10001, 5},
		{250000, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IndexWidth(tt.count), "count=%d", tt.count)
	}
}

func TestUnitStem(t *testing.T) {
	stem, err := UnitStem("", KindLogic, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, "logic_0007", stem)

	stem, err = UnitStem("blk{{INDEX}}", KindPadding, 12, 5)
	require.NoError(t, err)
	assert.Equal(t, "blk00012", stem)

	_, err = UnitStem("dir/{{INDEX}}", KindLogic, 1, 4)
	assert.Error(t, err)

	_, err = UnitStem("{{NOPE}}", KindLogic, 1, 4)
	assert.Error(t, err)
}

func TestUnitStem_LexicalOrderMatchesNumeric(t *testing.T) {
	width := IndexWidth(12000)
	prev := ""
	for _, i := range []int{0, 9, 10, 99, 100, 1000, 11999} {
		stem, err := UnitStem("", KindLogic, i, width)
		require.NoError(t, err)
		assert.Less(t, prev, stem)
		prev = stem
	}
}
