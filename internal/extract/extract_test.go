// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupported(t *testing.T) {
	e := New("ctags", 0, nil, nil)
	assert.True(t, e.IsSupported("foo.c"))
	assert.True(t, e.IsSupported("bar.HPP"))
	assert.False(t, e.IsSupported("readme.md"))
	assert.False(t, e.IsSupported("noext"))
}

func TestRemoveComments_StripsLineAndBlockComments(t *testing.T) {
	in := "int x = 1; // a trailing comment\nint y = /* inline */ 2;"
	out := removeComments(in)
	assert.NotContains(t, out, "trailing comment")
	assert.NotContains(t, out, "inline")
	assert.Contains(t, out, "int x = 1;")
	assert.Contains(t, out, "int y =")
}

func TestRemoveComments_PreservesStringLiteralContent(t *testing.T) {
	in := `char *s = "// not a comment";`
	out := removeComments(in)
	assert.Contains(t, out, "// not a comment")
}

func TestRemoveComments_KeepsStandaloneDivisionOperator(t *testing.T) {
	in := "int avg = a/b;"
	out := removeComments(in)
	assert.Equal(t, "int avg = a/b;", out)
}

func TestNormalize_LowercasesAndStripsWhitespaceAndBraces(t *testing.T) {
	in := "{ INT   Add(int a,\n\tint b) { return a + b; } }"
	out := normalize(in)
	assert.NotContains(t, out, " ")
	assert.NotContains(t, out, "\n")
	assert.NotContains(t, out, "\t")
	assert.NotContains(t, out, "{")
	assert.Equal(t, strings.ToLower(out), out)
}

func TestParseCtagsOutput_FiltersToFunctionKind(t *testing.T) {
	out := "add\tfoo.c\t/^int add(/;\"\tfunction\tline:10\ttyperef:typename:int\tend:14\n" +
		"Point\tfoo.c\t/^struct Point/;\"\tstruct\tline:1\tend:4\n"
	funcs := parseCtagsOutput(out)
	require.Len(t, funcs, 1)
	assert.Equal(t, 10, funcs[0].startLine)
	assert.Equal(t, 14, funcs[0].endLine)
}

func TestParseCtagsOutput_SkipsMalformedLines(t *testing.T) {
	funcs := parseCtagsOutput("garbage\tline\n")
	assert.Empty(t, funcs)
}

func TestReadSourceFile_MissingFileReturnsError(t *testing.T) {
	_, err := ReadSourceFile("/nonexistent/path/does/not/exist.c")
	require.Error(t, err)
}
