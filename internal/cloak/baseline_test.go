package cloak

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBaseline(t *testing.T) {
	b, err := ParseBaseline(strings.NewReader(`
# global rules
*.dll
*.exe   # binaries by licence

src/runtime/bin/
src/arcade/secret/**  # scoped, with comment
`))
	require.NoError(t, err)
	require.Equal(t, []string{"*.dll", "*.exe"}, b.GlobalPatterns())
	require.Equal(t, []string{"bin/"}, b.MappingPatterns("runtime"))
	require.Equal(t, []string{"secret/**"}, b.MappingPatterns("arcade"))
	require.Empty(t, b.MappingPatterns("unknown"))
	require.Len(t, b.Rules(), 4)
}

func TestParseBaselineRejectsMalformedLines(t *testing.T) {
	_, err := ParseBaseline(strings.NewReader("tools/helper.dll\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")

	_, err = ParseBaseline(strings.NewReader("src/arcade\n"))
	require.Error(t, err)
}

func TestParseBaselineIgnoresBlanksAndComments(t *testing.T) {
	b, err := ParseBaseline(strings.NewReader("\n   \n# only a comment\n"))
	require.NoError(t, err)
	require.Empty(t, b.Rules())
}
