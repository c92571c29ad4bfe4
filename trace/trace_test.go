package trace

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFrame_PackageUnescapesDottedPathElement(t *testing.T) {
	t.Parallel()

	cases := []struct {
		symbol string
		want   string
	}{
		{"main.main", "main"},
		{"runtime.gopanic", "runtime"},
		{"github.com/a/b.(*T).M", "github.com/a/b"},
		{"github.com/a/b.F.func1", "github.com/a/b"},
		{"gopkg.in/yaml%2ev3.(*parser).parse", "gopkg.in/yaml.v3"},
		{"net/http.(*conn).serve", "net/http"},
	}
	for _, tc := range cases {
		fr := NewFrame(1, tc.symbol, "", 0)
		got, ok := fr.Package()
		require.True(t, ok, tc.symbol)
		require.Equal(t, tc.want, got, tc.symbol)
	}

	_, ok := NewFrame(1, "", "", 0).Package()
	require.False(t, ok)
}

func TestNewFrame_ZeroValuesAreAbsent(t *testing.T) {
	t.Parallel()

	fr := NewFrame(0xabc, "", "", 0)
	_, ok := fr.Symbol()
	require.False(t, ok)
	_, _, ok = fr.Location()
	require.False(t, ok)
	require.Equal(t, "0xabc", fr.String())

	fr = NewFrame(0, "main.f", "/src/main.go", 7)
	require.Equal(t, "main.f /src/main.go:7", fr.String())
}

func TestCapture_StartsAtCaller(t *testing.T) {
	t.Parallel()

	bt := Capture(0)
	require.NotEmpty(t, bt)
	name, ok := bt[0].Symbol()
	require.True(t, ok)
	require.True(t, strings.HasSuffix(name, "TestCapture_StartsAtCaller"), name)
	_, line, ok := bt[0].Location()
	require.True(t, ok)
	require.Positive(t, line)
}

func TestFromPCs_Empty(t *testing.T) {
	t.Parallel()

	require.Nil(t, FromPCs(nil))
	require.Nil(t, FromErrorStack(nil))
}

func newStackErr() error {
	return errors.New("boom")
}

func TestErrorStack_FindsInnermostStack(t *testing.T) {
	t.Parallel()

	err := errors.Wrap(newStackErr(), "outer")
	bt, ok := ErrorStack(err)
	require.True(t, ok)
	name, ok := bt[0].Symbol()
	require.True(t, ok)
	require.True(t, strings.HasSuffix(name, "newStackErr"), name)

	_, ok = ErrorStack("not an error")
	require.False(t, ok)
	_, ok = ErrorStack(errors.New("x"))
	require.True(t, ok)
}

func TestParseVerbosity(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Verbosity{
		"minimal": Minimal,
		"SHORT":   Short,
		"medium":  Short,
		" full ":  Full,
	} {
		got, err := ParseVerbosity(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseVerbosity("loud")
	require.Error(t, err)
}
