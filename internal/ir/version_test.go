package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in                  string
		major, minor, patch int
		text                string
	}{
		{"1.0", 1, 0, 0, "1.0"},
		{"v24.08", 24, 8, 0, "24.08"},
		{"0.18.1", 0, 18, 1, "0.18.1"},
		{"25.09", 25, 9, 0, "25.09"},
		{" 29.0 ", 29, 0, 0, "29.0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.major, v.Major)
			assert.Equal(t, tt.minor, v.Minor)
			assert.Equal(t, tt.patch, v.Patch)
			assert.Equal(t, tt.text, v.String())
		})
	}
}

func TestParseVersionRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "1", "1.x", "1.0.0.0", "latest", "v"} {
		_, err := ParseVersion(in)
		assert.ErrorIs(t, err, ErrInvalidVersion, in)
	}
}

func TestVersionCompare(t *testing.T) {
	assert.Equal(t, 0, MustParseVersion("1.0").Compare(MustParseVersion("1.0.0")))
	assert.Equal(t, -1, MustParseVersion("0.9").Compare(MustParseVersion("0.10")))
	assert.Equal(t, 1, MustParseVersion("25.09").Compare(MustParseVersion("25.5")))
	assert.True(t, MustParseVersion("1.0.1").Less(MustParseVersion("1.1")))
}

func TestVersionJSON(t *testing.T) {
	v := MustParseVersion("v25.09")
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `"25.09"`, string(data))

	var back Version
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, back.Compare(v))
	assert.Equal(t, "25.09", back.String())
}

func TestVersionRangeCovers(t *testing.T) {
	r := Between(MustParseVersion("1.0"), MustParseVersion("2.0"))

	assert.False(t, r.Covers(MustParseVersion("0.9")))
	assert.True(t, r.Covers(MustParseVersion("1.0")))
	assert.True(t, r.Covers(MustParseVersion("1.9.9")))
	assert.False(t, r.Covers(MustParseVersion("2.0")), "removed_in is exclusive")

	open := Since(MustParseVersion("2.0"))
	assert.True(t, open.Covers(MustParseVersion("99.0")))
}

func TestVersionRangeOverlaps(t *testing.T) {
	a := Between(MustParseVersion("1.0"), MustParseVersion("2.0"))
	b := Since(MustParseVersion("2.0"))
	c := Since(MustParseVersion("1.5"))

	assert.False(t, a.Overlaps(b), "adjacent ranges are disjoint")
	assert.True(t, a.Overlaps(c))
	assert.True(t, b.Overlaps(c))
	assert.True(t, c.Overlaps(b))
}

func TestVersionRangeValidAndContains(t *testing.T) {
	assert.True(t, Since(MustParseVersion("1.0")).Valid())
	assert.False(t, Between(MustParseVersion("2.0"), MustParseVersion("2.0")).Valid())
	assert.False(t, Between(MustParseVersion("2.0"), MustParseVersion("1.0")).Valid())
	assert.False(t, VersionRange{}.Valid())

	outer := Since(MustParseVersion("1.0"))
	assert.True(t, outer.Contains(Between(MustParseVersion("1.0"), MustParseVersion("3.0"))))
	assert.False(t, Between(MustParseVersion("1.0"), MustParseVersion("3.0")).Contains(outer))

	assert.Equal(t, "[1.0, 2.0)", Between(MustParseVersion("1.0"), MustParseVersion("2.0")).String())
	assert.Equal(t, "[1.0, ∞)", outer.String())
}
