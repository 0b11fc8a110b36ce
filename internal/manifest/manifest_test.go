package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("full manifest", func(t *testing.T) {
		input := `
# weekly report dependencies
requests==2.31.0
beautifulsoup4>=4.12
openai~=1.30.0

schedule          # bare requirement
python-dotenv<=1.0.1
`
		m, err := Parse(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, m.Requirements, 5)

		assert.Equal(t, Requirement{Name: "requests", Op: "==", Version: Version{2, 31, 0}}, m.Requirements[0])
		assert.Equal(t, Requirement{Name: "beautifulsoup4", Op: ">=", Version: Version{4, 12}}, m.Requirements[1])
		assert.Equal(t, Requirement{Name: "openai", Op: "~=", Version: Version{1, 30, 0}}, m.Requirements[2])
		assert.Equal(t, Requirement{Name: "schedule"}, m.Requirements[3])
		assert.Equal(t, Requirement{Name: "python-dotenv", Op: "<=", Version: Version{1, 0, 1}}, m.Requirements[4])
	})

	t.Run("order is preserved", func(t *testing.T) {
		m, err := Parse(strings.NewReader("b==1.0\na==2.0\n"))
		require.NoError(t, err)
		assert.Equal(t, "b", m.Requirements[0].Name)
		assert.Equal(t, "a", m.Requirements[1].Name)
	})

	t.Run("error cases", func(t *testing.T) {
		cases := []struct {
			name  string
			input string
			want  string
		}{
			{"bad version", "requests==not.a.version", "invalid version"},
			{"bad name", "re quests==1.0", "invalid package name"},
			{"bare garbage", "!!!", "invalid requirement"},
			{"compatible needs two segments", "requests~=2", "requires at least two version segments"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := Parse(strings.NewReader(tc.input))
				require.Error(t, err)
				assert.ErrorContains(t, err, tc.want)
				assert.ErrorContains(t, err, "line 1")
			})
		}
	})
}

func TestVersionCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2", "1.2.0", 0},
		{"1.2.1", "1.2", 1},
		{"1.9", "1.10", -1},
		{"2.0", "1.99.99", 1},
	}
	for _, tc := range cases {
		a, err := ParseVersion(tc.a)
		require.NoError(t, err)
		b, err := ParseVersion(tc.b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, a.Compare(b), "%s vs %s", tc.a, tc.b)
	}
}

func TestRequirementMatches(t *testing.T) {
	mustVersion := func(s string) Version {
		v, err := ParseVersion(s)
		require.NoError(t, err)
		return v
	}

	cases := []struct {
		req       string
		candidate string
		want      bool
	}{
		{"requests==2.31.0", "2.31.0", true},
		{"requests==2.31.0", "2.31.1", false},
		{"requests>=2.31", "2.32.0", true},
		{"requests>=2.31", "2.30.9", false},
		{"requests<=2.31", "2.31.0", true},
		{"requests<=2.31", "2.31.1", false},
		{"openai~=1.30.0", "1.30.5", true},
		{"openai~=1.30.0", "1.31.0", false},
		{"openai~=1.30.0", "1.29.9", false},
		{"openai~=1.30", "1.99.0", true}, // series is "1"
		{"openai~=1.30", "2.0.0", false},
		{"schedule", "0.0.1", true},
	}
	for _, tc := range cases {
		t.Run(tc.req+" vs "+tc.candidate, func(t *testing.T) {
			m, err := Parse(strings.NewReader(tc.req))
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.Requirements[0].Matches(mustVersion(tc.candidate)))
		})
	}
}
