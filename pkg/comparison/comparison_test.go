package comparison

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilko77/splink/pkg/types"
)

func TestNewComparisonValidation(t *testing.T) {
	elseLevel := Level{Kind: KindElse, Label: "else"}
	exact := Level{Kind: KindExact, Column: "name", Label: "exact"}
	null := Level{Kind: KindNull, Column: "name", Label: "null"}

	t.Run("valid comparison", func(t *testing.T) {
		cc, err := NewComparison("name", "", []Level{null, exact, elseLevel})
		require.NoError(t, err)
		assert.Equal(t, 0, cc.NullLevelIndex())
	})

	t.Run("no levels", func(t *testing.T) {
		_, err := NewComparison("name", "", nil)
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("missing else level", func(t *testing.T) {
		_, err := NewComparison("name", "", []Level{null, exact})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("else not last", func(t *testing.T) {
		_, err := NewComparison("name", "", []Level{null, elseLevel, exact})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("two null levels", func(t *testing.T) {
		_, err := NewComparison("name", "", []Level{null, null, exact, elseLevel})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("null after data level", func(t *testing.T) {
		_, err := NewComparison("name", "", []Level{exact, null, elseLevel})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("empty output name", func(t *testing.T) {
		_, err := NewComparison("", "", []Level{exact, elseLevel})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("no null level is allowed", func(t *testing.T) {
		cc, err := NewComparison("name", "", []Level{exact, elseLevel})
		require.NoError(t, err)
		assert.Equal(t, -1, cc.NullLevelIndex())
	})
}

func TestEvaluateOrdinalPrecedence(t *testing.T) {
	cc, err := LevenshteinAtThresholds("dob", 1, 2)
	require.NoError(t, err)

	tests := []struct {
		name      string
		left      string
		right     string
		wantLevel int
		wantNull  bool
	}{
		{"exact match wins over levenshtein", "1991-04-11", "1991-04-11", 1, false},
		{"within distance one", "1991-04-11", "1991-04-12", 2, false},
		{"within distance two", "1991-04-11", "1991-04-22", 3, false},
		{"falls through to else", "1991-04-11", "2020-12-31", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left := types.Record{"dob": tt.left}
			right := types.Record{"dob": tt.right}
			level, isNull := cc.Evaluate(left, right)
			assert.Equal(t, tt.wantLevel, level)
			assert.Equal(t, tt.wantNull, isNull)
		})
	}
}

func TestEvaluateNullPrecedence(t *testing.T) {
	cc, err := ExactMatch("surname")
	require.NoError(t, err)

	// A missing value must assign the null level even when the raw values
	// would compare equal as empty strings.
	left := types.Record{"surname": ""}
	right := types.Record{"surname": ""}
	level, isNull := cc.Evaluate(left, right)
	assert.Equal(t, 0, level)
	assert.True(t, isNull)

	level, isNull = cc.Evaluate(types.Record{"surname": "smith"}, types.Record{})
	assert.Equal(t, 0, level)
	assert.True(t, isNull)
}

func TestEvaluateTotality(t *testing.T) {
	cc, err := JaroWinklerAtThresholds("name", 0.9, 0.7)
	require.NoError(t, err)

	// Every input pair must land on exactly one level.
	inputs := []string{"", "a", "ab", "smith", "smyth", "jones", "ватсон"}
	for _, l := range inputs {
		for _, r := range inputs {
			level, _ := cc.Evaluate(types.Record{"name": l}, types.Record{"name": r})
			if level < 0 || level >= len(cc.Levels) {
				t.Fatalf("Evaluate(%q, %q) = %d, out of range", l, r, level)
			}
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"smith", "smyth", 1},
		{"1991-04-11", "1991-04-17", 1},
		{"flaw", "lawn", 2},
	}
	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.expected {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestJaroWinkler(t *testing.T) {
	tests := []struct {
		a, b     string
		expected float64
	}{
		{"martha", "marhta", 0.9611},
		{"dixon", "dicksonx", 0.8133},
		{"same", "same", 1.0},
		{"abc", "xyz", 0.0},
	}
	for _, tt := range tests {
		got := JaroWinkler(tt.a, tt.b)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("JaroWinkler(%q, %q) = %.4f, want %.4f", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestCustomLevelPredicate(t *testing.T) {
	cc, err := NewComparison("name", "", []Level{
		{
			Kind:      KindCustom,
			Column:    "name",
			Label:     "same initial",
			Condition: "substr(name_l, 1, 1) = substr(name_r, 1, 1)",
			Predicate: func(l, r any) bool {
				ls, _ := l.(string)
				rs, _ := r.(string)
				return len(ls) > 0 && len(rs) > 0 && ls[0] == rs[0]
			},
		},
		{Kind: KindElse, Label: "else"},
	})
	require.NoError(t, err)

	level, _ := cc.Evaluate(types.Record{"name": "john"}, types.Record{"name": "jane"})
	assert.Equal(t, 0, level)
	level, _ = cc.Evaluate(types.Record{"name": "john"}, types.Record{"name": "mary"})
	assert.Equal(t, 1, level)
}

func TestLibrary(t *testing.T) {
	lib := DefaultLibrary()
	assert.NotEmpty(t, lib.Names())

	cc, err := lib.Build("exact_match", "city")
	require.NoError(t, err)
	assert.Equal(t, "city", cc.OutputName)

	_, err = lib.Build("no_such_builder", "city")
	var specErr *types.SpecificationError
	require.True(t, errors.As(err, &specErr))
}

func TestTFColumns(t *testing.T) {
	cc, err := ExactMatchWithTF("city", 1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"city"}, cc.TFColumns())

	plain, err := ExactMatch("city")
	require.NoError(t, err)
	assert.Empty(t, plain.TFColumns())
}
