package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/comparison"
	"github.com/wilko77/splink/pkg/types"
)

func mustComparison(t *testing.T, name string) *comparison.Comparison {
	t.Helper()
	cc, err := comparison.ExactMatch(name)
	require.NoError(t, err)
	return cc
}

func TestNewValidation(t *testing.T) {
	cc := mustComparison(t, "first_name")
	rule := blocking.ParseRule("l.first_name = r.first_name")

	t.Run("defaults applied", func(t *testing.T) {
		s, err := New(blocking.DedupeOnly, []*comparison.Comparison{cc}, []blocking.Rule{rule})
		require.NoError(t, err)
		assert.Equal(t, DefaultUniqueIDColumn, s.UniqueIDColumn)
		assert.Equal(t, DefaultPriorMatchProb, s.PriorMatchProbability)
		assert.Equal(t, DefaultMaxIterations, s.MaxIterations)
	})

	t.Run("unknown link type", func(t *testing.T) {
		_, err := New(blocking.LinkType("bogus"), []*comparison.Comparison{cc}, []blocking.Rule{rule})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("no comparisons", func(t *testing.T) {
		_, err := New(blocking.DedupeOnly, nil, []blocking.Rule{rule})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("no blocking rules", func(t *testing.T) {
		_, err := New(blocking.DedupeOnly, []*comparison.Comparison{cc}, nil)
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("duplicate output names", func(t *testing.T) {
		_, err := New(blocking.DedupeOnly, []*comparison.Comparison{cc, mustComparison(t, "first_name")}, []blocking.Rule{rule})
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})

	t.Run("prior out of range", func(t *testing.T) {
		_, err := New(blocking.DedupeOnly, []*comparison.Comparison{cc}, []blocking.Rule{rule},
			WithPriorMatchProbability(1.5))
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	})
}

const sampleDocument = `{
  "link_type": "dedupe_only",
  "probability_two_random_records_match": 0.01,
  "blocking_rules_to_generate_predictions": [
    "l.first_name = r.first_name",
    "l.surname = r.surname"
  ],
  "comparisons": [
    {
      "output_column_name": "first_name",
      "comparison_levels": [
        {"sql_condition": "first_name_l IS NULL OR first_name_r IS NULL", "is_null_level": true},
        {"sql_condition": "first_name_l = first_name_r", "m_probability": 0.9, "u_probability": 0.05,
         "tf_adjustment_column": "first_name", "tf_adjustment_weight": 1.0},
        {"sql_condition": "ELSE"}
      ]
    },
    {
      "output_column_name": "dob",
      "comparison_levels": [
        {"sql_condition": "dob_l IS NULL OR dob_r IS NULL", "is_null_level": true},
        {"sql_condition": "dob_l = dob_r"},
        {"sql_condition": "levenshtein(dob_l, dob_r) <= 1"},
        {"sql_condition": "ELSE"}
      ]
    }
  ]
}`

func TestParseJSON(t *testing.T) {
	s, err := ParseJSON([]byte(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, blocking.DedupeOnly, s.LinkType)
	assert.InDelta(t, 0.01, s.PriorMatchProbability, 1e-12)
	require.Len(t, s.BlockingRules, 2)
	assert.Equal(t, []string{"first_name"}, s.BlockingRules[0].ExactMatchColumns)

	require.Len(t, s.Comparisons, 2)
	first := s.Comparisons[0]
	assert.Equal(t, "first_name", first.OutputName)
	assert.Equal(t, 0, first.NullLevelIndex())
	assert.Equal(t, comparison.KindExact, first.Levels[1].Kind)
	require.NotNil(t, first.Levels[1].TF)
	assert.Equal(t, "first_name", first.Levels[1].TF.Column)

	dob := s.Comparisons[1]
	assert.Equal(t, comparison.KindLevenshtein, dob.Levels[2].Kind)
	assert.Equal(t, 1.0, dob.Levels[2].Threshold)
	assert.Equal(t, comparison.KindElse, dob.Levels[3].Kind)

	// Level priors ride along positionally.
	require.Len(t, s.Priors, 2)
	require.NotNil(t, s.Priors[0][1])
	assert.InDelta(t, 0.9, s.Priors[0][1].M, 1e-12)
	assert.Nil(t, s.Priors[1][1])
}

func TestParseYAML(t *testing.T) {
	doc := `
link_type: dedupe_only
blocking_rules_to_generate_predictions:
  - l.city = r.city
comparisons:
  - output_column_name: city
    comparison_levels:
      - sql_condition: city_l = city_r
      - sql_condition: ELSE
`
	s, err := ParseYAML([]byte(doc))
	require.NoError(t, err)
	require.Len(t, s.Comparisons, 1)
	assert.Equal(t, comparison.KindExact, s.Comparisons[0].Levels[0].Kind)
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing link type", `{"comparisons": [], "blocking_rules_to_generate_predictions": ["l.a = r.a"]}`},
		{"comparison without else", `{
			"link_type": "dedupe_only",
			"blocking_rules_to_generate_predictions": ["l.a = r.a"],
			"comparisons": [{"output_column_name": "a", "comparison_levels": [{"sql_condition": "a_l = a_r"}]}]
		}`},
		{"not json", `{{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestAsDocumentRoundTrip(t *testing.T) {
	s, err := ParseJSON([]byte(sampleDocument))
	require.NoError(t, err)

	doc := s.AsDocument()
	assert.Equal(t, "dedupe_only", doc.LinkType)
	require.Len(t, doc.Comparisons, 2)
	assert.Equal(t, "first_name_l = first_name_r", doc.Comparisons[0].ComparisonLevels[1].SQLCondition)
	assert.Equal(t, "ELSE", doc.Comparisons[0].ComparisonLevels[2].SQLCondition)
	assert.True(t, doc.Comparisons[0].ComparisonLevels[0].IsNullLevel)
	require.NotNil(t, doc.Comparisons[0].ComparisonLevels[1].MProbability)
	assert.InDelta(t, 0.9, *doc.Comparisons[0].ComparisonLevels[1].MProbability, 1e-12)
}

func TestTrainingRulesFallback(t *testing.T) {
	cc := mustComparison(t, "first_name")
	rule := blocking.ParseRule("l.first_name = r.first_name")
	training := blocking.ParseRule("l.dob = r.dob")

	s, err := New(blocking.DedupeOnly, []*comparison.Comparison{cc}, []blocking.Rule{rule})
	require.NoError(t, err)
	assert.Equal(t, s.BlockingRules, s.TrainingRules())

	s, err = New(blocking.DedupeOnly, []*comparison.Comparison{cc}, []blocking.Rule{rule},
		WithTrainingBlockingRules(training))
	require.NoError(t, err)
	assert.Equal(t, []blocking.Rule{training}, s.TrainingRules())
}
