package settings

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/comparison"
	"github.com/wilko77/splink/pkg/types"
)

// Document is the wire form of a linkage model: a nested mapping with
// link_type, comparisons and blocking_rules_to_generate_predictions,
// shared with external tooling as JSON or YAML.
type Document struct {
	LinkType            string               `json:"link_type" yaml:"link_type"`
	UniqueIDColumnName  string               `json:"unique_id_column_name,omitempty" yaml:"unique_id_column_name,omitempty"`
	Comparisons         []ComparisonDocument `json:"comparisons" yaml:"comparisons"`
	BlockingRules       []string             `json:"blocking_rules_to_generate_predictions" yaml:"blocking_rules_to_generate_predictions"`
	TrainingRules       []string             `json:"blocking_rules_for_training,omitempty" yaml:"blocking_rules_for_training,omitempty"`
	ProbabilityTwoMatch float64              `json:"probability_two_random_records_match,omitempty" yaml:"probability_two_random_records_match,omitempty"`
	EMConvergence       float64              `json:"em_convergence,omitempty" yaml:"em_convergence,omitempty"`
	MaxIterations       int                  `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

// ComparisonDocument is the wire form of one comparison spec.
type ComparisonDocument struct {
	OutputColumnName      string          `json:"output_column_name" yaml:"output_column_name"`
	ComparisonDescription string          `json:"comparison_description,omitempty" yaml:"comparison_description,omitempty"`
	ComparisonLevels      []LevelDocument `json:"comparison_levels" yaml:"comparison_levels"`
}

// LevelDocument is the wire form of one comparison level.
type LevelDocument struct {
	SQLCondition       string   `json:"sql_condition" yaml:"sql_condition"`
	LabelForCharts     string   `json:"label_for_charts,omitempty" yaml:"label_for_charts,omitempty"`
	IsNullLevel        bool     `json:"is_null_level,omitempty" yaml:"is_null_level,omitempty"`
	TFAdjustmentColumn string   `json:"tf_adjustment_column,omitempty" yaml:"tf_adjustment_column,omitempty"`
	TFAdjustmentWeight float64  `json:"tf_adjustment_weight,omitempty" yaml:"tf_adjustment_weight,omitempty"`
	TFMinimumUValue    float64  `json:"tf_minimum_u_value,omitempty" yaml:"tf_minimum_u_value,omitempty"`
	MProbability       *float64 `json:"m_probability,omitempty" yaml:"m_probability,omitempty"`
	UProbability       *float64 `json:"u_probability,omitempty" yaml:"u_probability,omitempty"`
}

// Recognized sql_condition shapes, lowered to closed level kinds.
var (
	nullCondition        = regexp.MustCompile(`(?i)^"?(\w+)"?_l IS NULL OR "?(\w+)"?_r IS NULL$`)
	exactCondition       = regexp.MustCompile(`^"?(\w+)"?_l\s*=\s*"?(\w+)"?_r$`)
	levenshteinCondition = regexp.MustCompile(`(?i)^levenshtein\("?(\w+)"?_l,\s*"?(\w+)"?_r\)\s*<=\s*(\d+)$`)
	jaroWinklerCondition = regexp.MustCompile(`(?i)^jaro_winkler(?:_similarity)?\("?(\w+)"?_l,\s*"?(\w+)"?_r\)\s*>=\s*([0-9.]+)$`)
)

// ParseJSON parses a JSON settings document into typed settings.
func ParseJSON(data []byte) (*Settings, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding settings document: %w", err)
	}
	return FromMap(raw)
}

// ParseYAML parses a YAML settings document into typed settings.
func ParseYAML(data []byte) (*Settings, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding settings document: %w", err)
	}
	return FromMap(raw)
}

// FromMap builds typed settings from the duck-typed nested mapping form.
// Scalars are coerced tolerantly (a weight written as "0.5" still parses)
// but structural problems are SpecificationErrors, surfaced immediately.
func FromMap(raw map[string]any) (*Settings, error) {
	linkType := blocking.LinkType(cast.ToString(raw["link_type"]))
	if !linkType.Valid() {
		return nil, types.NewSpecificationError("settings", "missing or unknown link_type %q", cast.ToString(raw["link_type"]))
	}

	ccsRaw, err := cast.ToSliceE(raw["comparisons"])
	if err != nil {
		return nil, types.NewSpecificationError("settings", "comparisons must be an ordered list")
	}

	var comparisons []*comparison.Comparison
	var priors [][]*LevelPrior
	for _, ccRaw := range ccsRaw {
		ccMap, err := cast.ToStringMapE(ccRaw)
		if err != nil {
			return nil, types.NewSpecificationError("settings", "comparison spec must be a mapping")
		}
		cc, ccPriors, err := comparisonFromMap(ccMap)
		if err != nil {
			return nil, err
		}
		comparisons = append(comparisons, cc)
		priors = append(priors, ccPriors)
	}

	rules, err := rulesFromAny(raw["blocking_rules_to_generate_predictions"])
	if err != nil {
		return nil, err
	}

	var opts []Option
	if v, ok := raw["blocking_rules_for_training"]; ok {
		trainingRules, err := rulesFromAny(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTrainingBlockingRules(trainingRules...))
	}
	if v, ok := raw["probability_two_random_records_match"]; ok {
		opts = append(opts, WithPriorMatchProbability(cast.ToFloat64(v)))
	}
	tolerance := DefaultEMConvergence
	maxIter := DefaultMaxIterations
	if v, ok := raw["em_convergence"]; ok {
		tolerance = cast.ToFloat64(v)
	}
	if v, ok := raw["max_iterations"]; ok {
		maxIter = cast.ToInt(v)
	}
	opts = append(opts, WithConvergence(tolerance, maxIter))
	if v, ok := raw["unique_id_column_name"]; ok {
		opts = append(opts, WithUniqueIDColumn(cast.ToString(v)))
	}

	s, err := New(linkType, comparisons, rules, opts...)
	if err != nil {
		return nil, err
	}
	s.Priors = priors
	return s, nil
}

func rulesFromAny(v any) ([]blocking.Rule, error) {
	conditions, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, types.NewSpecificationError("settings", "blocking rules must be an ordered list of predicate strings")
	}
	rules := make([]blocking.Rule, 0, len(conditions))
	for _, cond := range conditions {
		rules = append(rules, blocking.ParseRule(cond))
	}
	return rules, nil
}

func comparisonFromMap(raw map[string]any) (*comparison.Comparison, []*LevelPrior, error) {
	name := cast.ToString(raw["output_column_name"])
	desc := cast.ToString(raw["comparison_description"])

	levelsRaw, err := cast.ToSliceE(raw["comparison_levels"])
	if err != nil {
		return nil, nil, types.NewSpecificationError(name, "comparison_levels must be an ordered list")
	}

	var levels []comparison.Level
	var priors []*LevelPrior
	for _, lvlRaw := range levelsRaw {
		lvlMap, err := cast.ToStringMapE(lvlRaw)
		if err != nil {
			return nil, nil, types.NewSpecificationError(name, "comparison level spec must be a mapping")
		}
		lvl := levelFromMap(lvlMap)
		levels = append(levels, lvl)

		var prior *LevelPrior
		if _, hasM := lvlMap["m_probability"]; hasM {
			prior = &LevelPrior{
				M: cast.ToFloat64(lvlMap["m_probability"]),
				U: cast.ToFloat64(lvlMap["u_probability"]),
			}
		}
		priors = append(priors, prior)
	}

	cc, err := comparison.NewComparison(name, desc, levels)
	if err != nil {
		return nil, nil, err
	}
	return cc, priors, nil
}

func levelFromMap(raw map[string]any) comparison.Level {
	cond := strings.TrimSpace(cast.ToString(raw["sql_condition"]))
	lvl := comparison.Level{
		Label:     cast.ToString(raw["label_for_charts"]),
		Condition: cond,
	}

	switch {
	case strings.EqualFold(cond, "ELSE"):
		lvl.Kind = comparison.KindElse
	case cast.ToBool(raw["is_null_level"]):
		lvl.Kind = comparison.KindNull
		if m := nullCondition.FindStringSubmatch(cond); m != nil {
			lvl.Column = m[1]
		}
	default:
		if m := exactCondition.FindStringSubmatch(cond); m != nil && m[1] == m[2] {
			lvl.Kind = comparison.KindExact
			lvl.Column = m[1]
		} else if m := levenshteinCondition.FindStringSubmatch(cond); m != nil && m[1] == m[2] {
			lvl.Kind = comparison.KindLevenshtein
			lvl.Column = m[1]
			lvl.Threshold = cast.ToFloat64(m[3])
		} else if m := jaroWinklerCondition.FindStringSubmatch(cond); m != nil && m[1] == m[2] {
			lvl.Kind = comparison.KindJaroWinkler
			lvl.Column = m[1]
			lvl.Threshold = cast.ToFloat64(m[3])
		} else {
			lvl.Kind = comparison.KindCustom
		}
	}

	if col := cast.ToString(raw["tf_adjustment_column"]); col != "" {
		lvl.TF = &comparison.TFSpec{
			Column:        col,
			Weight:        cast.ToFloat64(raw["tf_adjustment_weight"]),
			MinimumUValue: cast.ToFloat64(raw["tf_minimum_u_value"]),
		}
	}
	return lvl
}

// AsDocument serializes settings back to the wire form. Level conditions are
// rendered canonically; custom levels keep their raw condition verbatim.
func (s *Settings) AsDocument() *Document {
	doc := &Document{
		LinkType:            string(s.LinkType),
		UniqueIDColumnName:  s.UniqueIDColumn,
		ProbabilityTwoMatch: s.PriorMatchProbability,
		EMConvergence:       s.EMConvergence,
		MaxIterations:       s.MaxIterations,
	}
	for _, rule := range s.BlockingRules {
		doc.BlockingRules = append(doc.BlockingRules, rule.Condition)
	}
	for _, rule := range s.TrainingBlockingRules {
		doc.TrainingRules = append(doc.TrainingRules, rule.Condition)
	}
	for i, cc := range s.Comparisons {
		ccDoc := ComparisonDocument{
			OutputColumnName:      cc.OutputName,
			ComparisonDescription: cc.Description,
		}
		for j := range cc.Levels {
			lvl := &cc.Levels[j]
			lvlDoc := LevelDocument{
				SQLCondition:   renderCondition(lvl),
				LabelForCharts: lvl.Label,
				IsNullLevel:    lvl.IsNullLevel(),
			}
			if lvl.TF != nil {
				lvlDoc.TFAdjustmentColumn = lvl.TF.Column
				lvlDoc.TFAdjustmentWeight = lvl.TF.Weight
				lvlDoc.TFMinimumUValue = lvl.TF.MinimumUValue
			}
			if i < len(s.Priors) && j < len(s.Priors[i]) && s.Priors[i][j] != nil {
				m, u := s.Priors[i][j].M, s.Priors[i][j].U
				lvlDoc.MProbability = &m
				lvlDoc.UProbability = &u
			}
			ccDoc.ComparisonLevels = append(ccDoc.ComparisonLevels, lvlDoc)
		}
		doc.Comparisons = append(doc.Comparisons, ccDoc)
	}
	return doc
}

func renderCondition(lvl *comparison.Level) string {
	switch lvl.Kind {
	case comparison.KindNull:
		return fmt.Sprintf("%s_l IS NULL OR %s_r IS NULL", lvl.Column, lvl.Column)
	case comparison.KindExact:
		return fmt.Sprintf("%s_l = %s_r", lvl.Column, lvl.Column)
	case comparison.KindLevenshtein:
		return fmt.Sprintf("levenshtein(%s_l, %s_r) <= %d", lvl.Column, lvl.Column, int(lvl.Threshold))
	case comparison.KindJaroWinkler:
		return fmt.Sprintf("jaro_winkler(%s_l, %s_r) >= %g", lvl.Column, lvl.Column, lvl.Threshold)
	case comparison.KindElse:
		return "ELSE"
	default:
		return lvl.Condition
	}
}
