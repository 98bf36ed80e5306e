package compiler

import (
	"fmt"
	"strings"

	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/comparison"
	"github.com/wilko77/splink/pkg/dialect"
	"github.com/wilko77/splink/pkg/settings"
)

// Intermediate table names in the compiled pipeline.
const (
	TableInput             = "input_records"
	TableBlockedPairs      = "blocked_pairs"
	TableFilteredPairs     = "filtered_pairs"
	TableComparisonVectors = "comparison_vectors"
)

// Operation is one named relational step: materialize OutputTable by
// running SQL against the tables produced by earlier steps.
type Operation struct {
	Name        string
	OutputTable string
	SQL         string
}

// Plan is the ordered, deferred description of the pairwise pipeline. The
// final operation yields the comparison-level table the core consumes.
type Plan struct {
	Dialect    string
	Operations []Operation
}

// Final returns the name of the table the last operation materializes.
func (p *Plan) Final() string {
	if len(p.Operations) == 0 {
		return ""
	}
	return p.Operations[len(p.Operations)-1].OutputTable
}

// Compile lowers settings into a plan for one dialect. Each blocking rule
// becomes a candidate join tagged with its match key and excluding pairs
// already matched by earlier rules, so every pair is emitted exactly once;
// each comparison becomes a case expression assigning the winning ordinal
// level index with null-first, else-last semantics.
//
// Predicates whose scalar functions the dialect cannot evaluate inside a
// join condition degrade gracefully: the join keeps only the pushable
// conjuncts and the remainder filters the materialized candidate set in a
// separate operation.
func Compile(s *settings.Settings, d dialect.Dialect) (*Plan, error) {
	plan := &Plan{Dialect: d.Name()}

	selectCols := pairSelectColumns(s)

	var unions []string
	var postJoinFilters []string
	for i, rule := range s.BlockingRules {
		cond := ruleExpr(rule)
		join := []Expr{linkTypeExpr(s)}
		if pushable(cond, d) {
			join = append(join, cond)
		} else {
			// The whole rule condition moves post-join; the join keeps
			// only the structural link-type constraint.
			rendered, err := cond.Render(d)
			if err != nil {
				return nil, fmt.Errorf("rendering blocking rule %d: %w", i, err)
			}
			postJoinFilters = append(postJoinFilters, fmt.Sprintf("match_key <> %d OR (%s)", i, rendered))
		}
		for _, earlier := range s.BlockingRules[:i] {
			join = append(join, Bool{Op: Not, Operands: []Expr{Group{Operand: ruleExpr(earlier)}}})
		}
		on, err := Bool{Op: And, Operands: join}.Render(d)
		if err != nil {
			return nil, fmt.Errorf("rendering blocking rule %d: %w", i, err)
		}
		unions = append(unions, fmt.Sprintf(
			"SELECT %s, %d AS match_key\nFROM %s AS l\nINNER JOIN %s AS r\nON %s",
			strings.Join(selectCols, ", "), i, TableInput, TableInput, on))
	}

	plan.Operations = append(plan.Operations, Operation{
		Name:        "generate candidate pairs from blocking rules",
		OutputTable: TableBlockedPairs,
		SQL:         strings.Join(unions, "\nUNION ALL\n"),
	})

	vectorInput := TableBlockedPairs
	if len(postJoinFilters) > 0 {
		var conds []string
		for _, f := range postJoinFilters {
			conds = append(conds, "("+f+")")
		}
		plan.Operations = append(plan.Operations, Operation{
			Name:        "apply non-pushable blocking predicates",
			OutputTable: TableFilteredPairs,
			SQL: fmt.Sprintf("SELECT *\nFROM %s\nWHERE %s",
				TableBlockedPairs, strings.Join(conds, "\nAND ")),
		})
		vectorInput = TableFilteredPairs
	}

	vectorSQL, err := comparisonVectorSQL(s, d, vectorInput)
	if err != nil {
		return nil, err
	}
	plan.Operations = append(plan.Operations, Operation{
		Name:        "compute comparison vectors",
		OutputTable: TableComparisonVectors,
		SQL:         vectorSQL,
	})
	return plan, nil
}

// pairSelectColumns lists the columns the candidate join must retain: the
// id pair, every column a comparison inspects, and the raw values of
// term-frequency adjustment columns.
func pairSelectColumns(s *settings.Settings) []string {
	cols := []string{
		fmt.Sprintf("l.%s AS %s_l", s.UniqueIDColumn, s.UniqueIDColumn),
		fmt.Sprintf("r.%s AS %s_r", s.UniqueIDColumn, s.UniqueIDColumn),
	}
	if s.LinkType != blocking.DedupeOnly {
		cols = append(cols,
			fmt.Sprintf("l.%s AS %s_l", s.SourceDatasetColumn, s.SourceDatasetColumn),
			fmt.Sprintf("r.%s AS %s_r", s.SourceDatasetColumn, s.SourceDatasetColumn))
	}

	seen := map[string]struct{}{s.UniqueIDColumn: {}}
	addColumn := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		cols = append(cols,
			fmt.Sprintf("l.%s AS %s_l", name, name),
			fmt.Sprintf("r.%s AS %s_r", name, name))
	}
	for _, cc := range s.Comparisons {
		for i := range cc.Levels {
			addColumn(cc.Levels[i].Column)
		}
		for _, tfCol := range cc.TFColumns() {
			addColumn(tfCol)
		}
	}
	return cols
}

// ruleExpr lowers a blocking rule to an expression: structured equi rules
// become column equalities; raw conditions pass through verbatim.
func ruleExpr(rule blocking.Rule) Expr {
	if !rule.IsExactMatch() {
		return Raw{SQL: rule.Condition}
	}
	terms := make([]Expr, len(rule.ExactMatchColumns))
	for i, col := range rule.ExactMatchColumns {
		terms[i] = Cmp{Op: "=", L: Raw{SQL: "l." + col}, R: Raw{SQL: "r." + col}}
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return Bool{Op: And, Operands: terms}
}

// linkTypeExpr renders the structural pair constraint for the link type.
func linkTypeExpr(s *settings.Settings) Expr {
	idL := Raw{SQL: "l." + s.UniqueIDColumn}
	idR := Raw{SQL: "r." + s.UniqueIDColumn}
	srcL := Raw{SQL: "l." + s.SourceDatasetColumn}
	srcR := Raw{SQL: "r." + s.SourceDatasetColumn}

	switch s.LinkType {
	case blocking.LinkOnly:
		return Cmp{Op: "<>", L: srcL, R: srcR}
	case blocking.LinkAndDedupe:
		return Bool{Op: Or, Operands: []Expr{
			Cmp{Op: "<>", L: srcL, R: srcR},
			Bool{Op: And, Operands: []Expr{
				Cmp{Op: "=", L: srcL, R: srcR},
				Cmp{Op: "<", L: idL, R: idR},
			}},
		}}
	default: // dedupe_only
		return Cmp{Op: "<", L: idL, R: idR}
	}
}

// comparisonVectorSQL builds the case-expression select assigning, per
// comparison, the ordinal index of the first matching level.
func comparisonVectorSQL(s *settings.Settings, d dialect.Dialect, from string) (string, error) {
	cols := []string{
		s.UniqueIDColumn + "_l",
		s.UniqueIDColumn + "_r",
		"match_key",
	}
	for _, cc := range s.Comparisons {
		caseExpr, err := levelCase(cc)
		if err != nil {
			return "", err
		}
		rendered, err := caseExpr.Render(d)
		if err != nil {
			return "", fmt.Errorf("rendering comparison %q: %w", cc.OutputName, err)
		}
		cols = append(cols, fmt.Sprintf("%s AS gamma_%s", rendered, cc.OutputName))
	}
	seen := make(map[string]struct{})
	for _, tfCol := range s.TFColumns() {
		if _, ok := seen[tfCol]; ok {
			continue
		}
		seen[tfCol] = struct{}{}
		cols = append(cols, tfCol+"_l", tfCol+"_r")
	}
	return fmt.Sprintf("SELECT %s\nFROM %s", strings.Join(cols, ",\n       "), from), nil
}

// levelCase builds the ordinal-priority case expression for one comparison:
// null branch first (when present), data levels in order, else branch last.
func levelCase(cc *comparison.Comparison) (Case, error) {
	var c Case
	for i := range cc.Levels {
		lvl := &cc.Levels[i]
		if lvl.Kind == comparison.KindElse {
			c.Else = Lit{Value: i}
			continue
		}
		cond, err := LevelExpr(lvl)
		if err != nil {
			return Case{}, fmt.Errorf("comparison %q level %d: %w", cc.OutputName, i, err)
		}
		c.Whens = append(c.Whens, When{Cond: cond, Then: Lit{Value: i}})
	}
	return c, nil
}

// LevelExpr lowers one comparison level's predicate to an expression over
// the _l/_r suffixed pair columns.
func LevelExpr(lvl *comparison.Level) (Expr, error) {
	colL := Col{Name: lvl.Column, Side: Left}
	colR := Col{Name: lvl.Column, Side: Right}

	switch lvl.Kind {
	case comparison.KindNull:
		return Bool{Op: Or, Operands: []Expr{IsNull{colL}, IsNull{colR}}}, nil
	case comparison.KindExact:
		return Cmp{Op: "=", L: colL, R: colR}, nil
	case comparison.KindLevenshtein:
		return Cmp{
			Op: "<=",
			L:  Call{Fn: dialect.Levenshtein, Args: []Expr{colL, colR}},
			R:  Lit{Value: int(lvl.Threshold)},
		}, nil
	case comparison.KindJaroWinkler:
		return Cmp{
			Op: ">=",
			L:  Call{Fn: dialect.JaroWinkler, Args: []Expr{colL, colR}},
			R:  Lit{Value: lvl.Threshold},
		}, nil
	case comparison.KindCustom:
		if lvl.Condition == "" {
			return nil, fmt.Errorf("custom level %q has no backend condition", lvl.Label)
		}
		return Raw{SQL: lvl.Condition}, nil
	default:
		return nil, fmt.Errorf("level kind %v has no predicate", lvl.Kind)
	}
}
