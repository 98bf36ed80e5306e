// Package compiler lowers the predicate model and blocking rules into an
// ordered sequence of relational operations for an external engine. The
// compiler is backend-agnostic: predicates are an expression tree rendered
// per dialect, not fixed strings, and compilation never executes anything.
package compiler

import (
	"fmt"
	"strings"

	"github.com/wilko77/splink/pkg/dialect"
)

// Side marks which record of the pair a column reference reads.
type Side string

const (
	Left  Side = "l"
	Right Side = "r"
)

// Expr is a dialect-renderable boolean or scalar expression.
type Expr interface {
	// Render produces the dialect's SQL for the expression.
	Render(d dialect.Dialect) (string, error)

	// Functions lists the scalar functions the expression requires, so the
	// compiler can decide join-time vs post-join placement per dialect.
	Functions() []dialect.ScalarFunction
}

// Col references a column on one side of the pair, rendered with the
// conventional _l/_r suffix.
type Col struct {
	Name string
	Side Side
}

// Render implements Expr.
func (c Col) Render(dialect.Dialect) (string, error) {
	return fmt.Sprintf("%s_%s", c.Name, c.Side), nil
}

// Functions implements Expr.
func (c Col) Functions() []dialect.ScalarFunction { return nil }

// Lit is a literal value.
type Lit struct {
	Value any
}

// Render implements Expr.
func (l Lit) Render(dialect.Dialect) (string, error) {
	switch v := l.Value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case nil:
		return "NULL", nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Functions implements Expr.
func (l Lit) Functions() []dialect.ScalarFunction { return nil }

// Call invokes an abstract scalar function; the dialect supplies its native
// name at render time.
type Call struct {
	Fn   dialect.ScalarFunction
	Args []Expr
}

// Render implements Expr.
func (c Call) Render(d dialect.Dialect) (string, error) {
	name, err := d.FunctionName(c.Fn)
	if err != nil {
		return "", err
	}
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		if args[i], err = a.Render(d); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", ")), nil
}

// Functions implements Expr.
func (c Call) Functions() []dialect.ScalarFunction {
	fns := []dialect.ScalarFunction{c.Fn}
	for _, a := range c.Args {
		fns = append(fns, a.Functions()...)
	}
	return fns
}

// Cmp is a binary comparison.
type Cmp struct {
	Op   string // =, <>, <, <=, >, >=
	L, R Expr
}

// Render implements Expr.
func (c Cmp) Render(d dialect.Dialect) (string, error) {
	l, err := c.L.Render(d)
	if err != nil {
		return "", err
	}
	r, err := c.R.Render(d)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", l, c.Op, r), nil
}

// Functions implements Expr.
func (c Cmp) Functions() []dialect.ScalarFunction {
	return append(c.L.Functions(), c.R.Functions()...)
}

// IsNull tests a single operand for NULL.
type IsNull struct {
	Operand Expr
}

// Render implements Expr.
func (n IsNull) Render(d dialect.Dialect) (string, error) {
	op, err := n.Operand.Render(d)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s IS NULL", op), nil
}

// Functions implements Expr.
func (n IsNull) Functions() []dialect.ScalarFunction { return n.Operand.Functions() }

// BoolOp is the connective of a Bool expression.
type BoolOp string

const (
	And BoolOp = "AND"
	Or  BoolOp = "OR"
	Not BoolOp = "NOT"
)

// Bool combines operands with AND/OR, or negates a single operand with NOT.
type Bool struct {
	Op       BoolOp
	Operands []Expr
}

// Render implements Expr.
func (b Bool) Render(d dialect.Dialect) (string, error) {
	if b.Op == Not {
		inner, err := b.Operands[0].Render(d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	}
	parts := make([]string, len(b.Operands))
	for i, op := range b.Operands {
		inner, err := op.Render(d)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + inner + ")"
	}
	return strings.Join(parts, " "+string(b.Op)+" "), nil
}

// Functions implements Expr.
func (b Bool) Functions() []dialect.ScalarFunction {
	var fns []dialect.ScalarFunction
	for _, op := range b.Operands {
		fns = append(fns, op.Functions()...)
	}
	return fns
}

// Group wraps an operand in parentheses, keeping a compound condition a
// single unit inside a larger expression.
type Group struct {
	Operand Expr
}

// Render implements Expr.
func (g Group) Render(d dialect.Dialect) (string, error) {
	inner, err := g.Operand.Render(d)
	if err != nil {
		return "", err
	}
	return "(" + inner + ")", nil
}

// Functions implements Expr.
func (g Group) Functions() []dialect.ScalarFunction { return g.Operand.Functions() }

// Raw is an opaque condition carried through verbatim: the escape hatch for
// hand-authored backend expressions.
type Raw struct {
	SQL string
}

// Render implements Expr.
func (r Raw) Render(dialect.Dialect) (string, error) { return r.SQL, nil }

// Functions implements Expr. Known function names appearing in the raw text
// are reported so pushability can still be judged. Longer names are matched
// and removed first so "damerau_levenshtein" does not also report
// "levenshtein", nor "jaro_winkler" report "jaro".
func (r Raw) Functions() []dialect.ScalarFunction {
	var fns []dialect.ScalarFunction
	lowered := strings.ToLower(r.SQL)
	for _, fn := range []dialect.ScalarFunction{
		dialect.DamerauLevenshtein,
		dialect.JaroWinkler,
		dialect.Levenshtein,
		dialect.Jaccard,
		dialect.Jaro,
	} {
		if strings.Contains(lowered, string(fn)) {
			fns = append(fns, fn)
			lowered = strings.ReplaceAll(lowered, string(fn), "")
		}
	}
	return fns
}

// When is one branch of a case expression.
type When struct {
	Cond Expr
	Then Expr
}

// Case renders a searched CASE expression.
type Case struct {
	Whens []When
	Else  Expr
}

// Render implements Expr.
func (c Case) Render(d dialect.Dialect) (string, error) {
	var sb strings.Builder
	sb.WriteString("CASE")
	for _, w := range c.Whens {
		cond, err := w.Cond.Render(d)
		if err != nil {
			return "", err
		}
		then, err := w.Then.Render(d)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " WHEN %s THEN %s", cond, then)
	}
	if c.Else != nil {
		els, err := c.Else.Render(d)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " ELSE %s", els)
	}
	sb.WriteString(" END")
	return sb.String(), nil
}

// Functions implements Expr.
func (c Case) Functions() []dialect.ScalarFunction {
	var fns []dialect.ScalarFunction
	for _, w := range c.Whens {
		fns = append(fns, w.Cond.Functions()...)
		fns = append(fns, w.Then.Functions()...)
	}
	if c.Else != nil {
		fns = append(fns, c.Else.Functions()...)
	}
	return fns
}

// pushable reports whether every scalar function in the expression may
// appear in a join condition on the given dialect.
func pushable(e Expr, d dialect.Dialect) bool {
	for _, fn := range e.Functions() {
		if !d.SupportsPushdown(fn) {
			return false
		}
	}
	return true
}
