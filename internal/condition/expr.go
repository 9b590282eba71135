package condition

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/riskguard/internal/features"
)

// ErrTypeMismatch is returned when a comparison mixes incompatible types.
var ErrTypeMismatch = errors.New("type mismatch")

// Resolver supplies feature values. *features.Context implements it.
type Resolver interface {
	Resolve(namespace, feature string) features.Value
}

// Expr is a parsed condition.
type Expr struct {
	src     string
	root    node
	leading string
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// LeadingNamespace is the namespace of the first feature reference in the
// condition, or "" when that reference is a bare feature name.
func (e *Expr) LeadingNamespace() string { return e.leading }

// Eval evaluates the condition. Comparisons against absent features are
// false; mixing numbers with strings is an error.
func (e *Expr) Eval(r Resolver) (bool, error) {
	return e.root.eval(r)
}

// Evaluate parses and evaluates src in one step.
func Evaluate(src string, r Resolver) (bool, error) {
	expr, err := Parse(src)
	if err != nil {
		return false, err
	}
	return expr.Eval(r)
}

type node interface {
	eval(r Resolver) (bool, error)
}

type operand interface {
	value(r Resolver) features.Value
}

type ref struct {
	namespace string
	feature   string
}

func (f ref) value(r Resolver) features.Value { return r.Resolve(f.namespace, f.feature) }

type literal struct {
	v features.Value
}

func (l literal) value(Resolver) features.Value { return l.v }

type andNode struct{ left, right node }

func (n *andNode) eval(r Resolver) (bool, error) {
	ok, err := n.left.eval(r)
	if err != nil || !ok {
		return false, err
	}
	return n.right.eval(r)
}

type orNode struct{ left, right node }

func (n *orNode) eval(r Resolver) (bool, error) {
	ok, err := n.left.eval(r)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return n.right.eval(r)
}

// truthNode is a bare operand used as a condition, e.g. `roaming` or `true`.
type truthNode struct {
	operand operand
}

func (n *truthNode) eval(r Resolver) (bool, error) {
	v := n.operand.value(r)
	switch v.Kind() {
	case features.KindAbsent:
		return false, nil
	case features.KindBool:
		return v.BoolValue(), nil
	default:
		return false, fmt.Errorf("%w: %s used as boolean", ErrTypeMismatch, v.Kind())
	}
}

type compareNode struct {
	op          string
	left, right operand
}

func (n *compareNode) eval(r Resolver) (bool, error) {
	l, rv := n.left.value(r), n.right.value(r)
	if l.IsAbsent() || rv.IsAbsent() {
		return false, nil
	}
	if l.Kind() != rv.Kind() {
		return false, fmt.Errorf("%w: cannot compare %s %s %s", ErrTypeMismatch, l.Kind(), n.op, rv.Kind())
	}

	switch l.Kind() {
	case features.KindNumber:
		return compareOrdered(n.op, l.Num(), rv.Num()), nil
	case features.KindString:
		return compareOrdered(n.op, l.Str(), rv.Str()), nil
	case features.KindBool:
		switch n.op {
		case "==":
			return l.BoolValue() == rv.BoolValue(), nil
		case "!=":
			return l.BoolValue() != rv.BoolValue(), nil
		}
		return false, fmt.Errorf("%w: operator %s not defined on bool", ErrTypeMismatch, n.op)
	}
	return false, fmt.Errorf("%w: %s", ErrTypeMismatch, l.Kind())
}

func compareOrdered[T float64 | string](op string, a, b T) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}
