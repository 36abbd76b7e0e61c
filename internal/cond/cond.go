// Package cond implements the lazy boolean decision trees used by the manager
// to combine hunt and convergence predicates. The engine is generic over the
// evaluation context, so the same combinators serve both checker trees
// (evaluated against run counters) and hunter trees (evaluated against a
// worker pair).
package cond

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOperand is returned when a combinator is built from a nil node.
var ErrInvalidOperand = errors.New("cond: operand is not a decision node")

// KV is an ordered key-value pair describing one leaf parameter.
// Leaves report their configuration explicitly rather than via reflection.
type KV struct {
	Key   string
	Value any
}

// Predicate is the capability a concrete checker or hunter implements.
type Predicate[C any] interface {
	// Test evaluates the predicate against the shared context.
	Test(ctx C) bool

	// Name returns the predicate's display name, e.g. "MinFuncCalls".
	Name() string

	// Params returns the constructor parameters in declaration order.
	Params() []KV
}

// Node is a single node of a decision tree: either a leaf wrapping a
// Predicate, or an And/Or composite of two child nodes.
type Node[C any] interface {
	// Evaluate computes the node's boolean result. Composites short-circuit
	// exactly like Go's && and ||: the right child is not evaluated if the
	// left child already decides the result.
	Evaluate(ctx C) bool

	// Describe renders the tree as a bracketed expression.
	Describe() string

	// DescribeWithResult renders the tree with each node's last evaluated
	// result appended. Nodes skipped by short-circuiting read as "unknown".
	DescribeWithResult() string

	// Reset clears the last-result cache of this node and its subtree.
	Reset()
}

// result is the tri-state last-evaluation cache kept for introspection only.
type result struct {
	known bool
	value bool
}

func (r result) String() string {
	if !r.known {
		return "unknown"
	}
	return fmt.Sprintf("%t", r.value)
}

// Leaf wraps a Predicate as a tree node and records its last result.
type Leaf[C any] struct {
	pred Predicate[C]
	last result
}

// NewLeaf wraps a predicate as a decision tree leaf.
func NewLeaf[C any](p Predicate[C]) *Leaf[C] {
	return &Leaf[C]{pred: p}
}

// Evaluate runs the predicate and caches the outcome before returning it.
func (l *Leaf[C]) Evaluate(ctx C) bool {
	v := l.pred.Test(ctx)
	l.last = result{known: true, value: v}
	return v
}

func (l *Leaf[C]) Describe() string {
	params := l.pred.Params()
	if len(params) == 0 {
		return l.pred.Name()
	}
	var sb strings.Builder
	sb.WriteString(l.pred.Name())
	sb.WriteByte('(')
	for i, kv := range params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", kv.Key, kv.Value)
	}
	sb.WriteByte(')')
	return sb.String()
}

func (l *Leaf[C]) DescribeWithResult() string {
	return l.Describe() + " = " + l.last.String()
}

func (l *Leaf[C]) Reset() {
	l.last = result{}
}

// combi holds the shared state of And/Or composites.
type combi[C any] struct {
	left, right Node[C]
	last        result
}

func (c *combi[C]) Reset() {
	c.last = result{}
	c.left.Reset()
	c.right.Reset()
}

func (c *combi[C]) describe(sep string) string {
	return "[" + c.left.Describe() + sep + "\n" + c.right.Describe() + "]"
}

func (c *combi[C]) describeWithResult(sep string) string {
	return "[" + c.left.DescribeWithResult() + sep + "\n" +
		c.right.DescribeWithResult() + "] = " + c.last.String()
}

// Or is the short-circuiting OR of two nodes.
type Or[C any] struct {
	combi[C]
}

// And is the short-circuiting AND of two nodes.
type And[C any] struct {
	combi[C]
}

// AnyOf builds the OR combination of two nodes.
func AnyOf[C any](a, b Node[C]) (*Or[C], error) {
	if a == nil || b == nil {
		return nil, ErrInvalidOperand
	}
	return &Or[C]{combi[C]{left: a, right: b}}, nil
}

// AllOf builds the AND combination of two nodes.
func AllOf[C any](a, b Node[C]) (*And[C], error) {
	if a == nil || b == nil {
		return nil, ErrInvalidOperand
	}
	return &And[C]{combi[C]{left: a, right: b}}, nil
}

// MustAnyOf is AnyOf panicking on invalid operands. For statically built trees.
func MustAnyOf[C any](a, b Node[C]) *Or[C] {
	n, err := AnyOf(a, b)
	if err != nil {
		panic(err)
	}
	return n
}

// MustAllOf is AllOf panicking on invalid operands. For statically built trees.
func MustAllOf[C any](a, b Node[C]) *And[C] {
	n, err := AllOf(a, b)
	if err != nil {
		panic(err)
	}
	return n
}

// Evaluate resets the subtree's last results, then evaluates lazily. The
// right child is skipped when the left child is already true; its cache then
// stays "unknown" rather than holding a stale value from an earlier round.
func (o *Or[C]) Evaluate(ctx C) bool {
	o.left.Reset()
	o.right.Reset()
	v := o.left.Evaluate(ctx)
	if !v {
		v = o.right.Evaluate(ctx)
	}
	o.last = result{known: true, value: v}
	return v
}

func (o *Or[C]) Describe() string {
	return o.describe(" OR ")
}

func (o *Or[C]) DescribeWithResult() string {
	return o.describeWithResult(" OR ")
}

// Evaluate is the symmetric short-circuit on false.
func (a *And[C]) Evaluate(ctx C) bool {
	a.left.Reset()
	a.right.Reset()
	v := a.left.Evaluate(ctx)
	if v {
		v = a.right.Evaluate(ctx)
	}
	a.last = result{known: true, value: v}
	return v
}

func (a *And[C]) Describe() string {
	return a.describe(" AND ")
}

func (a *And[C]) DescribeWithResult() string {
	return a.describeWithResult(" AND ")
}
