// Package matcher provides loose expectations for rows read in tests,
// for columns which are not known in advance like timestamps and generated ids.
package matcher

import "fmt"

type Matcher[T any] interface {
	Match(T) bool
	String() string
}

type any_[T any] struct{}

// Any matches everything.
func Any[T any]() Matcher[T]                 { return any_[T]{} }
func (any_[T]) Match(T) bool                 { return true }
func (any_[T]) String() string               { return "(any)" }
func (a any_[T]) Format(s fmt.State, _ rune) { fmt.Fprint(s, a.String()) }

type eq[T comparable] struct{ v T }

// EqEq matches values == v.
func EqEq[T comparable](v T) Matcher[T]    { return eq[T]{v: v} }
func (e eq[T]) Match(t T) bool             { return e.v == t }
func (e eq[T]) String() string             { return fmt.Sprintf("%v", e.v) }
func (e eq[T]) Format(s fmt.State, _ rune) { fmt.Fprint(s, e.String()) }
