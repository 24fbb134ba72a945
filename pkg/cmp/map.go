package cmp

type BiPredicator[V any, U any] func(a V, b U) bool

// MapEq checks a and b have the same keys with the same values.
func MapEq[K comparable, V comparable](a map[K]V, b map[K]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	return true
}
