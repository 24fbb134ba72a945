package cmp

// SliceEq checks a and b have the same elements in the same order.
func SliceEq[T comparable](a []T, b []T) bool {
	return SliceEqWith(a, b, func(va T, vb T) bool { return va == vb })
}

func SliceEqWith[T any, U any](a []T, b []U, pred func(a T, b U) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for nth := range a {
		if !pred(a[nth], b[nth]) {
			return false
		}
	}
	return true
}

// SliceContentEq checks a and b are equal as multisets.
//
//	SliceContentEq([]string{"a", "b"}, []string{"b", "a"})       // ==> true
//	SliceContentEq([]string{"a", "a", "b"}, []string{"a", "b"})  // ==> false
func SliceContentEq[T comparable](a, b []T) bool {
	return SliceContentEqWith(a, b, func(va T, vb T) bool { return va == vb })
}

// SliceContentEqWith is SliceContentEq with equivalence given by equiv.
func SliceContentEqWith[S, T any](a []S, b []T, equiv BiPredicator[S, T]) bool {
	if len(a) != len(b) {
		return false
	}

	used := make([]bool, len(b))
NEXT_A:
	for _, va := range a {
		for nth, vb := range b {
			if used[nth] || !equiv(va, vb) {
				continue
			}
			used[nth] = true
			continue NEXT_A
		}
		return false
	}
	return true
}
