package utils_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/opst/knitpipe/pkg/cmp"
	"github.com/opst/knitpipe/pkg/utils"
)

func TestMap(t *testing.T) {
	actual := utils.Map([]int{1, 2, 3}, strconv.Itoa)
	if expected := []string{"1", "2", "3"}; !cmp.SliceEq(actual, expected) {
		t.Errorf("Map: (actual, expected) = (%v, %v)", actual, expected)
	}
}

func TestMapUntilError(t *testing.T) {
	t.Run("it maps all when no errors", func(t *testing.T) {
		actual, err := utils.MapUntilError([]string{"1", "2"}, strconv.Atoi)
		if err != nil {
			t.Fatal(err)
		}
		if expected := []int{1, 2}; !cmp.SliceEq(actual, expected) {
			t.Errorf("(actual, expected) = (%v, %v)", actual, expected)
		}
	})

	t.Run("it stops at the first error", func(t *testing.T) {
		expectedErr := errors.New("fake")
		called := []string{}
		actual, err := utils.MapUntilError([]string{"a", "b", "c"}, func(s string) (string, error) {
			called = append(called, s)
			if s == "b" {
				return "", expectedErr
			}
			return s, nil
		})
		if !errors.Is(err, expectedErr) {
			t.Errorf("unexpected error: %v", err)
		}
		if actual != nil {
			t.Errorf("result should be nil: %v", actual)
		}
		if !cmp.SliceEq(called, []string{"a", "b"}) {
			t.Errorf("mapper is called with: %v", called)
		}
	})
}

func TestFirst(t *testing.T) {
	isEven := func(v int) bool { return v%2 == 0 }

	if v, ok := utils.First([]int{1, 4, 6}, isEven); !ok || v != 4 {
		t.Errorf("First = (%d, %v)", v, ok)
	}
	if v, ok := utils.First([]int{1, 3}, isEven); ok || v != 0 {
		t.Errorf("First = (%d, %v)", v, ok)
	}
}
