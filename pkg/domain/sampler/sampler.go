// Package sampler decides deterministically which source records a Monitor takes in.
//
// A record is sampled when md5(recordId + "::" + nodeId), read as an unsigned 128bit integer,
// is greater than the threshold derived from the sample rate.
// No state per record is kept: the decision only depends on (recordId, nodeId, rate).
package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/opst/knitpipe/pkg/domain/hash"
)

var ErrRateOutOfRange = errors.New("sample rate should be in [0, 100]")

// Threshold is a boundary of md5 hex strings.
//
// It is one of "none" (samples nothing), "all" (samples everything) or
// a 32-digit lower-case hex string.
type Threshold struct {
	all  bool
	none bool
	hex  string
}

var maxMD5 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ThresholdOf returns threshold for sample rate in percent.
//
// The fractional part of rate is truncated.
// The threshold shrinks as rate grows, so raising rate never un-samples a record.
func ThresholdOf(rate float64) (Threshold, error) {
	if math.IsNaN(rate) || rate < 0 || 100 < rate {
		return Threshold{}, fmt.Errorf("%w: %v", ErrRateOutOfRange, rate)
	}
	percent := int64(math.Floor(rate))
	switch percent {
	case 0:
		return Threshold{none: true}, nil
	case 100:
		return Threshold{all: true}, nil
	}

	t := new(big.Int).Mul(maxMD5, big.NewInt(100-percent))
	t.Quo(t, big.NewInt(100))
	return Threshold{hex: fmt.Sprintf("%032x", t)}, nil
}

func (t Threshold) All() bool  { return t.all }
func (t Threshold) None() bool { return t.none }

// Hex returns threshold as hex string. It is empty for "all" or "none".
func (t Threshold) Hex() string {
	return t.hex
}

// Admits reports whether a record with the md5 hex hash passes.
//
// hashHex should be lower-case and 32 digits, as hash.Record returns.
// For such strings, lexical order equals numeric order.
func (t Threshold) Admits(hashHex string) bool {
	switch {
	case t.all:
		return true
	case t.none:
		return false
	}
	return hashHex > t.hex
}

// SQL returns a boolean SQL expression over recordExpr and nodeIdExpr,
// which are SQL expressions of text.
//
// When threshold is a hex, the expression refers placeholder $n and the value to be bound is returned.
func (t Threshold) SQL(recordExpr, nodeIdExpr string, n int) (string, []any) {
	switch {
	case t.all:
		return "true", nil
	case t.none:
		return "false", nil
	}
	return fmt.Sprintf(
		"md5(%s || '::' || %s) > $%d", recordExpr, nodeIdExpr, n,
	), []any{t.hex}
}

func (t Threshold) String() string {
	switch {
	case t.all:
		return "all"
	case t.none:
		return "none"
	}
	return t.hex
}

// ShouldSample reports whether the record is sampled by the node at rate (in percent).
func ShouldSample(recordId, nodeId string, rate float64) (bool, error) {
	t, err := ThresholdOf(rate)
	if err != nil {
		return false, err
	}
	return t.Admits(hash.Record(recordId, nodeId)), nil
}
