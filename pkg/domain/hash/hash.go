// Package hash computes stable hashes over entry contents.
//
// Hashes are taken over canonical JSON: objects are re-encoded with sorted keys,
// so semantically equal payloads give the same hash regardless of key order.
package hash

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/opst/knitpipe/pkg/domain"
	xe "github.com/opst/knitpipe/pkg/errors"
)

// Canonical encodes v as JSON with sorted object keys and no insignificant whitespace.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, xe.Wrap(err)
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, xe.Wrap(err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Of returns hex encoded sha256 of canonical JSON of parts.
func Of(parts ...any) (string, error) {
	c, err := Canonical(parts)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:]), nil
}

// Input returns hash of the entry input in the project.
func Input(projectId string, in domain.Input) (string, error) {
	return Of(
		projectId,
		in.ToolChoice,
		in.Tools,
		in.Messages,
		in.ResponseFormat,
	)
}

// Output returns hash of the entry output in the project.
func Output(projectId string, out domain.Output) (string, error) {
	return Of(projectId, out)
}

// Pair returns hash identifying a training pair.
func Pair(inputHash, outputHash string) string {
	sum := sha256.Sum256([]byte(inputHash + ":" + outputHash))
	return hex.EncodeToString(sum[:])
}

// Node returns hash of the node, which changes when its output-affecting config changes.
func Node(t domain.NodeType, config domain.NodeConfig) (string, error) {
	var key any
	if config != nil {
		key = config.HashKey()
	}
	return Of(t, key)
}

// Record returns lower-case hex md5 of parts joined with "::".
//
// The same value can be computed in Postgres as
//
//	md5(part1 || '::' || part2)
//
// so the filter using this can be pushed into a query.
func Record(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "::")))
	return hex.EncodeToString(sum[:])
}
