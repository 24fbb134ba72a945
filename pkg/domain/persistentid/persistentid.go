// Package persistentid derives identities of entries which are stable across re-materialization.
//
// A persistent id looks like
//
//	2024-05-01T12:34:56.789Z_<key>_<nodeId>
//
// where key identifies the source record (logged call id, or content hash for uploads and edits).
package persistentid

import (
	"errors"
	"strings"
	"time"

	"github.com/opst/knitpipe/pkg/domain/hash"
)

// millisecond precision, always in UTC.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrInvalidPersistentId = errors.New("invalid persistent id")

// Generate returns persistent id of the record identified by key, created at creationTime, flowing into the node.
func Generate(creationTime time.Time, key string, nodeId string) string {
	return strings.Join(
		[]string{creationTime.UTC().Format(timeLayout), key, nodeId},
		"_",
	)
}

// FromContent returns persistent id of a record identified by its content.
func FromContent(creationTime time.Time, inputHash, outputHash string, nodeId string) string {
	return Generate(creationTime, hash.Pair(inputHash, outputHash), nodeId)
}

// CreationTime parses the creation time part of persistent id.
func CreationTime(persistentId string) (time.Time, error) {
	head, _, ok := strings.Cut(persistentId, "_")
	if !ok || head == "" {
		return time.Time{}, ErrInvalidPersistentId
	}
	t, err := time.Parse(timeLayout, head)
	if err != nil {
		return time.Time{}, errors.Join(ErrInvalidPersistentId, err)
	}
	return t, nil
}
