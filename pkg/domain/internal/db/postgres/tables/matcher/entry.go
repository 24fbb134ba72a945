package matcher

import (
	"fmt"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
)

type Entry struct {
	Id           Matcher[string]
	NodeId       Matcher[string]
	PersistentId Matcher[string]
	Status       Matcher[domain.EntryStatus]
	Split        Matcher[domain.Split]
	InputHash    Matcher[string]
	OutputHash   Matcher[string]
	Outdated     Matcher[bool]
	SortKey      Matcher[string]
	Provenance   Matcher[domain.Provenance]
	CreatedAt    Matcher[time.Time]
}

func orAny[T any](m Matcher[T]) Matcher[T] {
	if m == nil {
		return Any[T]()
	}
	return m
}

// Match reports whether actual satisfies all matchers. Nil matchers match everything.
func (e Entry) Match(actual domain.NodeEntry) bool {
	return orAny(e.Id).Match(actual.Id) &&
		orAny(e.NodeId).Match(actual.NodeId) &&
		orAny(e.PersistentId).Match(actual.PersistentId) &&
		orAny(e.Status).Match(actual.Status) &&
		orAny(e.Split).Match(actual.Split) &&
		orAny(e.InputHash).Match(actual.InputHash) &&
		orAny(e.OutputHash).Match(actual.OutputHash) &&
		orAny(e.Outdated).Match(actual.Outdated) &&
		orAny(e.SortKey).Match(actual.SortKey) &&
		orAny(e.Provenance).Match(actual.Provenance) &&
		orAny(e.CreatedAt).Match(actual.CreatedAt)
}

func (e Entry) String() string {
	return fmt.Sprintf(
		"{Id:%s NodeId:%s PersistentId:%s Status:%s Split:%s InputHash:%s OutputHash:%s Outdated:%s SortKey:%s Provenance:%s CreatedAt:%s}",
		orAny(e.Id), orAny(e.NodeId), orAny(e.PersistentId), orAny(e.Status), orAny(e.Split),
		orAny(e.InputHash), orAny(e.OutputHash), orAny(e.Outdated), orAny(e.SortKey),
		orAny(e.Provenance), orAny(e.CreatedAt),
	)
}

func (e Entry) Format(s fmt.State, _ rune) {
	fmt.Fprint(s, e.String())
}
