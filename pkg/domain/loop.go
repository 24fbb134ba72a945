package domain

import (
	"errors"
	"fmt"
)

type LoopType string

const (
	// claim tasks from the queue and run them.
	Worker LoopType = "worker"

	// enqueue processNode for monitors whose source has new records.
	MonitorScan LoopType = "monitor_scan"

	// release tasks whose visibility timeout is over.
	Housekeeping LoopType = "housekeeping"
)

func (lt LoopType) String() string {
	return string(lt)
}

func (lt LoopType) IsKnown() bool {
	switch lt {
	case Worker, MonitorScan, Housekeeping:
		return true
	default:
		return false
	}
}

func AsLoopType(s string) (LoopType, error) {
	l := LoopType(s)
	if l.IsKnown() {
		return l, nil
	}
	return l, fmt.Errorf(`%w: "%s"`, ErrUnknownLoopType, s)
}

var ErrUnknownLoopType = errors.New("unknown loop type")
