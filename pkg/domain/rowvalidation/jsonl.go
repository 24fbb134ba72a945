package rowvalidation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opst/knitpipe/pkg/domain"
	"github.com/sashabaranov/go-openai"
)

// ImportRow is a validated line of JSONL upload.
type ImportRow struct {
	Row

	// empty when the line does not specify.
	Split domain.Split
}

type line struct {
	Input  *openai.ChatCompletionRequest `json:"input"`
	Output *openai.ChatCompletionMessage `json:"output"`
	Split  string                        `json:"split,omitempty"`
}

// max length of a line in JSONL.
const maxLineSize = 16 << 20

// ParseJSONL reads rows in JSONL. Each line looks like
//
//	{"input": {"messages": [...], "tools": [...]}, "output": {"role": "assistant", ...}, "split": "TRAIN"}
//
// The first invalid line stops parsing. The error tells its line number (1-origin).
func ParseJSONL(r io.Reader) ([]ImportRow, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	rows := []ImportRow{}
	nth := 0
	for sc.Scan() {
		nth += 1
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}

		l := line{}
		if err := json.Unmarshal(b, &l); err != nil {
			return nil, fmt.Errorf("%w: line %d: %s", ErrInvalidRow, nth, err)
		}
		if l.Input == nil {
			return nil, withMessage(fail(EmptyMessages, "no input"), "line %d", nth)
		}
		if l.Output == nil {
			return nil, withMessage(fail(InvalidOutput, "no output"), "line %d", nth)
		}

		row, err := Validate(*l.Input, *l.Output)
		if err != nil {
			return nil, withMessage(err, "line %d", nth)
		}
		ir := ImportRow{Row: row}
		if l.Split != "" {
			sp, err := domain.AsSplit(l.Split)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s", ErrInvalidRow, nth, err)
			}
			ir.Split = sp
		}
		rows = append(rows, ir)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
