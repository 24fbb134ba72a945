// Package pruning tracks which dataset entries contain text flagged by pruning rules.
package pruning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/domain/pruning/db"
	"github.com/opst/knitpipe/pkg/tokenizer"
)

type Interface interface {
	Database() db.PruningInterface

	// TokensIn counts tokens of text to match.
	TokensIn(text string) int
}

type impl struct {
	db     db.PruningInterface
	tokens tokenizer.Counter
}

func New(db db.PruningInterface, tokens tokenizer.Counter) Interface {
	return &impl{db: db, tokens: tokens}
}

func (i *impl) Database() db.PruningInterface {
	return i.db
}

func (i *impl) TokensIn(text string) int {
	return i.tokens.CountTokens(text)
}

// Validate checks text can be a rule.
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text to match is empty", domerr.ErrInvalidConfig)
	}
	return nil
}

// Needle returns text as it appears in serialized JSON strings.
//
// Rules match verbatim text in messages, and messages are stored as JSON,
// so quotes, backslashes and control characters are searched in escaped form.
// U+2028 and U+2029 are kept raw, as jsonb renders them.
func Needle(text string) string {
	b := new(strings.Builder)
	for {
		i := strings.IndexAny(text, "\u2028\u2029")
		if i < 0 {
			b.WriteString(escape(text))
			return b.String()
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		b.WriteString(escape(text[:i]))
		b.WriteString(text[i : i+size])
		text = text[i+size:]
	}
}

func escape(text string) string {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(text); err != nil {
		return text // strings are always encodable
	}
	quoted := bytes.TrimRight(buf.Bytes(), "\n")
	return string(quoted[1 : len(quoted)-1])
}
