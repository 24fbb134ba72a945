package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
)

// requested data is missing.
type Missing struct {
	Table    string
	Identity string
}

var _ error = Missing{}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}

func (m Missing) Unwrap() error {
	return domerr.ErrMissing
}

// requested data is found too much.
type TooMuch struct {
	Table    string
	Identity string
	Expected int
}

var _ error = TooMuch{}

func (t TooMuch) Error() string {
	return fmt.Sprintf(
		"%s is found in %s more than %d times",
		t.Identity, t.Table, t.Expected,
	)
}

func (t TooMuch) Unwrap() error {
	return domerr.ErrTooMuch
}

// a unique constraint rejects the write.
type Conflict struct {
	Table      string
	Constraint string
	cause      error
}

func (c Conflict) Error() string {
	return fmt.Sprintf("conflict in %s (constraint: %s): %v", c.Table, c.Constraint, c.cause)
}

func (c Conflict) Unwrap() []error {
	return []error{domerr.ErrConflict, c.cause}
}

// AsConflict converts unique-violation error into Conflict.
//
// Other errors are returned as they are.
func AsConflict(err error) error {
	pgerr := new(pgconn.PgError)
	if !errors.As(err, &pgerr) || pgerr.Code != pgerrcode.UniqueViolation {
		return err
	}
	return Conflict{Table: pgerr.TableName, Constraint: pgerr.ConstraintName, cause: err}
}

// IsUndefinedTable reports whether err says a table is not defined.
func IsUndefinedTable(err error) bool {
	pgerr := new(pgconn.PgError)
	return errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UndefinedTable
}

// IsNoRows reports whether err says QueryRow found no rows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsForeignKeyViolation reports whether err says a referenced row is missing.
func IsForeignKeyViolation(err error) bool {
	pgerr := new(pgconn.PgError)
	return errors.As(err, &pgerr) && pgerr.Code == pgerrcode.ForeignKeyViolation
}
