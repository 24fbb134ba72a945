// Package scanner scans pgx.Rows into typed values.
package scanner

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

type Queryer interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

// Scanner scans rows into T.
//
// # example
//
//	type Entry struct {
//		Id     string `sql:"node_entry_id"`
//		Status string
//	}
//
//	entries, err := scanner.New[Entry]().QueryAll(
//		ctx, conn, `select "node_entry_id", "status" from "node_entry"`,
//	)
//
// # mapping rule
//
// When T is a struct, columns are mapped into
//
//  1. the field with tag `sql:"column_name"`,
//  2. or, the field named as same as the column name,
//  3. or, the field named in CamelCase of the column name ("input_hash" -> "InputHash").
//
// When T is a primitive, time.Time or []byte, rows should have just one column.
type Scanner[T any] interface {
	// scan all rows in pgx.Rows and convert to []T
	ScanAll(pgx.Rows) ([]T, error)

	// scan all rows in response of query.
	QueryAll(context.Context, Queryer, string, ...any) ([]T, error)
}

func New[T any]() Scanner[T] {
	tval := reflect.TypeOf(*new(T))

	if tval.AssignableTo(reflect.TypeOf(time.Time{})) || tval.AssignableTo(reflect.TypeOf([]byte{})) {
		return &singleColumnScanner[T]{}
	}

	switch tval.Kind() {
	case
		reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return &singleColumnScanner[T]{}
	}

	byColumn := map[string]string{}
	for i := 0; i < tval.NumField(); i++ {
		f := tval.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup("sql"); ok {
			byColumn[tag] = f.Name
		}
	}

	return &structScanner[T]{byColumn: byColumn, fields: tval}
}

// camel converts snake_case into CamelCase.
func camel(s string) string {
	b := &strings.Builder{}
	for _, ss := range strings.Split(s, "_") {
		if len(ss) == 0 {
			continue
		}
		b.WriteString(strings.ToUpper(ss[0:1]))
		b.WriteString(ss[1:])
	}
	return b.String()
}

type structScanner[T any] struct {
	mux      sync.Mutex
	byColumn map[string]string
	fields   reflect.Type
}

func (s *structScanner[T]) fieldOf(col string) (string, bool) {
	if name, ok := s.byColumn[col]; ok {
		return name, true
	}
	for _, name := range []string{col, camel(col)} {
		if _, ok := s.fields.FieldByName(name); ok {
			return name, true
		}
	}
	return "", false
}

func (s *structScanner[T]) ScanAll(rows pgx.Rows) ([]T, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	columns := rows.FieldDescriptions()
	names := make([]string, 0, len(columns))
	for _, fd := range columns {
		col := string(fd.Name)
		name, ok := s.fieldOf(col)
		if !ok {
			return nil, fmt.Errorf(
				`field for column "%s" (%s) is not found in type "%T"`,
				col, TypeName(fd.DataTypeOID), *new(T),
			)
		}
		names = append(names, name)
	}

	ret := []T{}
	for rows.Next() {
		elem := new(T)
		re := reflect.ValueOf(elem).Elem()

		dest := make([]any, len(names))
		for nth, name := range names {
			dest[nth] = re.FieldByName(name).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		ret = append(ret, *elem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *structScanner[T]) QueryAll(ctx context.Context, conn Queryer, q string, params ...any) ([]T, error) {
	rows, err := conn.Query(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.ScanAll(rows)
}

type singleColumnScanner[T any] struct{}

func (s *singleColumnScanner[T]) ScanAll(rows pgx.Rows) ([]T, error) {
	columns := rows.FieldDescriptions()
	if len(columns) != 1 {
		return nil, fmt.Errorf(`too much columns for %T: %d`, *new(T), len(columns))
	}

	ret := []T{}
	for rows.Next() {
		elem := new(T)
		if err := rows.Scan(elem); err != nil {
			return nil, fmt.Errorf(
				`column "%s" (%s) can not be scanned into %T: %w`,
				columns[0].Name, TypeName(columns[0].DataTypeOID), *elem, err,
			)
		}
		ret = append(ret, *elem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *singleColumnScanner[T]) QueryAll(ctx context.Context, conn Queryer, q string, params ...any) ([]T, error) {
	rows, err := conn.Query(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.ScanAll(rows)
}

var connInfo = pgtype.NewConnInfo()

// TypeName returns name of postgres type for oid, or "oid:<n>" for unknown ones (like enums).
func TypeName(oid uint32) string {
	if dt, ok := connInfo.DataTypeForOID(oid); ok {
		return dt.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}
