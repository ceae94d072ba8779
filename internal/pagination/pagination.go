// Package pagination implements keyset pagination with opaque continuation cursors.
//
// Rows are ordered by (sort field, id) in the requested direction. The cursor
// encodes the sort value and id of the last row of a page; the next page holds
// rows strictly after that pair, using > for ascending and < for descending.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/devrev/qrcore/internal/errors"
)

const (
	// DefaultLimit is used when the request carries no limit.
	DefaultLimit = 50
	// MaxLimit caps every page.
	MaxLimit = 200
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Op returns the keyset comparison operator for the direction.
func (d Direction) Op() string {
	if d == Asc {
		return ">"
	}
	return "<"
}

// FieldType is the value type of a sortable field.
type FieldType int

const (
	TypeTime FieldType = iota
	TypeString
	TypeInt
)

// Field is a sortable column.
type Field struct {
	Name string
	Type FieldType
}

// AllowList is the set of sortable fields for one entity.
type AllowList struct {
	def    string
	fields map[string]FieldType
}

// NewAllowList creates an allow-list. The first field is the default.
func NewAllowList(fields ...Field) AllowList {
	al := AllowList{fields: make(map[string]FieldType, len(fields))}
	for i, f := range fields {
		if i == 0 {
			al.def = f.Name
		}
		al.fields[f.Name] = f.Type
	}
	return al
}

// Resolve returns the field to sort by. Unknown names fall back to the default.
func (al AllowList) Resolve(name string) Field {
	if t, ok := al.fields[name]; ok {
		return Field{Name: name, Type: t}
	}
	return Field{Name: al.def, Type: al.fields[al.def]}
}

// Key identifies a row's position in the ordering.
type Key struct {
	Value any
	ID    string
}

// Page is a validated list request.
type Page struct {
	Limit int
	Field Field
	Dir   Direction
	After *Key
}

type cursorPayload struct {
	Field string    `json:"f"`
	Dir   Direction `json:"d"`
	Value string    `json:"v"`
	ID    string    `json:"id"`
}

// Parse validates limit, sort and cursor query parameters against the allow-list.
func Parse(q url.Values, al AllowList) (Page, error) {
	p := Page{Limit: DefaultLimit, Dir: Desc}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, apierrors.Validation("limit must be a positive integer")
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		p.Limit = n
	}

	field, dir, _ := strings.Cut(q.Get("sort"), ":")
	p.Field = al.Resolve(strings.TrimSpace(field))
	if Direction(strings.ToLower(strings.TrimSpace(dir))) == Asc {
		p.Dir = Asc
	}

	if raw := q.Get("cursor"); raw != "" {
		key, err := decodeCursor(raw, p.Field, p.Dir)
		if err != nil {
			return Page{}, apierrors.Validation("invalid cursor: %v", err)
		}
		p.After = key
	}

	return p, nil
}

// Includes reports whether a row with key k belongs after the page cursor.
func (p Page) Includes(k Key) bool {
	if p.After == nil {
		return true
	}
	c := Compare(k, *p.After)
	if p.Dir == Asc {
		return c > 0
	}
	return c < 0
}

// Trim drops the look-ahead row fetched beyond the limit and returns the
// cursor for the next page, or "" when rows were the last page.
func Trim[T any](rows []T, p Page, keyOf func(T) Key) ([]T, string) {
	if len(rows) <= p.Limit {
		return rows, ""
	}
	rows = rows[:p.Limit]
	return rows, EncodeCursor(p, keyOf(rows[len(rows)-1]))
}

// EncodeCursor returns the opaque cursor for the row key k.
func EncodeCursor(p Page, k Key) string {
	payload := cursorPayload{
		Field: p.Field.Name,
		Dir:   p.Dir,
		Value: formatValue(k.Value),
		ID:    k.ID,
	}
	b, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(raw string, field Field, dir Direction) (*Key, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("not base64")
	}
	var payload cursorPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, fmt.Errorf("malformed payload")
	}
	if payload.Field != field.Name || payload.Dir != dir {
		return nil, fmt.Errorf("cursor was issued for sort %s:%s", payload.Field, payload.Dir)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	v, err := parseValue(payload.Value, field.Type)
	if err != nil {
		return nil, err
	}
	return &Key{Value: v, ID: payload.ID}, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func parseValue(s string, t FieldType) (any, error) {
	switch t {
	case TypeTime:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("value is not a timestamp")
		}
		return ts, nil
	case TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value is not an integer")
		}
		return n, nil
	default:
		return s, nil
	}
}

// Compare orders two keys by value, then id.
func Compare(a, b Key) int {
	if c := compareValues(a.Value, b.Value); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case int64:
		y, _ := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}
