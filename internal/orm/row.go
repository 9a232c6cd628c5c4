package orm

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/orma/internal/schema"
)

// Row is one result row keyed by column name. Rows loaded with
// SelectRelated nest under their relation name: row["author"] is a Row, or
// nil when the foreign key is NULL.
type Row map[string]any

// Lookup returns the value at a dotted path such as "author.company.name".
func (r Row) Lookup(path string) (any, bool) {
	parent, key := r.parent(path)
	if parent == nil {
		return nil, false
	}
	v, ok := parent[key]
	return v, ok
}

// Get is Lookup without the presence flag.
func (r Row) Get(path string) any {
	v, _ := r.Lookup(path)
	return v
}

// Related returns the nested row at path, or nil.
func (r Row) Related(path string) Row {
	v, _ := r.Lookup(path)
	row, _ := v.(Row)
	return row
}

func (r Row) parent(path string) (Row, string) {
	segs := strings.Split(path, ".")
	node := r
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(Row)
		if !ok {
			return nil, ""
		}
		node = child
	}
	return node, segs[len(segs)-1]
}

// --- coercion ---

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// coerce converts a value scanned by any backend into the Go type of its
// field: int64, string, time.Time, bool, []byte, or string for decimals.
// NULL stays nil.
func coerce(t schema.FieldType, v any) (any, error) {
	if val, ok := v.(driver.Valuer); ok {
		dv, err := val.Value()
		if err != nil {
			return nil, err
		}
		v = dv
	}
	if v == nil {
		return nil, nil
	}

	switch t {
	case schema.TypeInteger:
		return toInt64(v)
	case schema.TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case int64, float64:
			return fmt.Sprint(x), nil
		}
	case schema.TypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return parseTime(x)
		case []byte:
			return parseTime(string(x))
		case int64:
			return time.Unix(x, 0).UTC(), nil
		}
	case schema.TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		case []byte:
			return strconv.ParseBool(string(x))
		}
	case schema.TypeBlob:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	case schema.TypeDecimal:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
