package objectstore

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

// record is an encoded value together with its extracted keys.
type record struct {
	key   string
	data  []byte
	index map[string]any
}

// encodeRecord marshals value and extracts the primary key and the values of
// the given indexes. Index values are float64 or string; a missing or
// non-scalar field yields nil, which keeps the record out of that index.
func encodeRecord(spec StoreSpec, indexes []IndexSpec, value any) (record, error) {
	data, err := sonic.Marshal(value)
	if err != nil {
		return record{}, fmt.Errorf("objectstore: encode record: %w", err)
	}

	var key string
	switch k := lookup(data, spec.keyPath()).(type) {
	case string:
		key = k
	case float64:
		key = strconv.FormatFloat(k, 'f', -1, 64)
	}
	if key == "" {
		return record{}, fmt.Errorf("%w: store %s, key path %q", ErrMissingKey, spec.Name, spec.keyPath())
	}

	rec := record{key: key, data: data, index: make(map[string]any, len(indexes))}
	for _, idx := range indexes {
		rec.index[idx.Name] = lookup(data, idx.KeyPath)
	}
	return rec, nil
}

// lookup returns the scalar at a dotted path of an encoded object, or nil.
func lookup(data []byte, keyPath string) any {
	parts := strings.Split(keyPath, ".")
	path := make([]interface{}, len(parts))
	for i, p := range parts {
		path[i] = p
	}

	node, err := sonic.Get(data, path...)
	if err != nil {
		return nil
	}
	switch node.TypeSafe() {
	case ast.V_STRING:
		s, err := node.String()
		if err != nil {
			return nil
		}
		return s
	case ast.V_NUMBER:
		f, err := node.Float64()
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}

// compareIndexValues orders index values the way SQLite does:
// numbers before text.
func compareIndexValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
		return -1
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
		return 1
	}
	return 0
}
