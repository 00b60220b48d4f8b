// Package serialize implements the canonical document byte form (spec.md
// §4.2): deterministic key ordering, 2-space indent, LF line endings,
// order-preserving arrays. It is grounded on the teacher's JSONL marshal/
// unmarshal discipline in internal/merge/merge.go (plain encoding/json,
// explicit field-by-field rules, no reflection-based magic) but generalized
// from a fixed Issue struct to an arbitrary document using
// github.com/wk8/go-ordered-map/v2 so unknown keys round-trip, and
// github.com/tidwall/gjson / github.com/tidwall/sjson to rewrite the "_id"
// field in place without a full decode-recode cycle.
package serialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/types"
)

// Ext is the default serialization file extension.
const Ext = ".json"

// sortKey remaps a leading "_" to U+FFFF so "_"-prefixed keys sort after
// every other key, per spec.md §3/§4.2.
func sortKey(k string) string {
	if strings.HasPrefix(k, "_") {
		return "￿" + k[1:]
	}
	return k
}

// Canonical renders doc as canonical UTF-8 JSON: keys sorted ascending by
// code unit with "_"-prefixed keys remapped to sort last, 2-space indent,
// LF endings, arrays preserved in input order. Values that cannot
// round-trip through JSON (functions, channels) are dropped silently;
// values json.Marshal itself rejects (cycles via unsupported types) surface
// as InvalidJsonObject.
func Canonical(doc types.Document) ([]byte, error) {
	om, _, err := toOrdered(doc)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.InvalidJsonObject, "canonical", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(om); err != nil {
		return nil, ddberrors.Wrap(ddberrors.InvalidJsonObject, "canonical", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// toOrdered converts a Document into an *orderedmap.OrderedMap keyed in
// canonical order, recursing into nested maps. Values that do not
// round-trip through JSON (func, chan, unsafe pointers — anything
// json.Marshal would choke on with an UnsupportedTypeError) are dropped
// silently rather than surfaced, matching spec.md §3. The bool result
// reports whether the value survived (false means "drop this entry").
func toOrdered(v any) (any, bool, error) {
	switch val := v.(type) {
	case types.Document:
		om, err := mapToOrdered(map[string]any(val))
		return om, true, err
	case map[string]any:
		om, err := mapToOrdered(val)
		return om, true, err
	case []any:
		out := make([]any, 0, len(val))
		for _, elem := range val {
			converted, ok, err := toOrdered(elem)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out = append(out, converted)
			}
		}
		return out, true, nil
	default:
		if !roundTrips(v) {
			return nil, false, nil
		}
		return v, true, nil
	}
}

func mapToOrdered(m map[string]any) (*orderedmap.OrderedMap[string, any], error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return sortKey(keys[i]) < sortKey(keys[j]) })

	om := orderedmap.New[string, any]()
	for _, k := range keys {
		converted, ok, err := toOrdered(m[k])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		om.Set(k, converted)
	}
	return om, nil
}

// roundTrips reports whether v is a JSON-representable scalar or container.
// Functions, channels, and complex numbers are not; everything else
// (including nil) is assumed representable and left for json.Marshal to
// reject outright if it disagrees (cycles, for instance, are not detectable
// here and surface as InvalidJsonObject from the caller's Encode call).
func roundTrips(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, int, int64, json.Number:
		return true
	case map[string]any, []any, types.Document:
		return true
	default:
		b, err := json.Marshal(v)
		return err == nil && len(b) > 0
	}
}

// WithID returns a copy of raw canonical JSON with its "_id" field rewritten
// to fullID, using sjson so the rest of the document's byte layout (and key
// order) is left untouched.
func WithID(raw []byte, fullID string) ([]byte, error) {
	out, err := sjson.SetBytes(raw, "_id", fullID)
	if err != nil {
		return nil, fmt.Errorf("rewrite _id: %w", err)
	}
	return out, nil
}

// QuickID extracts "_id" straight from canonical JSON bytes via gjson,
// without a full decode, so no Document is materialized just to read its
// id.
func QuickID(raw []byte) (string, bool) {
	r := gjson.GetBytes(raw, "_id")
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// QuickDeleted reports whether raw's top-level "_deleted" field is truthy,
// via gjson, so AllDocs can skip a full decode of tombstoned documents.
func QuickDeleted(raw []byte) bool {
	return gjson.GetBytes(raw, "_deleted").Bool()
}

// EncodeFrontMatter renders doc as a YAML front-matter file (spec.md §6's
// serialize = "front-matter"): every key, including the reserved "_id" and
// "_deleted", is promoted into a YAML header delimited by "---" lines. No
// body content is implied; the "body" is reserved for a future "_body" key.
func EncodeFrontMatter(doc types.Document) ([]byte, error) {
	header := make(map[string]any, len(doc))
	for k, v := range doc {
		header[k] = v
	}
	yamlBytes, err := yaml.Marshal(header)
	if err != nil {
		return nil, ddberrors.Wrap(ddberrors.InvalidJsonObject, "encodeFrontMatter", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(yamlBytes)
	buf.WriteString("---\n")
	return buf.Bytes(), nil
}

// DecodeFrontMatter parses a front-matter file back into a Document. YAML
// scalar ints/int64s are normalized to float64 so front-matter documents
// compare equal to their JSON-serialized counterparts (e.g. in the sync
// engine's merge logic).
func DecodeFrontMatter(raw []byte) (types.Document, error) {
	trimmed := bytes.TrimSpace(raw)
	trimmed = bytes.TrimPrefix(trimmed, []byte("---"))
	if end := bytes.LastIndex(trimmed, []byte("---")); end >= 0 {
		trimmed = trimmed[:end]
	}
	var m map[string]any
	if err := yaml.Unmarshal(trimmed, &m); err != nil {
		return nil, ddberrors.Wrap(ddberrors.InvalidJsonObject, "decodeFrontMatter", err)
	}
	doc := types.Document{}
	for k, v := range m {
		doc[k] = normalizeYAMLValue(v)
	}
	return doc, nil
}

func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			val[k] = normalizeYAMLValue(vv)
		}
		return val
	case []any:
		for i, vv := range val {
			val[i] = normalizeYAMLValue(vv)
		}
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}
