package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Record is the one shape every mapping takes once loaded, whatever the
// file on disk looked like.
type Record struct {
	InternalID int
	ImportedAt time.Time
	Metadata   map[string]any
}

// String returns a metadata value rendered as a string, or "".
func (r Record) String(key string) string {
	v, ok := r.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// MarshalJSON writes {internalId, importedAt, ...metadata}.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		out[k] = v
	}
	out["internalId"] = r.InternalID
	out["importedAt"] = r.ImportedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON accepts the canonical object, objects written with the
// older strapiId key, and bare numeric ids.
func (r *Record) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var id json.Number
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("decode bare mapping id: %w", err)
		}
		n, err := strconv.Atoi(id.String())
		if err != nil {
			return fmt.Errorf("decode bare mapping id: %w", err)
		}
		*r = Record{InternalID: n}
		return nil
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	rec := Record{Metadata: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "internalId", "strapiId":
			id, err := toInt(v)
			if err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			rec.InternalID = id
		case "importedAt":
			if s, ok := v.(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					rec.ImportedAt = ts
				}
			}
		default:
			rec.Metadata[k] = normalizeNumber(v)
		}
	}
	*r = rec
	return nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(t)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected id type %T", v)
	}
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumber(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumber(inner)
		}
		return t
	default:
		return v
	}
}
