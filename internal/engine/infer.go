package engine

import "sort"

// ── SchemaInferrer ─────────────────────────────────────────
// Derives a schema for a batch of raw records and re-normalizes every
// record against the resolved field types. Two passes: first resolve
// one type per field across all observations, then normalize — a value
// that individually looked like an integer but whose field resolved to
// string is normalized as a string.

// SchemaInferrer infers a schema over a batch of raw records.
type SchemaInferrer struct {
	// SampleCap bounds the number of retained sample values per field
	// (first-seen, not reservoir-sampled). Zero means the default cap.
	SampleCap int
}

// fieldState accumulates per-field observations during pass 1.
type fieldState struct {
	resolved FieldType
	observed bool // at least one non-null observation
	samples  []any
}

// Infer derives the schema for a batch and returns it together with
// every record normalized against the resolved types.
//
// Guarantees: the schema's field set is the union of all field names
// observed in the batch, in first-appearance order; every normalized
// value is well-typed per its field's resolved type; fields absent
// from a record stay absent (they are not filled with nulls).
func (si *SchemaInferrer) Infer(batch []RawRecord) (*Schema, []NormalizedRecord) {
	sampleCap := si.SampleCap
	if sampleCap <= 0 {
		sampleCap = DefaultSampleValueCap
	}

	var order []string
	states := make(map[string]*fieldState)

	// Pass 1: classify every present value, resolve one type per field.
	for _, rec := range batch {
		for _, name := range recordFields(rec, states) {
			st, ok := states[name]
			if !ok {
				st = &fieldState{resolved: TypeNull}
				states[name] = st
				order = append(order, name)
			}
			raw := rec[name]
			if len(st.samples) < sampleCap {
				st.samples = append(st.samples, raw)
			}
			t := Detect(raw)
			if t != TypeNull {
				st.observed = true
			}
			st.resolved = mergeTypes(st.resolved, t)
		}
	}

	schema := &Schema{Fields: make([]SchemaField, 0, len(order))}
	for _, name := range order {
		st := states[name]
		t := st.resolved
		if !st.observed {
			// Nothing but nulls observed; string is the safe resolution.
			t = TypeString
		}
		schema.Fields = append(schema.Fields, SchemaField{Name: name, Type: t, Samples: st.samples})
	}

	// Pass 2: normalize each record field against its resolved type.
	normalized := make([]NormalizedRecord, len(batch))
	for i, rec := range batch {
		out := make(NormalizedRecord, len(rec))
		for name, raw := range rec {
			out[name] = Normalize(raw, schema.Field(name).Type)
		}
		normalized[i] = out
	}

	return schema, normalized
}

// recordFields yields a record's field names with already-known names
// first (in schema order) and new names sorted, so first-appearance
// ordering is deterministic for identical input regardless of map
// iteration order.
func recordFields(rec RawRecord, states map[string]*fieldState) []string {
	known := make([]string, 0, len(rec))
	var fresh []string
	for n := range rec {
		if _, ok := states[n]; ok {
			known = append(known, n)
		} else {
			fresh = append(fresh, n)
		}
	}
	sort.Strings(known)
	sort.Strings(fresh)
	return append(known, fresh...)
}
