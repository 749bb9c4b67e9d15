package jsonstore

import (
	"math"
	"reflect"
	"testing"

	"github.com/stowagehq/stowage-backend/internal/domain"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// productsTree is a uniform flat record batch: every object carries the same
// five fields with stable types.
func productsTree() any {
	return []any{
		map[string]any{"id": 1.0, "name": "Laptop", "price": 999.99, "category": "electronics", "stock": 12.0},
		map[string]any{"id": 2.0, "name": "Desk", "price": 189.50, "category": "furniture", "stock": 4.0},
		map[string]any{"id": 3.0, "name": "Mug", "price": 9.99, "category": "kitchen", "stock": 88.0},
	}
}

// profileTree is a deeply nested single record with an embedded array of
// objects and one-off keys at every level.
func profileTree() any {
	return map[string]any{
		"user": map[string]any{
			"profile": map[string]any{
				"contacts": []any{
					map[string]any{"type": "email", "value": "ada@example.com"},
					map[string]any{"type": "phone", "value": "+1-555-0100"},
				},
				"preferences": map[string]any{
					"notifications": map[string]any{"email": true, "sms": false},
				},
			},
		},
	}
}

func TestAnalyzeFlatRecordBatch(t *testing.T) {
	d := Analyze(productsTree())

	if d.Backing != domain.BackingRelational {
		t.Fatalf("backing: want relational, got %s", d.Backing)
	}
	if !almost(d.SQLScore, 10.5) || !almost(d.NoSQLScore, 0) {
		t.Fatalf("scores: want 10.5/0, got %v/%v", d.SQLScore, d.NoSQLScore)
	}
	if !almost(d.Confidence, 1.0) {
		t.Fatalf("confidence: want ~1.0, got %v", d.Confidence)
	}

	m := d.Metrics
	if m.MaxDepth != 2 {
		t.Fatalf("maxDepth: want 2, got %d", m.MaxDepth)
	}
	if m.TotalObjects != 3 || m.UniqueFields != 5 || m.TotalFieldOccurrences != 15 {
		t.Fatalf("counts: got objects=%d fields=%d occurrences=%d",
			m.TotalObjects, m.UniqueFields, m.TotalFieldOccurrences)
	}
	if !almost(m.SchemaConsistency, 1.0) || !almost(m.TypeConsistency, 1.0) {
		t.Fatalf("consistency: got schema=%v type=%v", m.SchemaConsistency, m.TypeConsistency)
	}
	if m.HasNestedArrays || m.HasMixedTypes {
		t.Fatalf("flags: got nestedArrays=%v mixedTypes=%v", m.HasNestedArrays, m.HasMixedTypes)
	}
	for field, p := range m.FieldPresence {
		if !almost(p, 1.0) {
			t.Fatalf("presence[%s]: want 1.0, got %v", field, p)
		}
	}

	wantReasons := []string{
		"consistent schema across records",
		"flat data structure ideal for relational tables",
		"arrays are flat and fan out into rows",
		"every field present in most records",
		"stable value types per field",
	}
	if !reflect.DeepEqual(d.Reasons, wantReasons) {
		t.Fatalf("reasons: want %v, got %v", wantReasons, d.Reasons)
	}
}

func TestAnalyzeNestedProfile(t *testing.T) {
	d := Analyze(profileTree())

	if d.Backing != domain.BackingDocument {
		t.Fatalf("backing: want document, got %s", d.Backing)
	}
	if !almost(d.SQLScore, 2.0) || !almost(d.NoSQLScore, 10.0) {
		t.Fatalf("scores: want 2.0/10.0, got %v/%v", d.SQLScore, d.NoSQLScore)
	}
	if !almost(d.Confidence, 10.0/12.0) {
		t.Fatalf("confidence: want ~0.8333, got %v", d.Confidence)
	}

	m := d.Metrics
	if m.MaxDepth != 5 {
		t.Fatalf("maxDepth: want 5, got %d", m.MaxDepth)
	}
	if m.TotalObjects != 7 || m.UniqueFields != 9 || m.TotalFieldOccurrences != 11 {
		t.Fatalf("counts: got objects=%d fields=%d occurrences=%d",
			m.TotalObjects, m.UniqueFields, m.TotalFieldOccurrences)
	}
	if !m.HasNestedArrays {
		t.Fatal("hasNestedArrays: want true")
	}
	if m.HasMixedTypes {
		t.Fatal("hasMixedTypes: want false, every field keeps one kind")
	}
	if !almost(m.FieldPresence["type"], 2.0/7.0) {
		t.Fatalf("presence[type]: want 2/7, got %v", m.FieldPresence["type"])
	}

	wantReasons := []string{
		"flexible schema accommodates varying structures",
		"deep nesting handled naturally by document storage",
		"nested structures avoid complex relational joins",
		"sparse fields suit schemaless documents",
		"weak: stable value types per field",
	}
	if !reflect.DeepEqual(d.Reasons, wantReasons) {
		t.Fatalf("reasons: want %v, got %v", wantReasons, d.Reasons)
	}
}

// A tree scoring 4.0 on both sides: shallow and array-free, but with a
// sparse schema and one mixed-typed field. Ties fall to the document store.
func TestAnalyzeTieFallsToDocument(t *testing.T) {
	tree := map[string]any{
		"v":      1.0,
		"nested": map[string]any{"v": "s", "w": true},
	}
	d := Analyze(tree)

	if !almost(d.SQLScore, 4.0) || !almost(d.NoSQLScore, 4.0) {
		t.Fatalf("scores: want 4.0/4.0, got %v/%v", d.SQLScore, d.NoSQLScore)
	}
	if d.Backing != domain.BackingDocument {
		t.Fatalf("backing: want document on a tie, got %s", d.Backing)
	}
	if !almost(d.Confidence, 0.5) {
		t.Fatalf("confidence: want ~0.5, got %v", d.Confidence)
	}
	if !d.Metrics.HasMixedTypes {
		t.Fatal("hasMixedTypes: want true, v holds a number and a string")
	}
}

func TestAnalyzeDeeplyNestedTree(t *testing.T) {
	tree := any(map[string]any{"value": 1.0})
	for i := 0; i < 10; i++ {
		tree = map[string]any{"layer": tree, "items": []any{float64(i)}}
	}

	d := Analyze(tree)
	if d.Backing != domain.BackingDocument {
		t.Fatalf("backing: want document, got %s", d.Backing)
	}
	if d.Confidence <= 0.7 {
		t.Fatalf("confidence: want > 0.7, got %v", d.Confidence)
	}
	if d.Metrics.MaxDepth != 11 {
		t.Fatalf("maxDepth: want 11, got %d", d.Metrics.MaxDepth)
	}
}

func TestAnalyzeDegenerateRoots(t *testing.T) {
	cases := []struct {
		name        string
		tree        any
		wantBacking string
		wantSQL     float64
		wantDepth   int
	}{
		{"empty object", map[string]any{}, domain.BackingRelational, 11.0, 1},
		{"bare scalar", "hello", domain.BackingRelational, 11.0, 1},
		{"null root", nil, domain.BackingRelational, 11.0, 1},
		{"empty array", []any{}, domain.BackingRelational, 10.5, 1},
		{"flat scalar array", []any{1.0, 2.0, 3.0}, domain.BackingRelational, 10.5, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Analyze(tc.tree)
			if d.Backing != tc.wantBacking {
				t.Fatalf("backing: want %s, got %s", tc.wantBacking, d.Backing)
			}
			if !almost(d.SQLScore, tc.wantSQL) {
				t.Fatalf("sql score: want %v, got %v", tc.wantSQL, d.SQLScore)
			}
			if d.Metrics.MaxDepth != tc.wantDepth {
				t.Fatalf("maxDepth: want %d, got %d", tc.wantDepth, d.Metrics.MaxDepth)
			}
		})
	}
}

func TestAnalyzeArrayOfArrays(t *testing.T) {
	d := Analyze([]any{[]any{1.0, 2.0}, []any{3.0}})
	if !d.Metrics.HasNestedArrays {
		t.Fatal("hasNestedArrays: want true for an array element that is an array")
	}
	if d.Metrics.MaxDepth != 2 {
		t.Fatalf("maxDepth: want 2, got %d", d.Metrics.MaxDepth)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	first := Analyze(profileTree())
	second := Analyze(profileTree())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("decisions differ across runs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
