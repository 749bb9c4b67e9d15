// Package jsonstore ingests arbitrary JSON trees, scores their shape for a
// relational versus document backing, and persists them to the chosen store.
// The catalog row in Postgres is the source of truth for what exists; a
// reconciler repairs drift between it and the payload stores.
package jsonstore

import (
	"github.com/stowagehq/stowage-backend/internal/domain"
)

// Primitive kinds a JSON value can take. Objects and arrays count as kinds
// of their own so a field flipping between scalar and container reads as
// mixed-typed.
const (
	kindObject = "object"
	kindArray  = "array"
	kindString = "string"
	kindNumber = "number"
	kindBool   = "bool"
	kindNull   = "null"
)

// Metrics is the structural profile of one JSON tree.
type Metrics struct {
	MaxDepth              int                `json:"maxDepth"`
	TotalObjects          int                `json:"totalObjects"`
	UniqueFields          int                `json:"uniqueFields"`
	TotalFieldOccurrences int                `json:"totalFieldOccurrences"`
	FieldPresence         map[string]float64 `json:"fieldPresence"`
	SchemaConsistency     float64            `json:"schemaConsistency"`
	TypeConsistency       float64            `json:"typeConsistency"`
	HasNestedArrays       bool               `json:"hasNestedArrays"`
	HasMixedTypes         bool               `json:"hasMixedTypes"`
}

// Decision is the routing verdict for one JSON tree.
type Decision struct {
	Backing    string   `json:"backing"`
	Confidence float64  `json:"confidence"`
	SQLScore   float64  `json:"sqlScore"`
	NoSQLScore float64  `json:"noSqlScore"`
	Reasons    []string `json:"reasons"`
	Metrics    Metrics  `json:"metrics"`
}

const confidenceEpsilon = 1e-9

// Reason labels, one per score contribution.
const (
	reasonConsistentSchema = "consistent schema across records"
	reasonFlatStructure    = "flat data structure ideal for relational tables"
	reasonNoArrays         = "scalar fields only, nothing to unnest"
	reasonFlatArrays       = "arrays are flat and fan out into rows"
	reasonDensePresence    = "every field present in most records"
	reasonStableTypes      = "stable value types per field"

	reasonVaryingSchema  = "flexible schema accommodates varying structures"
	reasonDeepNesting    = "deep nesting handled naturally by document storage"
	reasonNestedArrays   = "nested structures avoid complex relational joins"
	reasonSparsePresence = "sparse fields suit schemaless documents"
	reasonMixedTypes     = "mixed value types require a flexible schema"
)

type walkState struct {
	maxDepth         int
	totalObjects     int
	fieldOccurrences map[string]int
	fieldKinds       map[string]map[string]bool
	hasArrays        bool
	hasNestedArrays  bool
}

// Analyze walks a decoded JSON tree once and returns the backing decision
// with its metrics. It is pure: same tree in, same decision out.
func Analyze(tree any) Decision {
	st := &walkState{
		maxDepth:         1,
		fieldOccurrences: map[string]int{},
		fieldKinds:       map[string]map[string]bool{},
	}
	st.walk(tree, 0)

	m := st.metrics()
	return decide(m, st.hasArrays)
}

// walk visits node with containers enclosing containers above it. A scalar's
// depth is the number of containers wrapping it, floored at 1 for a bare
// scalar root.
func (st *walkState) walk(node any, containers int) {
	switch v := node.(type) {
	case map[string]any:
		st.totalObjects++
		for key, val := range v {
			st.fieldOccurrences[key]++
			kinds, ok := st.fieldKinds[key]
			if !ok {
				kinds = map[string]bool{}
				st.fieldKinds[key] = kinds
			}
			kinds[kindOf(val)] = true
			if _, isArr := val.([]any); isArr {
				st.hasNestedArrays = true
			}
			st.walk(val, containers+1)
		}
	case []any:
		st.hasArrays = true
		for _, item := range v {
			if _, isArr := item.([]any); isArr {
				st.hasNestedArrays = true
			}
			st.walk(item, containers+1)
		}
	default:
		depth := containers
		if depth < 1 {
			depth = 1
		}
		if depth > st.maxDepth {
			st.maxDepth = depth
		}
	}
}

func (st *walkState) metrics() Metrics {
	m := Metrics{
		MaxDepth:        st.maxDepth,
		TotalObjects:    st.totalObjects,
		UniqueFields:    len(st.fieldOccurrences),
		FieldPresence:   map[string]float64{},
		HasNestedArrays: st.hasNestedArrays,
	}

	presenceSum := 0.0
	for key, count := range st.fieldOccurrences {
		m.TotalFieldOccurrences += count
		presence := 1.0
		if st.totalObjects > 0 {
			presence = float64(count) / float64(st.totalObjects)
		}
		m.FieldPresence[key] = presence
		presenceSum += presence
	}

	consistentFields := 0
	for _, kinds := range st.fieldKinds {
		if len(kinds) == 1 {
			consistentFields++
		} else {
			m.HasMixedTypes = true
		}
	}

	// A tree with no objects at all is vacuously consistent.
	m.SchemaConsistency = 1.0
	m.TypeConsistency = 1.0
	if m.UniqueFields > 0 {
		m.SchemaConsistency = presenceSum / float64(m.UniqueFields)
		m.TypeConsistency = float64(consistentFields) / float64(m.UniqueFields)
	}
	return m
}

func decide(m Metrics, hasArrays bool) Decision {
	minPresence, maxOK := 1.0, true
	for _, p := range m.FieldPresence {
		if p < minPresence {
			minPresence = p
		}
		if p < 0.80 {
			maxOK = false
		}
	}

	var sqlScore, noSQLScore float64
	var sqlReasons, noSQLReasons []string

	if m.SchemaConsistency > 0.90 {
		sqlScore += 3.0
		sqlReasons = append(sqlReasons, reasonConsistentSchema)
	}
	if m.MaxDepth <= 2 {
		sqlScore += 2.5
		sqlReasons = append(sqlReasons, reasonFlatStructure)
	}
	if !hasArrays {
		sqlScore += 1.5
		sqlReasons = append(sqlReasons, reasonNoArrays)
	} else if !m.HasNestedArrays {
		sqlScore += 1.0
		sqlReasons = append(sqlReasons, reasonFlatArrays)
	}
	if maxOK {
		sqlScore += 2.0
		sqlReasons = append(sqlReasons, reasonDensePresence)
	}
	if m.TypeConsistency == 1.0 {
		sqlScore += 2.0
		sqlReasons = append(sqlReasons, reasonStableTypes)
	}

	if m.SchemaConsistency < 0.70 {
		noSQLScore += 2.5
		noSQLReasons = append(noSQLReasons, reasonVaryingSchema)
	}
	if m.MaxDepth > 4 {
		noSQLScore += 3.0
		noSQLReasons = append(noSQLReasons, reasonDeepNesting)
	}
	if m.HasNestedArrays {
		noSQLScore += 2.5
		noSQLReasons = append(noSQLReasons, reasonNestedArrays)
	}
	if minPresence < 0.50 {
		noSQLScore += 2.0
		noSQLReasons = append(noSQLReasons, reasonSparsePresence)
	}
	if m.HasMixedTypes {
		noSQLScore += 1.5
		noSQLReasons = append(noSQLReasons, reasonMixedTypes)
	}

	d := Decision{
		SQLScore:   sqlScore,
		NoSQLScore: noSQLScore,
		Metrics:    m,
	}

	// Ties fall to the document store; nested structures are the safer
	// default when the signal is ambiguous.
	winning, losing := noSQLReasons, sqlReasons
	if sqlScore > noSQLScore {
		d.Backing = domain.BackingRelational
		d.Confidence = sqlScore / (sqlScore + noSQLScore + confidenceEpsilon)
		winning, losing = sqlReasons, noSQLReasons
	} else {
		d.Backing = domain.BackingDocument
		d.Confidence = 0.5
		if sqlScore+noSQLScore > 0 {
			d.Confidence = noSQLScore / (sqlScore + noSQLScore + confidenceEpsilon)
		}
	}

	d.Reasons = append(d.Reasons, winning...)
	for _, r := range losing {
		d.Reasons = append(d.Reasons, "weak: "+r)
	}
	return d
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return kindObject
	case []any:
		return kindArray
	case string:
		return kindString
	case bool:
		return kindBool
	case nil:
		return kindNull
	default:
		return kindNumber
	}
}
