package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEqual(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	est := time.FixedZone("EST", -5*3600)

	tests := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"same string", String("x"), String("x"), true},
		{"different string", String("x"), String("y"), false},
		{"string vs number", String("1"), Number(1), false},
		{"timestamps compare by instant", Timestamp(ts), Timestamp(ts.In(est)), true},
		{"list order matters", List(String("a"), String("b")), List(String("b"), String("a")), false},
		{"list equal", List(Number(1), Bool(true)), List(Number(1), Bool(true)), true},
		{"empty list vs nil list", List(), List(nil...), true},
		{
			"nested maps",
			Map(map[string]Value{"a": Map(map[string]Value{"b": Number(1)})}),
			Map(map[string]Value{"a": Map(map[string]Value{"b": Number(1)})}),
			true,
		},
		{
			"nested map differs",
			Map(map[string]Value{"a": Map(map[string]Value{"b": Number(1)})}),
			Map(map[string]Value{"a": Map(map[string]Value{"b": Number(2)})}),
			false,
		},
		{"map extra key", Map(map[string]Value{"a": Bool(true)}), Map(map[string]Value{"a": Bool(true), "b": Bool(true)}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
			assert.Equal(t, tt.equal, tt.b.Equal(tt.a))
		})
	}
}

func TestValueIsImmutable(t *testing.T) {
	src := map[string]Value{"k": String("v")}
	m := Map(src)
	src["k"] = String("changed")

	got, ok := m.Get("k")
	require.True(t, ok)
	assert.True(t, got.Equal(String("v")))

	fields := m.Fields()
	fields["k"] = String("changed again")
	got, _ = m.Get("k")
	assert.True(t, got.Equal(String("v")))

	items := []Value{Number(1)}
	l := List(items...)
	items[0] = Number(2)
	assert.True(t, l.Equal(List(Number(1))))
}

func TestValueCompare(t *testing.T) {
	cmp, ok := Number(1).Compare(Number(2))
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)

	cmp, ok = String("b").Compare(String("a"))
	assert.True(t, ok)
	assert.Equal(t, 1, cmp)

	_, ok = Number(1).Compare(String("1"))
	assert.False(t, ok)

	_, ok = List().Compare(List())
	assert.False(t, ok)
}

func TestValueJSONEnvelope(t *testing.T) {
	v := Map(map[string]Value{
		"name":  String("checkout"),
		"port":  Number(8080),
		"tls":   Bool(true),
		"seen":  Timestamp(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		"tags":  List(String("a"), String("b")),
		"empty": Map(nil),
	})

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"map":{
		"empty":{"map":{}},
		"name":{"string":"checkout"},
		"port":{"number":8080},
		"seen":{"timestamp":"2026-05-01T00:00:00Z"},
		"tags":{"list":[{"string":"a"},{"string":"b"}]},
		"tls":{"bool":true}
	}}`, string(raw))

	var decoded Value
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, v.Equal(decoded))
}

func TestValueJSONRejectsAmbiguousEnvelope(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{"string":"a","number":1}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"float":1}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`"bare"`), &v))
}

func TestAttributeMapPathsAndLookup(t *testing.T) {
	attrs := AttributeMap{
		"name": String("checkout"),
		"labels": Map(map[string]Value{
			"team": String("payments"),
			"env":  Map(map[string]Value{"tier": String("prod")}),
		}),
		"tags":  List(String("x")),
		"empty": Map(nil),
	}

	assert.Equal(t, []string{"empty", "labels.env.tier", "labels.team", "name", "tags"}, attrs.Paths())

	v, ok := attrs.Lookup("labels.env.tier")
	require.True(t, ok)
	assert.True(t, v.Equal(String("prod")))

	_, ok = attrs.Lookup("labels.missing")
	assert.False(t, ok)
	_, ok = attrs.Lookup("name.child")
	assert.False(t, ok)
	_, ok = attrs.Lookup("labels..team")
	assert.False(t, ok)
}

func TestPredicateMatches(t *testing.T) {
	attrs := AttributeMap{
		"port":   Number(8080),
		"name":   String("checkout"),
		"labels": Map(map[string]Value{"team": String("payments")}),
	}

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"eq", Predicate{Path: "name", Op: OpEq, Value: String("checkout")}, true},
		{"eq nested", Predicate{Path: "labels.team", Op: OpEq, Value: String("payments")}, true},
		{"neq missing attribute", Predicate{Path: "owner", Op: OpNeq, Value: String("x")}, true},
		{"gt", Predicate{Path: "port", Op: OpGt, Value: Number(80)}, true},
		{"lte false", Predicate{Path: "port", Op: OpLte, Value: Number(80)}, false},
		{"range across kinds", Predicate{Path: "port", Op: OpGt, Value: String("80")}, false},
		{"in", Predicate{Path: "name", Op: OpIn, Values: []Value{String("a"), String("checkout")}}, true},
		{"exists", Predicate{Path: "labels.team", Op: OpExists}, true},
		{"exists missing", Predicate{Path: "labels.owner", Op: OpExists}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Matches(attrs))
		})
	}
}

func TestQueryValidate(t *testing.T) {
	valid := Query{TenantID: "acme", EntityType: "SERVICE"}
	assert.NoError(t, valid.Validate())

	noTenant := valid
	noTenant.TenantID = ""
	assert.Error(t, noTenant.Validate())

	badRange := valid
	badRange.Predicates = []Predicate{{Path: "tls", Op: OpGt, Value: Bool(true)}}
	assert.Error(t, badRange.Validate())

	badPath := valid
	badPath.Predicates = []Predicate{{Path: "a..b", Op: OpExists}}
	assert.Error(t, badPath.Validate())

	emptyIn := valid
	emptyIn.Predicates = []Predicate{{Path: "a", Op: OpIn}}
	assert.Error(t, emptyIn.Validate())

	ordered := valid
	ordered.OrderBy = []OrderBy{{Path: "port", Kind: KindNumber, Order: SortDesc}}
	ordered.Offset = 10
	assert.NoError(t, ordered.Validate())

	orderByMap := valid
	orderByMap.OrderBy = []OrderBy{{Path: "labels", Kind: KindMap}}
	assert.Error(t, orderByMap.Validate())

	badOrder := valid
	badOrder.OrderBy = []OrderBy{{Path: "port", Kind: KindNumber, Order: "UP"}}
	assert.Error(t, badOrder.Validate())

	negativeOffset := valid
	negativeOffset.Offset = -1
	assert.Error(t, negativeOffset.Validate())
}

func TestQueryCompare(t *testing.T) {
	entity := func(id string, attrs AttributeMap) *Entity {
		return &Entity{EntityID: id, Attributes: attrs}
	}
	low := entity("b", AttributeMap{"port": Number(80)})
	high := entity("a", AttributeMap{"port": Number(443)})
	text := entity("c", AttributeMap{"port": String("http")})
	missing := entity("d", nil)

	asc := Query{OrderBy: []OrderBy{{Path: "port", Kind: KindNumber}}}
	desc := Query{OrderBy: []OrderBy{{Path: "port", Kind: KindNumber, Order: SortDesc}}}

	assert.Negative(t, asc.Compare(low, high))
	assert.Positive(t, desc.Compare(low, high))
	for _, q := range []Query{asc, desc} {
		assert.Negative(t, q.Compare(high, text), "other kinds sort after matching values")
		assert.Negative(t, q.Compare(low, missing), "missing values sort last")
		assert.Negative(t, q.Compare(text, missing), "absent values tie and fall back to the id")
	}
	assert.Negative(t, Query{}.Compare(high, low), "without ordering the id decides")
}

func TestRelationshipQueryMatches(t *testing.T) {
	r := &Relationship{TenantID: "acme", Type: "CALLS", FromEntityID: "a", ToEntityID: "b"}

	assert.True(t, RelationshipQuery{TenantID: "acme"}.Matches(r))
	assert.True(t, RelationshipQuery{TenantID: "acme", Types: []string{"OWNS", "CALLS"}, ToEntityIDs: []string{"b"}}.Matches(r))
	assert.False(t, RelationshipQuery{TenantID: "globex"}.Matches(r))
	assert.False(t, RelationshipQuery{TenantID: "acme", FromEntityIDs: []string{"b"}}.Matches(r))
	assert.False(t, RelationshipQuery{TenantID: "acme", Types: []string{"CALLS"}, ToEntityIDs: []string{"c"}}.Matches(r))

	assert.True(t, r.Complete())
	assert.False(t, (&Relationship{Type: "CALLS", FromEntityID: "a", ToEntityID: " "}).Complete())
}

func TestMergeKeyEntityIDIsDeterministic(t *testing.T) {
	a := NewMergeKey("acme", "SERVICE", "d1", []byte(`{"name":"x"}`))
	b := NewMergeKey("acme", "SERVICE", "d1", []byte(`{"name":"x"}`))
	otherTenant := NewMergeKey("globex", "SERVICE", "d1", []byte(`{"name":"x"}`))

	assert.Equal(t, a.EntityID(), b.EntityID())
	assert.NotEqual(t, a.EntityID(), otherTenant.EntityID())
	assert.Equal(t, "acme/SERVICE/d1", a.String())
}

func TestParseMergeKey(t *testing.T) {
	k, err := ParseMergeKey("acme/eu", "SERVICE", "acme/eu/SERVICE/d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", k.Digest)
	assert.Equal(t, "acme/eu/SERVICE/d1", k.String())

	_, err = ParseMergeKey("acme", "API", "acme/SERVICE/d1")
	assert.Error(t, err)
}

func TestIdentityDigestCoversTenantAndType(t *testing.T) {
	canonical := []byte(`{"name":"x"}`)
	a := NewMergeKey("a/b", "C", IdentityDigest("a/b", "C", canonical), canonical)
	b := NewMergeKey("a", "b/C", IdentityDigest("a", "b/C", canonical), canonical)

	assert.NotEqual(t, a.String(), b.String())
	assert.Equal(t, IdentityDigest("a/b", "C", canonical), IdentityDigest("a/b", "C", canonical))
}

func TestAttributeMapValidate(t *testing.T) {
	tests := []struct {
		name    string
		attrs   AttributeMap
		wantErr string
	}{
		{name: "plain nested keys", attrs: AttributeMap{"labels": Map(map[string]Value{"team": String("x")})}},
		{name: "empty top-level key", attrs: AttributeMap{"": Number(1)}, wantErr: "must not be empty"},
		{name: "dotted top-level key", attrs: AttributeMap{"a.b": Number(1)}, wantErr: `"a.b"`},
		{
			name:    "dotted nested key",
			attrs:   AttributeMap{"labels": Map(map[string]Value{"team.name": String("x")})},
			wantErr: `"labels.team.name"`,
		},
		{
			name:    "empty nested key",
			attrs:   AttributeMap{"labels": Map(map[string]Value{"": String("x")})},
			wantErr: `"labels" has an empty key`,
		},
		{
			name:    "map inside a list",
			attrs:   AttributeMap{"ports": List(Map(map[string]Value{"a.b": Number(1)}))},
			wantErr: `"ports[0].a.b"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attrs.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
