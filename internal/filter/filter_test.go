package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwatch/internal/scan"
)

func ptr[T any](v T) *T { return &v }

func rows() []scan.Row {
	return []scan.Row{
		scan.NewRow(scan.F("Symbol", "AAPL"), scan.F("price", 10), scan.F("Direction", "LONG"), scan.F("Live", true)),
		scan.NewRow(scan.F("Symbol", "MSFT"), scan.F("price", 25.5), scan.F("Direction", "SHORT"), scan.F("Live", false)),
		scan.NewRow(scan.F("Symbol", "TSLA"), scan.F("price", "n/a"), scan.F("Direction", "FLAT"), scan.F("Live", "true")),
		scan.NewRow(scan.F("Symbol", "NVDA"), scan.F("price", nil), scan.F("Direction", "long"), scan.F("Live", nil)),
		scan.NewRow(scan.F("Symbol", "AMD"), scan.F("price", "0"), scan.F("Direction", "LONG")),
	}
}

func symbols(rs []scan.Row) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Get("Symbol").Text()
	}
	return out
}

func TestNumberRange(t *testing.T) {
	tests := []struct {
		name string
		rng  NumberRange
		want []string
	}{
		{"min only", NumberRange{Min: ptr(10.0)}, []string{"AAPL", "MSFT"}},
		{"max only", NumberRange{Max: ptr(10.0)}, []string{"AAPL", "AMD"}},
		{"both inclusive", NumberRange{Min: ptr(10.0), Max: ptr(25.5)}, []string{"AAPL", "MSFT"}},
		{"zero is a bound", NumberRange{Min: ptr(0.0), Max: ptr(0.0)}, []string{"AMD"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := Spec{}.With("price", tc.rng)
			got := Apply(rows(), spec, TargetState{}, nil)
			assert.Equal(t, tc.want, symbols(got))
		})
	}
}

func TestNumericFilterRejectsNonNumeric(t *testing.T) {
	spec := Spec{}.With("price", NumberRange{Max: ptr(1e9)})
	for _, r := range rows() {
		sym := r.Get("Symbol").Text()
		if sym == "TSLA" || sym == "NVDA" {
			assert.False(t, Passes(r, spec, TargetState{}, nil), sym)
		}
	}
}

func TestStringSetIsCaseSensitive(t *testing.T) {
	spec := Spec{}.With("Direction", NewStringSet("LONG", "FLAT"))
	got := Apply(rows(), spec, TargetState{}, nil)
	assert.Equal(t, []string{"AAPL", "TSLA", "AMD"}, symbols(got))
}

func TestBoolMatch(t *testing.T) {
	spec := Spec{}.SetBool("Live", ptr(true))
	assert.Equal(t, []string{"AAPL", "TSLA"}, symbols(Apply(rows(), spec, TargetState{}, nil)))

	spec = spec.SetBool("Live", ptr(false))
	assert.Equal(t, []string{"MSFT"}, symbols(Apply(rows(), spec, TargetState{}, nil)))

	spec = spec.SetBool("Live", nil)
	assert.True(t, spec.IsEmpty())
}

func TestFiltersAreConjunctive(t *testing.T) {
	spec := Spec{}.
		With("Direction", NewStringSet("LONG", "SHORT")).
		With("price", NumberRange{Min: ptr(20.0)})
	assert.Equal(t, []string{"MSFT"}, symbols(Apply(rows(), spec, TargetState{}, nil)))
}

func TestInactiveEntriesArePruned(t *testing.T) {
	spec := Spec{}.SetMin("price", ptr(1.0))
	require.Equal(t, 1, spec.Len())

	spec = spec.SetMin("price", nil)
	assert.Equal(t, 0, spec.Len())

	spec = spec.ToggleValue("Direction", "LONG")
	require.Equal(t, 1, spec.Len())
	spec = spec.ToggleValue("Direction", "LONG")
	assert.Equal(t, 0, spec.Len())

	spec = spec.With("Direction", NewStringSet())
	assert.Equal(t, 0, spec.Len())

	spec = NewSpec(map[string]Constraint{
		"a": NumberRange{},
		"b": NewStringSet("x"),
	})
	assert.Equal(t, []string{"b"}, spec.Columns())
}

func TestSpecIsImmutable(t *testing.T) {
	base := Spec{}.With("price", NumberRange{Min: ptr(1.0)})
	next := base.SetMax("price", ptr(5.0))

	c, _ := base.Get("price")
	assert.Nil(t, c.(NumberRange).Max)
	c, _ = next.Get("price")
	assert.Equal(t, 5.0, *c.(NumberRange).Max)
	assert.Equal(t, 1.0, *c.(NumberRange).Min)
}

func TestFilteringIsIdempotent(t *testing.T) {
	spec := Spec{}.
		With("Direction", NewStringSet("LONG", "SHORT", "FLAT")).
		With("price", NumberRange{Min: ptr(0.0)})
	once := Apply(rows(), spec, TargetState{}, nil)
	twice := Apply(once, spec, TargetState{}, nil)
	assert.Equal(t, symbols(once), symbols(twice))
}

func TestTargetHitScenario(t *testing.T) {
	rs := []scan.Row{
		scan.NewRow(scan.F("T1", "done")),
		scan.NewRow(scan.F("T1", "")),
	}
	cols := []string{"T1"}

	hit := Apply(rs, Spec{}, TargetState{Hit, Unconstrained}, cols)
	require.Len(t, hit, 1)
	assert.Equal(t, "done", hit[0].Get("T1").Text())

	notHit := Apply(rs, Spec{}, TargetState{NotHit, Unconstrained}, cols)
	require.Len(t, notHit, 1)
	assert.Equal(t, "", notHit[0].Get("T1").Text())
}

func TestTargetWithoutColumnIsVacuous(t *testing.T) {
	rs := []scan.Row{scan.NewRow(scan.F("T1", "x"))}
	got := Apply(rs, Spec{}, TargetState{Unconstrained, NotHit}, []string{"T1"})
	assert.Len(t, got, 1)
}

func TestParseBound(t *testing.T) {
	v, err := ParseBound(" 2.5 ")
	require.NoError(t, err)
	assert.Equal(t, 2.5, *v)

	v, err = ParseBound("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseBound("abc")
	assert.ErrorIs(t, err, ErrInvalidBound)
}

func TestActiveCount(t *testing.T) {
	spec := Spec{}.ToggleValue("Direction", "LONG").SetMin("price", ptr(1.0))
	assert.Equal(t, 3, ActiveCount(spec, TargetState{Hit, Unconstrained}))
}

func TestEntriesRoundTrip(t *testing.T) {
	spec := Spec{}.ToggleValue("Direction", "SHORT").SetMax("price", ptr(3.0)).SetBool("Live", ptr(false))
	rebuilt := Spec{}
	for _, e := range spec.Entries() {
		c, err := e.Constraint()
		require.NoError(t, err)
		rebuilt = rebuilt.With(e.Column, c)
	}
	assert.Equal(t, spec.Entries(), rebuilt.Entries())

	_, err := Entry{Column: "x", Kind: "regex"}.Constraint()
	assert.Error(t, err)
}
