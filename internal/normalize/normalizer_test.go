package normalize

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cruisesync/internal/model"
)

func loadFixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/sailing_900123.json")
	require.NoError(t, err)
	return b
}

func ptr[T any](v T) *T { return &v }

func date(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func TestNormalize_SplitsDefinitionAndSailing(t *testing.T) {
	ns, err := Normalize(loadFixture(t), Options{DefaultCurrency: "USD", SourcePath: "2026/05/21/410/900123.json"})
	require.NoError(t, err)

	assert.Equal(t, model.CruiseDefinition{
		CruiseID:      2143102,
		LineID:        21,
		ShipID:        410,
		Name:          "7 Night Western Caribbean",
		Nights:        ptr(int64(7)),
		SailNights:    ptr(int64(7)),
		SeaDays:       nil,
		VoyageCode:    "AL07W",
		ItineraryCode: "WCAR7",
	}, ns.Definition)

	assert.Equal(t, model.CruiseSailing{
		SailingID:       900123,
		SailDate:        date("2026-05-03"),
		EmbarkPortID:    ptr(int64(1180)),
		DisembarkPortID: ptr(int64(1180)),
		RegionIDs:       []int64{3, 9},
		PortIDs:         []int64{1180, 2045, 3110},
		NoFly:           ptr(true),
		DepartUK:        ptr(false),
		IsActive:        true,
	}, ns.Sailing)

	assert.Equal(t, model.CruiseLine{ID: 21, Name: "Atlantic Line", Code: "ATL"}, ns.Line)
	assert.Equal(t, model.Ship{ID: 410, LineID: 21, Name: "Atlantic Dawn", Code: "ADW"}, ns.Ship)
	assert.Equal(t, []model.Port{{ID: 1180, Name: "Miami"}, {ID: 2045, Name: "Cozumel"}, {ID: 3110, Name: "Roatan"}}, ns.Ports)
	assert.Equal(t, "2026/05/21/410/900123.json", ns.SourcePath)
}

func TestNormalize_ItineraryIsOrdered(t *testing.T) {
	ns, err := Normalize(loadFixture(t), Options{})
	require.NoError(t, err)

	require.Len(t, ns.Itinerary, 3)
	assert.Equal(t, model.ItineraryStop{
		Day: 1, OrderID: 1, PortID: ptr(int64(1180)), Name: "Miami",
		DepartDate: date("2026-05-03"), DepartTime: "16:00",
	}, ns.Itinerary[0])
	assert.Equal(t, "At Sea", ns.Itinerary[1].Name)
	assert.Nil(t, ns.Itinerary[1].PortID)
	assert.Equal(t, int64(3), ns.Itinerary[2].OrderID)
}

func TestNormalize_CabinsAndPricing(t *testing.T) {
	ns, err := Normalize(loadFixture(t), Options{DefaultCurrency: "USD"})
	require.NoError(t, err)

	classes := map[string]model.CabinClass{}
	for _, c := range ns.Cabins {
		classes[c.CabinCode] = c.Class
	}
	assert.Equal(t, map[string]model.CabinClass{
		"BA": model.CabinBalcony, "GS": model.CabinSuite, "IB": model.CabinInterior,
		"OV": model.CabinOceanview, "ZZ": "",
	}, classes)

	type row struct {
		Rate, Cabin, Occ string
		Class            model.CabinClass
		Price            string
		Taxes            string
		Currency         string
	}
	var got []row
	for _, p := range ns.Pricing {
		taxes := ""
		if p.Taxes.Valid {
			taxes = p.Taxes.Decimal.StringFixed(2)
		}
		got = append(got, row{p.RateCode, p.CabinCode, p.OccupancyCode, p.CabinClass, p.Price.StringFixed(2), taxes, p.Currency})
	}
	want := []row{
		{"BESTFARE", "BA", "101", model.CabinBalcony, "1249.00", "", "GBP"},
		{"BESTFARE", "IB", "101", model.CabinInterior, "799.00", "150.00", "GBP"},
		{"BESTFARE", "IB", "102", model.CabinInterior, "749.00", "", "GBP"},
		{"BESTFARE", "OV", "101", model.CabinOceanview, "899.50", "150.00", "GBP"},
		{"BESTFARE", "ZZ", "101", "", "500.00", "", "GBP"},
		{"FLEX", "BA", "", model.CabinBalcony, "1199.00", "150.00", "GBP"},
		{"FLEX", "IB", "101", model.CabinInterior, "829.00", "", "GBP"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pricing mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "BESTFARE|IB|101", ns.Pricing[1].PriceCode)
}

func TestNormalize_IsDeterministicAndDoesNotMutateInput(t *testing.T) {
	raw := loadFixture(t)
	orig := bytes.Clone(raw)

	a, err := Normalize(raw, Options{})
	require.NoError(t, err)
	b, err := Normalize(raw, Options{})
	require.NoError(t, err)

	opt := cmp.Comparer(func(x, y decimal.Decimal) bool { return x.Equal(y) })
	if diff := cmp.Diff(a, b, opt); diff != "" {
		t.Fatalf("normalize is not deterministic:\n%s", diff)
	}
	assert.Equal(t, orig, raw)
}

func TestNormalize_EmptyCollections(t *testing.T) {
	raw := []byte(`{"codetocruiseid": 1, "cruiseid": 2, "lineid": 21, "shipid": 3,
		"prices": [], "cabins": [], "ports": [], "itinerary": {}, "linecontent": []}`)

	ns, err := Normalize(raw, Options{DefaultCurrency: "gbp"})
	require.NoError(t, err)
	assert.Empty(t, ns.Pricing)
	assert.Empty(t, ns.Cabins)
	assert.Empty(t, ns.Ports)
	assert.Empty(t, ns.Itinerary)
	assert.Equal(t, model.CruiseLine{ID: 21}, ns.Line)
	// absence is preserved, never coerced
	assert.Nil(t, ns.Sailing.NoFly)
	assert.Nil(t, ns.Sailing.SailDate)
	assert.Nil(t, ns.Definition.Nights)
}

func TestNormalize_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		opts  Options
		field string
	}{
		{name: "not json", raw: `<xml/>`, field: "document"},
		{name: "array", raw: `[1,2]`, field: "document"},
		{name: "missing sailing id", raw: `{"cruiseid": 2, "lineid": 21, "shipid": 3}`, field: "codetocruiseid"},
		{name: "zero sailing id", raw: `{"codetocruiseid": "0", "cruiseid": 2, "lineid": 21, "shipid": 3}`, field: "codetocruiseid"},
		{name: "missing cruise id", raw: `{"codetocruiseid": 1, "lineid": 21, "shipid": 3}`, field: "cruiseid"},
		{name: "missing line", raw: `{"codetocruiseid": 1, "cruiseid": 2, "shipid": 3}`, field: "lineid"},
		{name: "wrong line", raw: `{"codetocruiseid": 1, "cruiseid": 2, "lineid": 22, "shipid": 3}`, opts: Options{LineID: 21}, field: "lineid"},
		{name: "missing ship", raw: `{"codetocruiseid": 1, "cruiseid": 2, "lineid": 21}`, field: "shipid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.raw), tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNormalize_FallsBackToPathIDs(t *testing.T) {
	ns, err := Normalize([]byte(`{"codetocruiseid": 1, "cruiseid": 2}`), Options{LineID: 21, ShipID: 410})
	require.NoError(t, err)
	assert.Equal(t, int64(21), ns.Definition.LineID)
	assert.Equal(t, int64(410), ns.Ship.ID)
}

func TestNormalize_HiddenSailingIsInactive(t *testing.T) {
	ns, err := Normalize([]byte(`{"codetocruiseid": 1, "cruiseid": 2, "lineid": 21, "shipid": 3, "showcruise": "N"}`), Options{})
	require.NoError(t, err)
	assert.False(t, ns.Sailing.IsActive)
}

func TestScalarParsers(t *testing.T) {
	s := func(raw string) Scalar { return Scalar{Raw: raw, Valid: true} }

	assert.Equal(t, ptr(int64(7)), s("7").Int())
	assert.Equal(t, ptr(int64(7)), s("7.0").Int())
	assert.Nil(t, s("7.5").Int())
	assert.Nil(t, s("").Int())
	assert.Nil(t, Scalar{}.Int())
	assert.Nil(t, s("-3").PositiveInt())

	assert.Equal(t, ptr(true), s("Y").Flag())
	assert.Equal(t, ptr(false), s("n").Flag())
	assert.Equal(t, ptr(true), s("true").Flag())
	assert.Nil(t, s("maybe").Flag())
	assert.Nil(t, Scalar{}.Flag())

	assert.Equal(t, date("2026-05-03"), s("2026-05-03 00:00:00").Date())
	assert.Nil(t, s("0000-00-00").Date())
	assert.Nil(t, s("soon").Date())

	d := s("1,249.999").Decimal()
	require.True(t, d.Valid)
	assert.Equal(t, "1250.00", d.Decimal.StringFixed(2))
	assert.False(t, s("N/A").Decimal().Valid)
}

func TestIDList(t *testing.T) {
	tests := []struct {
		raw  string
		want IDList
	}{
		{`[1, "2", "x", 0]`, IDList{1, 2}},
		{`"4, 5,,6"`, IDList{4, 5, 6}},
		{`7`, IDList{7}},
		{`null`, nil},
		{`[]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var l IDList
			require.NoError(t, l.UnmarshalJSON([]byte(tt.raw)))
			assert.Equal(t, tt.want, l)
		})
	}
}

func TestClassifyCabin(t *testing.T) {
	assert.Equal(t, model.CabinInterior, ClassifyCabin("Inside"))
	assert.Equal(t, model.CabinOceanview, ClassifyCabin("outside"))
	assert.Equal(t, model.CabinOceanview, ClassifyCabin("Oceanview"))
	assert.Equal(t, model.CabinBalcony, ClassifyCabin("balcony"))
	assert.Equal(t, model.CabinBalcony, ClassifyCabin("Verandah"))
	assert.Equal(t, model.CabinSuite, ClassifyCabin("Suite"))
	assert.Equal(t, model.CabinClass(""), ClassifyCabin("studio"))
}
