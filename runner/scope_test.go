package runner

import (
	"math/rand"
	"testing"

	"github.com/sadewadee/mapharvest/geo"
	"github.com/sadewadee/mapharvest/web"
)

func testCatalog(t *testing.T) *geo.Catalog {
	t.Helper()

	catalog, err := geo.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	return catalog
}

func testRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestExpandScopeCity(t *testing.T) {
	catalog := testCatalog(t)

	locs, err := ExpandScope(catalog, web.Params{Country: "us", State: "ca", City: "San Francisco"}, testRand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(locs) != 1 {
		t.Fatalf("city scope must yield one location, got %d", len(locs))
	}

	loc := locs[0]
	if loc.Country != "US" || loc.State != "CA" || loc.City != "San Francisco" {
		t.Fatalf("got %+v", loc)
	}

	if loc.Population == 0 {
		t.Fatalf("population must come from the dataset")
	}
}

func TestExpandScopeState(t *testing.T) {
	catalog := testCatalog(t)

	locs, err := ExpandScope(catalog, web.Params{Country: "US", State: "CA"}, testRand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := len(catalog.CitiesOf("US", "CA"))
	if len(locs) != want {
		t.Fatalf("state scope must cover every city: got %d, want %d", len(locs), want)
	}

	seen := make(map[string]bool)
	for _, l := range locs {
		if l.State != "CA" {
			t.Fatalf("location outside the state: %+v", l)
		}

		seen[l.City] = true
	}

	if len(seen) != want {
		t.Fatalf("cities must be unique, got %d distinct", len(seen))
	}
}

func TestExpandScopeCountryPhasesByPopulation(t *testing.T) {
	catalog := testCatalog(t)

	locs, err := ExpandScope(catalog, web.Params{Country: "US"}, testRand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(locs) == 0 {
		t.Fatalf("country scope must yield locations")
	}

	bucket := func(pop int) int {
		switch {
		case pop >= bigCityFloor:
			return 0
		case pop >= midCityFloor:
			return 1
		case pop > 0:
			return 2
		default:
			return 3
		}
	}

	last := 0
	for _, l := range locs {
		b := bucket(l.Population)
		if b < last {
			t.Fatalf("bucket order violated at %+v", l)
		}

		last = b
	}
}

func TestExpandScopeValidation(t *testing.T) {
	catalog := testCatalog(t)

	if _, err := ExpandScope(catalog, web.Params{Country: "ZZ"}, testRand()); err == nil {
		t.Fatalf("unknown country must fail")
	}

	if _, err := ExpandScope(catalog, web.Params{Country: "US", State: "XX", City: "Nowhere"}, testRand()); err == nil {
		t.Fatalf("unknown state must fail")
	}
}

func TestExpandScopeShuffleIsSeeded(t *testing.T) {
	catalog := testCatalog(t)

	a, _ := ExpandScope(catalog, web.Params{Country: "US", State: "CA"}, testRand())
	b, _ := ExpandScope(catalog, web.Params{Country: "US", State: "CA"}, testRand())

	for i := range a {
		if a[i].City != b[i].City {
			t.Fatalf("same seed must yield the same order")
		}
	}
}

func TestSearchURL(t *testing.T) {
	catalog := testCatalog(t)

	loc := Location{Country: "US", State: "CA", City: "San Francisco"}

	got := SearchURL("coffee shop", loc, catalog)
	want := "https://www.google.com/maps/search/coffee+shop+in+San+Francisco,+California,+United+States"

	if got != want {
		t.Fatalf("got %q", got)
	}
}
