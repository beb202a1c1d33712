package runner

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/sadewadee/mapharvest/geo"
	"github.com/sadewadee/mapharvest/web"
)

// Location is one city a job will search.
type Location struct {
	Country    string
	State      string
	City       string
	Population int
}

// Key returns the per-job dedupe key for the location.
func (l Location) Key() geo.Key {
	return geo.LocationKey(l.Country, l.State, l.City)
}

// Display renders the location for progress reporting.
func (l Location) Display(catalog *geo.Catalog) string {
	return fmt.Sprintf("%s, %s, %s", l.City, catalog.StateName(l.Country, l.State), catalog.CountryName(l.Country))
}

// Population phases for country-wide jobs. Large markets fill the
// record budget fastest, so they go first.
const (
	bigCityFloor = 1_000_000
	midCityFloor = 100_000
)

// ExpandScope turns the job's scope into the ordered city list. City
// scope is a single location; state scope shuffles the state's cities;
// country scope phases cities by population bucket (big, mid, small,
// unknown) with a shuffle inside each bucket.
func ExpandScope(catalog *geo.Catalog, params web.Params, rng *rand.Rand) ([]Location, error) {
	country := strings.ToUpper(strings.TrimSpace(params.Country))

	if !catalog.ValidCountry(country) {
		return nil, fmt.Errorf("unknown country %q", params.Country)
	}

	if params.City != "" {
		if !catalog.ValidState(country, params.State) {
			return nil, fmt.Errorf("unknown state %q in %s", params.State, country)
		}

		loc := Location{Country: country, State: strings.ToUpper(params.State), City: params.City}
		if pop, ok := catalog.Population(country, params.State, params.City); ok {
			loc.Population = pop
		}

		return []Location{loc}, nil
	}

	if params.State != "" {
		if !catalog.ValidState(country, params.State) {
			return nil, fmt.Errorf("unknown state %q in %s", params.State, country)
		}

		locs := citiesOf(catalog, country, strings.ToUpper(params.State))

		rng.Shuffle(len(locs), func(i, j int) { locs[i], locs[j] = locs[j], locs[i] })

		return locs, nil
	}

	var all []Location

	for _, state := range catalog.StatesOf(country) {
		all = append(all, citiesOf(catalog, country, state)...)
	}

	return phaseByPopulation(all, rng), nil
}

func citiesOf(catalog *geo.Catalog, country, state string) []Location {
	cities := catalog.CitiesOf(country, state)
	locs := make([]Location, 0, len(cities))

	for _, city := range cities {
		loc := Location{Country: country, State: state, City: city}
		if pop, ok := catalog.Population(country, state, city); ok {
			loc.Population = pop
		}

		locs = append(locs, loc)
	}

	return locs
}

func phaseByPopulation(locs []Location, rng *rand.Rand) []Location {
	var big, mid, small, unknown []Location

	for _, l := range locs {
		switch {
		case l.Population >= bigCityFloor:
			big = append(big, l)
		case l.Population >= midCityFloor:
			mid = append(mid, l)
		case l.Population > 0:
			small = append(small, l)
		default:
			unknown = append(unknown, l)
		}
	}

	out := make([]Location, 0, len(locs))

	for _, bucket := range [][]Location{big, mid, small, unknown} {
		rng.Shuffle(len(bucket), func(i, j int) { bucket[i], bucket[j] = bucket[j], bucket[i] })
		out = append(out, bucket...)
	}

	return out
}

// SearchURL builds the maps query URL for one keyword and location.
func SearchURL(keyword string, loc Location, catalog *geo.Catalog) string {
	query := fmt.Sprintf("%s in %s, %s, %s",
		keyword, loc.City, catalog.StateName(loc.Country, loc.State), catalog.CountryName(loc.Country))

	return "https://www.google.com/maps/search/" + strings.ReplaceAll(strings.Join(strings.Fields(query), " "), " ", "+")
}
