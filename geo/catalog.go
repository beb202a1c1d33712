// Package geo is a pure lookup layer over a static country/state/city
// dataset. It validates scope codes and enumerates the locations a job
// expands into.
package geo

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

//go:embed data/locations.json
var rawDataset []byte

// City is one entry of the static dataset. Population is 0 when the
// lookup source had no figure.
type City struct {
	Name       string `json:"name"`
	Population int    `json:"population"`
}

// State groups the cities of one administrative division.
type State struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Cities []City `json:"cities"`
}

// Country is the top level of the dataset.
type Country struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	States []State `json:"states"`
}

// Catalog answers state/city lookups. It is immutable after Load.
type Catalog struct {
	countries map[string]Country
}

// Load parses the embedded dataset. It is cheap enough to call once at
// startup; the result is shared read-only.
func Load() (*Catalog, error) {
	var countries []Country

	if err := json.Unmarshal(rawDataset, &countries); err != nil {
		return nil, fmt.Errorf("geo dataset: %w", err)
	}

	c := &Catalog{countries: make(map[string]Country, len(countries))}

	for _, country := range countries {
		c.countries[strings.ToUpper(country.Code)] = country
	}

	return c, nil
}

// ValidCountry reports whether the ISO-2 code exists in the dataset.
func (c *Catalog) ValidCountry(code string) bool {
	_, ok := c.countries[strings.ToUpper(strings.TrimSpace(code))]

	return ok
}

// ValidState reports whether the state code exists under the country.
func (c *Catalog) ValidState(country, state string) bool {
	_, ok := c.state(country, state)

	return ok
}

func (c *Catalog) state(country, state string) (State, bool) {
	co, ok := c.countries[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return State{}, false
	}

	state = strings.ToUpper(strings.TrimSpace(state))

	for _, s := range co.States {
		if strings.ToUpper(s.Code) == state {
			return s, true
		}
	}

	return State{}, false
}

// StatesOf returns the state codes of a country, sorted.
func (c *Catalog) StatesOf(country string) []string {
	co, ok := c.countries[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return nil
	}

	codes := make([]string, 0, len(co.States))
	for _, s := range co.States {
		codes = append(codes, s.Code)
	}

	sort.Strings(codes)

	return codes
}

// CitiesOf returns the city names of a country+state, in dataset order.
func (c *Catalog) CitiesOf(country, state string) []string {
	s, ok := c.state(country, state)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(s.Cities))
	for _, city := range s.Cities {
		names = append(names, city.Name)
	}

	return names
}

// Population returns the dataset population for a city, or ok=false
// when the city is unknown or carries no figure.
func (c *Catalog) Population(country, state, city string) (int, bool) {
	s, ok := c.state(country, state)
	if !ok {
		return 0, false
	}

	city = normalizeName(city)

	for _, cc := range s.Cities {
		if normalizeName(cc.Name) == city {
			if cc.Population <= 0 {
				return 0, false
			}

			return cc.Population, true
		}
	}

	return 0, false
}

// StateName returns the display name for a state code.
func (c *Catalog) StateName(country, state string) string {
	s, ok := c.state(country, state)
	if !ok {
		return state
	}

	return s.Name
}

// CountryName returns the display name for a country code.
func (c *Catalog) CountryName(country string) string {
	co, ok := c.countries[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return country
	}

	return co.Name
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Key identifies a location within one job, case-insensitive and
// whitespace-collapsed. Used to skip already-processed cities.
type Key string

// LocationKey derives the dedupe key for (country, state, city).
func LocationKey(country, state, city string) Key {
	parts := []string{
		normalizeName(country),
		normalizeName(state),
		normalizeName(city),
	}

	return Key(strings.Join(parts, "|"))
}
