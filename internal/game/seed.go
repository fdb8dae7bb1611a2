package game

// DemoArtist is a starter roster entry used when a store is seeded empty.
type DemoArtist struct {
	Name     string
	Tracks   []string
	Promoted string
}

func DemoCatalog() []DemoArtist {
	return []DemoArtist{
		{Name: "Cobalt Season", Tracks: []string{"Glasswork", "Northbound"}, Promoted: "Glasswork"},
		{Name: "Nimbus Choir", Tracks: []string{"Low Ceiling"}},
		{Name: "Rustic Signal", Tracks: []string{"Copper Wire", "Dial Tone", "Static Bloom"}},
		{Name: "Pylon Hearts", Tracks: []string{"Overpass"}, Promoted: "Overpass"},
		{Name: "Vectra June", Tracks: []string{"Fast Lights", "Tin Roof"}},
		{Name: "Lumina Drift", Tracks: []string{"Saltwater"}},
		{Name: "Orbitz Kid", Tracks: []string{"Launch Window", "Re-entry"}},
		{Name: "Zenith Motel", Tracks: []string{"Vacancy"}},
	}
}
