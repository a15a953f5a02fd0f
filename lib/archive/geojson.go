package archive

import (
	"sort"

	"github.com/kpawlik/geojson"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Trace is one aircraft's archived positions, ordered by time.
type Trace struct {
	ICAO      string
	Positions []Position
}

// ToGeoJSON renders a Trace as a GeoJSON LineString feature, with the
// great-circle length of the trace (via paulmach/orb/geo) recorded in the
// feature's properties.
func (t Trace) ToGeoJSON() *geojson.Feature {
	positions := append([]Position{}, t.Positions...)
	sort.Slice(positions, func(i, j int) bool { return positions[i].Timestamp.Before(positions[j].Timestamp) })

	coords := make(geojson.Coordinates, len(positions))
	line := make(orb.LineString, len(positions))
	for i, p := range positions {
		coords[i] = geojson.Coordinate{geojson.CoordType(p.Longitude), geojson.CoordType(p.Latitude)}
		line[i] = orb.Point{p.Longitude, p.Latitude}
	}

	geom := geojson.NewLineString(coords)
	props := map[string]interface{}{
		"icao":          t.ICAO,
		"length_meters": geo.LengthLineString(line),
	}
	return geojson.NewFeature(geom, props, nil)
}
