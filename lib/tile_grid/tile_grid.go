// Package tile_grid buckets a latitude/longitude pair into a coarse named
// cell, used to group alert locations so a tracker update only has to test
// the handful of locations that share its cell rather than the whole list.
package tile_grid

import (
	"fmt"
	"math"
)

// cellSizeDeg is the width of a grid cell in degrees. 0.5 degrees is
// roughly 55km at the equator, comfortably larger than the largest
// standard alert radius.
const cellSizeDeg = 0.5

// LookupTile returns the name of the grid cell containing (lat, lon), of
// the form "latCell:lonCell".
func LookupTile(lat, lon float64) string {
	latCell := int(math.Floor(lat / cellSizeDeg))
	lonCell := int(math.Floor(lon / cellSizeDeg))
	return fmt.Sprintf("%d:%d", latCell, lonCell)
}

// NeighborTiles returns the cell containing (lat, lon) plus its 8 surrounding cells,
// for callers that need to catch a location near a cell boundary.
func NeighborTiles(lat, lon float64) []string {
	latCell := int(math.Floor(lat / cellSizeDeg))
	lonCell := int(math.Floor(lon / cellSizeDeg))
	tiles := make([]string, 0, 9)
	for dLat := -1; dLat <= 1; dLat++ {
		for dLon := -1; dLon <= 1; dLon++ {
			tiles = append(tiles, fmt.Sprintf("%d:%d", latCell+dLat, lonCell+dLon))
		}
	}
	return tiles
}
