package tilesource

import "math"

// TileSize is the edge length in pixels of every emitted tile.
const TileSize = 256

// MaxZoom bounds the accepted slippy-map zoom range.
const MaxZoom = 24

// tileLon returns the longitude of the western edge of tile column x at zoom z.
func tileLon(x, z int) float64 {
	return float64(x)/math.Exp2(float64(z))*360 - 180
}

// tileLat returns the latitude of the northern edge of tile row y at zoom z.
func tileLat(y, z int) float64 {
	n := math.Pi - 2*math.Pi*float64(y)/math.Exp2(float64(z))
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}

// rowLat returns the latitude of a continuous tile-row coordinate at zoom z.
func rowLat(row float64, z int) float64 {
	n := math.Pi - 2*math.Pi*row/math.Exp2(float64(z))
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}
