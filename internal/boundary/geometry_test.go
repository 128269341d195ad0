package boundary

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

func squarePolygon() *shp.Polygon {
	pl := shp.NewPolyLine([][]shp.Point{{
		{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0},
	}})
	return (*shp.Polygon)(pl)
}

func TestEncodeMultiPolygon(t *testing.T) {
	data, err := encodeMultiPolygon(squarePolygon())
	require.NoError(t, err)
	require.NotNil(t, data)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)

	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 4326, mp.SRID())
	assert.Equal(t, 1, mp.NumPolygons())
}

func TestEncodeMultiPolygon_UnsupportedShapes(t *testing.T) {
	for _, shape := range []shp.Shape{
		nil,
		&shp.Point{X: 1, Y: 2},
		shp.NewPolyLine([][]shp.Point{{{X: 0, Y: 0}, {X: 1, Y: 1}}}),
		&shp.Polygon{},
	} {
		data, err := encodeMultiPolygon(shape)
		require.NoError(t, err)
		assert.Nil(t, data)
	}
}
