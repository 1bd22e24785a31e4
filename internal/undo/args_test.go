package undo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockundo/internal/vec"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := ParseTime("30m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*time.Minute), got)

	got, err = ParseTime("2024-04-30T10:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC), got)

	_, err = ParseTime("вчера", now)
	assert.Error(t, err)
}

func TestParseRegion(t *testing.T) {
	box, err := ParseRegion("5, 0, 5, 1, 10, 1")
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: 1, Y: 0, Z: 1}, box.Min)
	assert.Equal(t, vec.Vec3{X: 5, Y: 10, Z: 5}, box.Max)

	_, err = ParseRegion("1,2,3")
	assert.Error(t, err)
	_, err = ParseRegion("1,2,3,4,5,x")
	assert.Error(t, err)
}

func TestBuildArgs(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	args, err := BuildArgs("1h", "", "0,0,0,3,3,3", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), args.Since)
	assert.True(t, args.Until.IsZero())
	require.NotNil(t, args.Region)
	assert.True(t, args.Region.Contains(vec.Vec3{X: 2, Y: 2, Z: 2}))

	_, err = BuildArgs("", "soon", "", now)
	assert.Error(t, err)
}
