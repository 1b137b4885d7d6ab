package earnedvalue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildingProgressMean(t *testing.T) {
	require.Equal(t, 50.0, BuildingProgress([]float64{0, 50, 100}))
}

func TestBuildingProgressEmptyIsZero(t *testing.T) {
	require.Equal(t, 0.0, BuildingProgress(nil))
	require.Equal(t, 0.0, BuildingProgress([]float64{}))
}

func TestBuildingProgressRoundsToTwoPlaces(t *testing.T) {
	require.Equal(t, 33.33, BuildingProgress([]float64{0, 0, 100}))
	require.Equal(t, 66.67, BuildingProgress([]float64{100, 100, 0}))
}

func TestBuildingProgressClampsStrayValues(t *testing.T) {
	require.Equal(t, 50.0, BuildingProgress([]float64{-10, 100}))
}
