package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLapjvTest(t *testing.T, costMatrix [][]float64, expectedX, expectedY []int) {

	l := newLap(costMatrix)

	if err := l.solve(); err != nil {
		t.Fatalf("lapjv returned an error: %v", err)
	}

	for i := 0; i < l.n; i++ {
		if l.x[i] != expectedX[i] {
			t.Errorf("Expected x[%d] = %d, but got %d", i, expectedX[i], l.x[i])
		}
		if l.y[i] != expectedY[i] {
			t.Errorf("Expected y[%d] = %d, but got %d", i, expectedY[i], l.y[i])
		}
	}
}

func TestLapjv(t *testing.T) {
	costMatrix1 := [][]float64{
		{4, 1, 3, 2},
		{2, 0, 5, 3},
		{3, 2, 2, 3},
		{2, 3, 3, 2},
	}

	expectedX1 := []int{3, 1, 2, 0}
	expectedY1 := []int{3, 1, 2, 0}

	costMatrix2 := [][]float64{
		{10, 19, 8, 15},
		{10, 18, 7, 17},
		{13, 16, 9, 14},
		{12, 19, 8, 18},
	}

	expectedX2 := []int{3, 0, 1, 2}
	expectedY2 := []int{1, 2, 3, 0}

	t.Run("Test Case 1", func(t *testing.T) {
		runLapjvTest(t, costMatrix1, expectedX1, expectedY1)
	})

	t.Run("Test Case 2", func(t *testing.T) {
		runLapjvTest(t, costMatrix2, expectedX2, expectedY2)
	})
}

func TestSolveAssignmentRectangular(t *testing.T) {

	cost := [][]float32{
		{0.1, 0.9, 0.8},
		{0.9, 0.2, 0.9},
	}

	rowsol, colsol, err := solveAssignment(cost, 0.7)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, rowsol)
	assert.Equal(t, []int{0, 1, -1}, colsol)
}

func TestSolveAssignmentCostLimit(t *testing.T) {

	// every pairing costs more than the limit so nothing is assigned
	cost := [][]float32{
		{0.95, 0.99},
	}

	rowsol, colsol, err := solveAssignment(cost, 0.7)
	require.NoError(t, err)

	assert.Equal(t, []int{-1}, rowsol)
	assert.Equal(t, []int{-1, -1}, colsol)

	rowsol, colsol, err = solveAssignment(nil, 0.7)
	require.NoError(t, err)
	assert.Nil(t, rowsol)
	assert.Nil(t, colsol)
}
