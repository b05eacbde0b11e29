package tracker

import (
	"errors"
	"fmt"
)

// lapLarge stands in for infinity in the reduction steps
const lapLarge = 1000000.0

// errLapjv is returned when augmentation fails to find a path
var errLapjv = errors.New("lapjv augmentation failed")

// lap solves the dense square Linear Assignment Problem with the
// Jonker-Volgenant algorithm.  x holds the column assigned to each row and y
// the row assigned to each column.
type lap struct {
	n        int
	cost     [][]float64
	x        []int
	y        []int
	v        []float64
	freeRows []int
}

// newLap returns a solver for the n x n cost matrix
func newLap(cost [][]float64) *lap {
	n := len(cost)
	return &lap{
		n:        n,
		cost:     cost,
		x:        make([]int, n),
		y:        make([]int, n),
		v:        make([]float64, n),
		freeRows: make([]int, n),
	}
}

// solve runs column reduction, two rounds of augmenting row reduction, then
// augmentation of any rows still free
func (l *lap) solve() error {

	free := l.columnReduction()

	for i := 0; free > 0 && i < 2; i++ {
		free = l.augmentingRowReduction(free)
	}

	if free > 0 {
		return l.augment(free)
	}

	return nil
}

// columnReduction performs column-reduction and reduction transfer, returning
// the number of free rows
func (l *lap) columnReduction() int {

	n := l.n
	unique := make([]bool, n)

	for i := 0; i < n; i++ {
		l.x[i] = -1
		l.v[i] = lapLarge
		l.y[i] = 0
		unique[i] = true
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if c := l.cost[i][j]; c < l.v[j] {
				l.v[j] = c
				l.y[j] = i
			}
		}
	}

	for j := n - 1; j >= 0; j-- {
		i := l.y[j]

		if l.x[i] < 0 {
			l.x[i] = j
		} else {
			unique[i] = false
			l.y[j] = -1
		}
	}

	free := 0

	for i := 0; i < n; i++ {

		if l.x[i] < 0 {
			l.freeRows[free] = i
			free++
			continue
		}

		if !unique[i] {
			continue
		}

		j := l.x[i]
		minVal := lapLarge

		for j2 := 0; j2 < n; j2++ {
			if j2 == j {
				continue
			}

			if c := l.cost[i][j2] - l.v[j2]; c < minVal {
				minVal = c
			}
		}

		l.v[j] -= minVal
	}

	return free
}

// augmentingRowReduction tries to assign the free rows by lowering column
// prices, returning the number of rows still free
func (l *lap) augmentingRowReduction(nFree int) int {

	n := l.n
	current := 0
	newFree := 0
	rrCnt := 0

	for current < nFree {

		rrCnt++
		freeI := l.freeRows[current]
		current++

		// find the lowest and second lowest reduced cost of the row
		j1 := 0
		v1 := l.cost[freeI][0] - l.v[0]
		j2 := -1
		v2 := lapLarge

		for j := 1; j < n; j++ {
			c := l.cost[freeI][j] - l.v[j]

			if c >= v2 {
				continue
			}

			if c >= v1 {
				v2, j2 = c, j
			} else {
				v2, j2 = v1, j1
				v1, j1 = c, j
			}
		}

		i0 := l.y[j1]
		v1New := l.v[j1] - (v2 - v1)
		v1Lowers := v1New < l.v[j1]

		if rrCnt < current*n {
			if v1Lowers {
				l.v[j1] = v1New
			} else if i0 >= 0 && j2 >= 0 {
				j1 = j2
				i0 = l.y[j2]
			}

			if i0 >= 0 {
				if v1Lowers {
					current--
					l.freeRows[current] = i0
				} else {
					l.freeRows[newFree] = i0
					newFree++
				}
			}
		} else if i0 >= 0 {
			l.freeRows[newFree] = i0
			newFree++
		}

		l.x[freeI] = j1
		l.y[j1] = freeI
	}

	return newFree
}

// augment finds a shortest augmenting path for every remaining free row
func (l *lap) augment(nFree int) error {

	pred := make([]int, l.n)

	for _, freeI := range l.freeRows[:nFree] {

		j := l.findPath(freeI, pred)

		if j < 0 || j >= l.n {
			return fmt.Errorf("%w: path end %d", errLapjv, j)
		}

		for k, i := 0, -1; i != freeI; k++ {

			if k >= l.n {
				return fmt.Errorf("%w: path longer than %d", errLapjv, l.n)
			}

			i = pred[j]
			l.y[j] = i
			j, l.x[i] = l.x[i], j
		}
	}

	return nil
}

// findPath performs a single iteration of the modified Dijkstra shortest path
// search from the JV paper, returning the free column reached
func (l *lap) findPath(startI int, pred []int) int {

	n := l.n
	lo, hi := 0, 0
	finalJ := -1
	nReady := 0
	cols := make([]int, n)
	d := make([]float64, n)

	for i := 0; i < n; i++ {
		cols[i] = i
		pred[i] = startI
		d[i] = l.cost[startI][i] - l.v[i]
	}

	for finalJ == -1 {

		// no columns left on the SCAN list
		if lo == hi {
			nReady = lo
			hi = l.findMin(lo, d, cols)

			for k := lo; k < hi; k++ {
				if j := cols[k]; l.y[j] < 0 {
					finalJ = j
				}
			}
		}

		if finalJ == -1 {
			finalJ = l.scan(&lo, &hi, d, cols, pred)
		}
	}

	mind := d[cols[lo]]

	for _, j := range cols[:nReady] {
		l.v[j] += d[j] - mind
	}

	return finalJ
}

// findMin moves the columns with minimum d onto the SCAN list
func (l *lap) findMin(lo int, d []float64, cols []int) int {

	hi := lo + 1
	mind := d[cols[lo]]

	for k := hi; k < l.n; k++ {

		j := cols[k]

		if d[j] > mind {
			continue
		}

		if d[j] < mind {
			hi = lo
			mind = d[j]
		}

		cols[k], cols[hi] = cols[hi], j
		hi++
	}

	return hi
}

// scan relaxes the TODO columns using each column on the SCAN list, it
// returns a free column if one is reached at minimum distance or -1
func (l *lap) scan(lo, hi *int, d []float64, cols, pred []int) int {

	for *lo != *hi {

		j := cols[*lo]
		*lo++
		i := l.y[j]
		mind := d[j]
		h := l.cost[i][j] - l.v[j] - mind

		for k := *hi; k < l.n; k++ {
			j = cols[k]
			cred := l.cost[i][j] - l.v[j] - h

			if cred >= d[j] {
				continue
			}

			d[j] = cred
			pred[j] = i

			if cred == mind {
				if l.y[j] < 0 {
					return j
				}

				cols[k], cols[*hi] = cols[*hi], j
				(*hi)++
			}
		}
	}

	return -1
}

// solveAssignment finds the minimum cost assignment of a rectangular cost
// matrix.  The matrix is extended to square with costLimit/2 padding so a
// row is left unassigned rather than paired above costLimit.  It returns the
// column for each row and the row for each column, -1 when unassigned.
func solveAssignment(cost [][]float32, costLimit float32) (rowsol, colsol []int, err error) {

	nRows := len(cost)

	if nRows == 0 || len(cost[0]) == 0 {
		return nil, nil, nil
	}

	nCols := len(cost[0])
	n := nRows + nCols

	ext := make([][]float64, n)

	for i := range ext {
		ext[i] = make([]float64, n)

		for j := range ext[i] {
			switch {
			case i < nRows && j < nCols:
				ext[i][j] = float64(cost[i][j])
			case i >= nRows && j >= nCols:
				ext[i][j] = 0
			default:
				ext[i][j] = float64(costLimit) / 2
			}
		}
	}

	l := newLap(ext)

	if err := l.solve(); err != nil {
		return nil, nil, err
	}

	rowsol = make([]int, nRows)
	colsol = make([]int, nCols)

	for i := range rowsol {
		rowsol[i] = -1
		if l.x[i] < nCols {
			rowsol[i] = l.x[i]
		}
	}

	for j := range colsol {
		colsol[j] = -1
		if l.y[j] < nRows {
			colsol[j] = l.y[j]
		}
	}

	return rowsol, colsol, nil
}
