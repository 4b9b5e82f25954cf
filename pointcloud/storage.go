package pointcloud

import (
	"github.com/golang/geo/r3"
)

// PointAndData is a tiny struct to facilitate returning nearest neighbors in a neat way.
type PointAndData struct {
	P r3.Vector
	D Data
}

// storage is a place to store points. It does not do any validation of the points.
type storage interface {
	Size() int
	Set(p r3.Vector, d Data) error
	At(x, y, z float64) (Data, bool)
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// matrixStorage keeps points in insertion order and indexes them by position.
type matrixStorage struct {
	points   []PointAndData
	indexMap map[r3.Vector]uint
}

func (ms *matrixStorage) Size() int {
	return len(ms.points)
}

func (ms *matrixStorage) Set(p r3.Vector, d Data) error {
	if i, found := ms.indexMap[p]; found {
		ms.points[i].D = d
		return nil
	}
	ms.points = append(ms.points, PointAndData{P: p, D: d})
	ms.indexMap[p] = uint(len(ms.points) - 1)
	return nil
}

func (ms *matrixStorage) At(x, y, z float64) (Data, bool) {
	i, found := ms.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !found {
		return nil, false
	}
	return ms.points[i].D, true
}

// Iterate visits the points in insertion order. With numBatches > 0 the points are split into
// contiguous ranges and only range myBatch is visited.
func (ms *matrixStorage) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	lowerBound := 0
	upperBound := ms.Size()
	if numBatches > 0 {
		batchSize := (ms.Size() + numBatches - 1) / numBatches
		lowerBound = myBatch * batchSize
		upperBound = (myBatch + 1) * batchSize
	}
	if upperBound > ms.Size() {
		upperBound = ms.Size()
	}
	for i := lowerBound; i < upperBound; i++ {
		if !fn(ms.points[i].P, ms.points[i].D) {
			return
		}
	}
}
