package index

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	flatMagic   = "MRIX"
	flatVersion = 1
	headerSize  = 16
)

// Flat is a brute-force vector index ranked by squared Euclidean distance.
// Vectors are stored contiguously in insertion order; position i is the i-th
// vector added.
type Flat struct {
	dim  int
	data []float32
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends vectors in order. It fails without modifying the index if any
// vector has the wrong dimension.
func (f *Flat) Add(vecs ...[]float32) error {
	for i, v := range vecs {
		if len(v) != f.dim {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), f.dim)
		}
	}
	for _, v := range vecs {
		f.data = append(f.data, v...)
	}
	return nil
}

// Vector returns the vector stored at position i.
func (f *Flat) Vector(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Neighbor is a search hit: an index position and its distance to the query.
type Neighbor struct {
	Position int
	Distance float32
}

// Search returns up to k nearest vectors ordered by ascending distance. Equal
// distances are ordered by position.
func (f *Flat) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), f.dim)
	}
	if k <= 0 || f.Len() == 0 {
		return nil, nil
	}

	h := &neighborHeap{}
	heap.Init(h)
	n := f.Len()
	for i := 0; i < n; i++ {
		d := squaredL2(query, f.Vector(i))
		cand := Neighbor{Position: i, Distance: d}
		if h.Len() < k {
			heap.Push(h, cand)
		} else if worse((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}

	out := make([]Neighbor, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Neighbor)
	}
	return out, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// worse reports whether a ranks after b.
func worse(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Position > b.Position
}

// neighborHeap is a max-heap on rank: the root is the worst kept neighbor.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MarshalBinary encodes the index as a fixed header (magic, version,
// dimension, count) followed by little-endian float32 values.
func (f *Flat) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(f.data)*4)
	copy(buf, flatMagic)
	binary.LittleEndian.PutUint32(buf[4:], flatVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(f.dim))
	binary.LittleEndian.PutUint32(buf[12:], uint32(f.Len()))
	for i, v := range f.data {
		binary.LittleEndian.PutUint32(buf[headerSize+i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (f *Flat) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize || string(b[:4]) != flatMagic {
		return fmt.Errorf("not a flat index file")
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != flatVersion {
		return fmt.Errorf("unsupported index version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(b[8:]))
	count := int(binary.LittleEndian.Uint32(b[12:]))
	body := b[headerSize:]
	if dim <= 0 && count > 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	if len(body)%4 != 0 || len(body)/4 != dim*count {
		return fmt.Errorf("index body is %d bytes, header declares %d vectors of dimension %d", len(body), count, dim)
	}
	data := make([]float32, dim*count)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	f.dim = dim
	f.data = data
	return nil
}
