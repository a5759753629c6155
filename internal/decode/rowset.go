// Package decode turns raw chunk and batch payloads into row sets.
package decode

import (
	"fmt"
	"io"
	"sort"
)

// RowSet is a decoded block of rows held in memory.
type RowSet interface {
	NumRows() int64
	NumColumns() int
	// Value returns the value at row, col. Nil is SQL NULL.
	Value(row int64, col int) (any, error)
	Release()
}

// Decoder decodes one complete payload.
type Decoder interface {
	Decode(r io.Reader) (RowSet, error)
}

// Concat presents several row sets as one. Release releases all of them.
func Concat(sets ...RowSet) RowSet {
	switch len(sets) {
	case 0:
		return emptyRowSet{}
	case 1:
		return sets[0]
	}

	ends := make([]int64, len(sets))
	var n int64
	for i, s := range sets {
		n += s.NumRows()
		ends[i] = n
	}
	return &multiRowSet{sets: sets, ends: ends}
}

type multiRowSet struct {
	sets []RowSet
	// ends[i] is the row number one past the last row of sets[i]
	ends []int64
}

func (m *multiRowSet) NumRows() int64 {
	return m.ends[len(m.ends)-1]
}

func (m *multiRowSet) NumColumns() int {
	return m.sets[0].NumColumns()
}

func (m *multiRowSet) Value(row int64, col int) (any, error) {
	i := sort.Search(len(m.ends), func(i int) bool { return m.ends[i] > row })
	if row < 0 || i == len(m.ends) {
		return nil, fmt.Errorf("row %d out of range [0, %d)", row, m.NumRows())
	}
	start := int64(0)
	if i > 0 {
		start = m.ends[i-1]
	}
	return m.sets[i].Value(row-start, col)
}

func (m *multiRowSet) Release() {
	for _, s := range m.sets {
		s.Release()
	}
}

type emptyRowSet struct{}

func (emptyRowSet) NumRows() int64  { return 0 }
func (emptyRowSet) NumColumns() int { return 0 }
func (emptyRowSet) Value(row int64, col int) (any, error) {
	return nil, fmt.Errorf("row %d out of range [0, 0)", row)
}
func (emptyRowSet) Release() {}

func checkPosition(row, rows int64, col, cols int) error {
	if row < 0 || row >= rows {
		return fmt.Errorf("row %d out of range [0, %d)", row, rows)
	}
	if col < 0 || col >= cols {
		return fmt.Errorf("column %d out of range [0, %d)", col, cols)
	}
	return nil
}
