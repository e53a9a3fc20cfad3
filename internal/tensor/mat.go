package tensor

// Mat represents a dense row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Data holds the flattened
// values; Grad, when allocated, holds the accumulated gradient with the
// same layout. Weight matrices store one output dimension per row, so a
// projection is MatVec: dst[r] = sum_c M[r][c] * x[c].
//
// Mat does not perform any memory safety beyond the checks performed by
// Go's slice types; out-of-range indices will panic.
type Mat struct {
	R, C int

	Data []float32
	Grad []float32
}

// NewMat allocates a zero-initialised matrix with the given dimensions.
func NewMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Mat{
		R:    r,
		C:    c,
		Data: make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix wrapping existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) *Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return &Mat{R: r, C: c, Data: data}
}

// Row returns a view of the i-th row. Modifications to the returned slice
// update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.C
	return m.Data[start : start+m.C]
}

// RowTo copies the i-th row into dst. dst must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(dst) < m.C {
		panic("row buffer too small")
	}
	start := i * m.C
	copy(dst[:m.C], m.Data[start:start+m.C])
}

// EnsureGrad allocates the gradient buffer if it does not exist yet.
func (m *Mat) EnsureGrad() {
	if m.Grad == nil {
		m.Grad = make([]float32, len(m.Data))
	}
}

// ZeroGrad clears the gradient buffer in place.
func (m *Mat) ZeroGrad() {
	for i := range m.Grad {
		m.Grad[i] = 0
	}
}

// GradRow returns a view of the i-th row of the gradient buffer.
func (m *Mat) GradRow(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.C
	return m.Grad[start : start+m.C]
}

// Vec is a learned one-dimensional parameter (for example an RMSNorm scale).
type Vec struct {
	Data []float32
	Grad []float32
}

// NewVec allocates a zero-initialised vector of length n.
func NewVec(n int) *Vec {
	if n < 0 {
		panic("negative dimension for vector")
	}
	return &Vec{Data: make([]float32, n)}
}

// NewVecOnes allocates a vector of length n filled with ones.
func NewVecOnes(n int) *Vec {
	v := NewVec(n)
	for i := range v.Data {
		v.Data[i] = 1
	}
	return v
}

// EnsureGrad allocates the gradient buffer if it does not exist yet.
func (v *Vec) EnsureGrad() {
	if v.Grad == nil {
		v.Grad = make([]float32, len(v.Data))
	}
}

// ZeroGrad clears the gradient buffer in place.
func (v *Vec) ZeroGrad() {
	for i := range v.Grad {
		v.Grad[i] = 0
	}
}
