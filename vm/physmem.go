package vm

// PhysMem es el pool de marcos de usuario: una arena contigua de páginas
// identificadas por índice.
type PhysMem struct {
	mem  []byte
	free []int
}

func NewPhysMem(frames int) *PhysMem {
	m := &PhysMem{
		mem:  make([]byte, frames*PageSize),
		free: make([]int, 0, frames),
	}
	for i := frames - 1; i >= 0; i-- {
		m.free = append(m.free, i)
	}
	return m
}

// Alloc reserva un marco. Devuelve false si no quedan.
func (m *PhysMem) Alloc() (int, bool) {
	n := len(m.free)
	if n == 0 {
		return 0, false
	}
	idx := m.free[n-1]
	m.free = m.free[:n-1]
	return idx, true
}

// Free devuelve el marco idx al pool, en cero.
func (m *PhysMem) Free(idx int) {
	clear(m.Page(idx))
	m.free = append(m.free, idx)
}

// Page devuelve la memoria del marco idx.
func (m *PhysMem) Page(idx int) []byte {
	off := idx * PageSize
	return m.mem[off : off+PageSize : off+PageSize]
}

func (m *PhysMem) Frames() int     { return len(m.mem) / PageSize }
func (m *PhysMem) FreeFrames() int { return len(m.free) }
