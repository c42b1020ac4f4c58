package vm

// pte es una entrada de la tabla de páginas simulada.
type pte struct {
	frame    *Frame
	writable bool
	accessed bool
	dirty    bool
}

// PageTable hace de pml4: traduce páginas virtuales a marcos y guarda los
// bits de acceso y modificación. Se usa con el lock de la VM tomado.
type PageTable struct {
	entries map[uintptr]*pte
}

func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[uintptr]*pte)}
}

// Map instala va -> f. Reemplaza una entrada previa y limpia sus bits.
func (pt *PageTable) Map(va uintptr, f *Frame, writable bool) {
	pt.entries[PgRoundDown(va)] = &pte{frame: f, writable: writable}
}

func (pt *PageTable) Unmap(va uintptr) {
	delete(pt.entries, PgRoundDown(va))
}

// Lookup devuelve el marco de va y si la entrada permite escribir.
func (pt *PageTable) Lookup(va uintptr) (*Frame, bool) {
	e, ok := pt.entries[PgRoundDown(va)]
	if !ok {
		return nil, false
	}
	return e.frame, true
}

func (pt *PageTable) IsWritable(va uintptr) bool {
	e, ok := pt.entries[PgRoundDown(va)]
	return ok && e.writable
}

func (pt *PageTable) SetWritable(va uintptr, writable bool) {
	if e, ok := pt.entries[PgRoundDown(va)]; ok {
		e.writable = writable
	}
}

func (pt *PageTable) IsDirty(va uintptr) bool {
	e, ok := pt.entries[PgRoundDown(va)]
	return ok && e.dirty
}

func (pt *PageTable) SetDirty(va uintptr, dirty bool) {
	if e, ok := pt.entries[PgRoundDown(va)]; ok {
		e.dirty = dirty
	}
}

func (pt *PageTable) IsAccessed(va uintptr) bool {
	e, ok := pt.entries[PgRoundDown(va)]
	return ok && e.accessed
}

func (pt *PageTable) SetAccessed(va uintptr, accessed bool) {
	if e, ok := pt.entries[PgRoundDown(va)]; ok {
		e.accessed = accessed
	}
}

// Len devuelve la cantidad de páginas mapeadas.
func (pt *PageTable) Len() int { return len(pt.entries) }
