package userprog

import (
	"errors"
	"fmt"

	"github.com/LosCuervosXeneizes/kernelvm/filesys"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

// ErrBadSegment es un segmento de programa que no se puede cargar.
var ErrBadSegment = errors.New("segmento inválido")

// Segment es un segmento cargable de un ejecutable ya interpretado.
type Segment struct {
	Offset   int64   `json:"offset"`
	VA       uintptr `json:"va"`
	FileSize int     `json:"tam_archivo"`
	MemSize  int     `json:"tam_memoria"`
	Writable bool    `json:"escritura"`
}

// Program describe un ejecutable del sistema de archivos y sus segmentos.
type Program struct {
	File     string    `json:"archivo"`
	Segments []Segment `json:"segmentos"`
}

// segmentAux es lo que necesita la carga diferida de una página de un
// segmento. Cada página tiene su propio archivo abierto.
type segmentAux struct {
	file      *filesys.File
	offset    int64
	readBytes int
	zeroBytes int
}

func (a *segmentAux) Clone() vm.Aux {
	c := *a
	c.file = a.file.Inode().Open()
	return &c
}

func (a *segmentAux) Release() { a.file.Close() }

// lazyLoadSegment lee la página del archivo en su primer fallo.
func lazyLoadSegment(p *vm.Page, kva []byte, aux vm.Aux) error {
	a, ok := aux.(*segmentAux)
	if !ok {
		return fmt.Errorf("%s: aux inesperado %T", p, aux)
	}
	if a.readBytes > 0 {
		if n := a.file.ReadAt(kva[:a.readBytes], a.offset); n != a.readBytes {
			return fmt.Errorf("%s: se leyeron %d de %d bytes", p, n, a.readBytes)
		}
	}
	clear(kva[a.readBytes:])
	return nil
}

// Load registra los segmentos de prog para carga diferida y arma la pila. El
// ejecutable queda abierto, sin permiso de escritura, hasta que el proceso
// termina.
func (p *Process) Load(prog Program) error {
	f, err := p.m.fs.Open(prog.File)
	if err != nil {
		return err
	}
	f.DenyWrite()
	p.exe = f

	for i, seg := range prog.Segments {
		if err := validSegment(seg, f.Length()); err != nil {
			return fmt.Errorf("segmento %d de %s: %w", i, prog.File, err)
		}
		if err := p.loadSegment(seg); err != nil {
			return fmt.Errorf("segmento %d de %s: %w", i, prog.File, err)
		}
	}
	if err := p.setupStack(); err != nil {
		return err
	}
	utils.Logger().Info(fmt.Sprintf("## (%d) - Programa %s cargado - Segmentos: %d", p.pid, prog.File, len(prog.Segments)))
	return nil
}

func validSegment(seg Segment, fileLen int64) error {
	switch {
	case seg.Offset < 0 || vm.PgOfs(uintptr(seg.Offset)) != vm.PgOfs(seg.VA):
		return fmt.Errorf("%w: offset %d y dirección %#x desalineados", ErrBadSegment, seg.Offset, seg.VA)
	case seg.Offset > fileLen || int64(seg.FileSize) > fileLen-seg.Offset:
		return fmt.Errorf("%w: excede el archivo", ErrBadSegment)
	case seg.MemSize <= 0 || seg.FileSize < 0 || seg.FileSize > seg.MemSize:
		return fmt.Errorf("%w: tamaños %d/%d", ErrBadSegment, seg.FileSize, seg.MemSize)
	case seg.VA < vm.PageSize:
		return fmt.Errorf("%w: mapea la página 0", ErrBadSegment)
	}
	end := seg.VA + uintptr(seg.MemSize)
	if end < seg.VA || !vm.IsUserVaddr(end-1) || end > vm.UserStack {
		return fmt.Errorf("%w: [%#x, %#x) fuera del espacio de usuario", ErrBadSegment, seg.VA, end)
	}
	return nil
}

// loadSegment registra una página sin cargar por cada página del segmento.
// Las primeras readBytes bytes se leen del archivo y el resto queda en cero.
func (p *Process) loadSegment(seg Segment) error {
	pageOfs := vm.PgOfs(seg.VA)
	va := vm.PgRoundDown(seg.VA)
	ofs := seg.Offset - int64(pageOfs)
	readBytes := int(pageOfs) + seg.FileSize
	zeroBytes := int(vm.PgRoundUp(pageOfs+uintptr(seg.MemSize))) - readBytes

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, vm.PageSize)
		pageZero := vm.PageSize - pageRead
		aux := &segmentAux{
			file:      p.exe.Inode().Open(),
			offset:    ofs,
			readBytes: pageRead,
			zeroBytes: pageZero,
		}
		if err := p.space.AllocWithInitializer(vm.TypeAnon, va, seg.Writable, lazyLoadSegment, aux); err != nil {
			aux.Release()
			return err
		}
		readBytes -= pageRead
		zeroBytes -= pageZero
		va += vm.PageSize
		ofs += vm.PageSize
	}
	return nil
}

// setupStack carga la primera página de la pila y apunta RSP al tope.
func (p *Process) setupStack() error {
	bottom := vm.UserStack - vm.PageSize
	if err := p.space.AllocPage(vm.TypeAnon|vm.MarkerStack, bottom, true); err != nil {
		return err
	}
	if err := p.space.ClaimPage(bottom); err != nil {
		return err
	}
	p.Trap.RSP = vm.UserStack
	return nil
}

// imagen es un programa que EXEC puede cargar: el ejecutable y la función que
// hace de su código.
type imagen struct {
	prog Program
	main func(p *Process)
}

// Register agrega el programa nombre a la tabla que consulta EXEC.
func (m *Manager) Register(nombre string, prog Program, main func(p *Process)) {
	m.imgMu.Lock()
	m.imagenes[nombre] = imagen{prog: prog, main: main}
	m.imgMu.Unlock()
}

func (m *Manager) buscarImagen(nombre string) (imagen, bool) {
	m.imgMu.Lock()
	defer m.imgMu.Unlock()
	img, ok := m.imagenes[nombre]
	return img, ok && img.main != nil
}
