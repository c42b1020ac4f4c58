package vm

import (
	"fmt"

	"github.com/LosCuervosXeneizes/kernelvm/filesys"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// mmapRegion es un mapeo de archivo: el archivo reabierto y sus páginas.
type mmapRegion struct {
	file  *filesys.File
	start uintptr
	pages int
}

// fileAux son los datos de carga de una página de archivo todavía no leída.
type fileAux struct {
	region    *mmapRegion
	offset    int64
	readBytes int
	zeroBytes int
}

func (a *fileAux) Clone() Aux {
	c := *a
	return &c
}

// filePage es una página respaldada por un archivo mapeado.
type filePage struct {
	region    *mmapRegion
	offset    int64
	readBytes int
	zeroBytes int
}

func (f *filePage) kind() Type { return TypeFile }

func (f *filePage) swapIn(p *Page, kva []byte) error {
	n := f.region.file.ReadAt(kva[:f.readBytes], f.offset)
	if n != f.readBytes {
		return fmt.Errorf("%s: se leyeron %d de %d bytes del archivo", p, n, f.readBytes)
	}
	clear(kva[f.readBytes:])
	return nil
}

func (f *filePage) swapOut(p *Page) error {
	if err := f.writeBack(p); err != nil {
		return err
	}
	p.unmap()
	p.space.metrics.add(&p.space.metrics.swapOuts, "Página de archivo desalojada")
	return nil
}

// destroy pierde los cambios que el archivo no aceptó: writeBack ya los
// registró.
func (f *filePage) destroy(p *Page) {
	if p.frame != nil {
		f.writeBack(p)
	}
}

// writeBack escribe la página en el archivo si está sucia. Si el archivo no
// acepta todos los bytes la página sigue sucia.
func (f *filePage) writeBack(p *Page) error {
	pt := p.space.pt
	if !pt.IsDirty(p.VA) {
		return nil
	}
	if n := f.region.file.WriteAt(p.frame.kva[:f.readBytes], f.offset); n != f.readBytes {
		utils.LoggerError().Error("No se pudo escribir la página al archivo",
			"pagina", p.String(), "escritos", n, "esperados", f.readBytes)
		return fmt.Errorf("%s: se escribieron %d de %d bytes al archivo", p, n, f.readBytes)
	}
	pt.SetDirty(p.VA, false)
	p.space.metrics.add(&p.space.metrics.writeBacks, "Escritura de página al archivo")
	return nil
}

// Mmap mapea length bytes de file desde offset en addr. Las páginas se leen
// recién al tocarlas.
func (s *Space) Mmap(addr uintptr, length int, writable bool, file *filesys.File, offset int64) (uintptr, error) {
	if file == nil {
		return 0, fmt.Errorf("%w: archivo nulo", ErrBadMapping)
	}
	if addr == 0 || PgOfs(addr) != 0 || offset < 0 || offset%PageSize != 0 {
		return 0, fmt.Errorf("%w: dirección %#x u offset %d desalineados", ErrBadMapping, addr, offset)
	}
	if length <= 0 {
		return 0, fmt.Errorf("%w: largo %d", ErrBadMapping, length)
	}
	fileLen := file.Length()
	if fileLen == 0 || offset >= fileLen {
		return 0, fmt.Errorf("%w: archivo vacío o offset fuera del archivo", ErrBadMapping)
	}
	end := addr + PgRoundUp(uintptr(length))
	// La pila no tiene zona reservada: sólo se rechazan sus páginas ya
	// creadas, igual que cualquier otra superposición.
	if end < addr || !IsUserVaddr(end-1) {
		return 0, fmt.Errorf("%w: [%#x, %#x) fuera del espacio de usuario", ErrBadMapping, addr, end)
	}

	reopened, err := file.Reopen()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadMapping, err)
	}
	region := &mmapRegion{file: reopened, start: addr}

	readTotal := int64(length)
	if rest := fileLen - offset; rest < readTotal {
		readTotal = rest
	}

	s.vm.lock.Lock()
	defer s.vm.lock.Unlock()
	for va := addr; va < end; va += PageSize {
		if s.spt.find(va) != nil {
			reopened.Close()
			return 0, fmt.Errorf("%w: %#x ya está mapeada", ErrBadMapping, va)
		}
	}
	off := offset
	for va := addr; va < end; va += PageSize {
		read := PageSize
		if readTotal < PageSize {
			read = int(readTotal)
		}
		readTotal -= int64(read)
		aux := &fileAux{region: region, offset: off, readBytes: read, zeroBytes: PageSize - read}
		s.spt.insert(s.newUninit(TypeFile, va, writable, nil, aux))
		region.pages++
		off += PageSize
	}
	s.regions[addr] = region
	utils.Logger().Info(fmt.Sprintf("## PID: %d - Mmap %#x - Páginas: %d", s.pid, addr, region.pages))
	return addr, nil
}

// Munmap deshace el mapeo que empieza en addr, escribiendo al archivo las
// páginas sucias.
func (s *Space) Munmap(addr uintptr) error {
	s.vm.lock.Lock()
	defer s.vm.lock.Unlock()
	region, ok := s.regions[addr]
	if !ok {
		return fmt.Errorf("%w: no hay mapeo en %#x", ErrBadMapping, addr)
	}
	s.unmapRegionLocked(region)
	utils.Logger().Info(fmt.Sprintf("## PID: %d - Munmap %#x", s.pid, addr))
	return nil
}

func (s *Space) unmapRegionLocked(region *mmapRegion) {
	for i := 0; i < region.pages; i++ {
		if p := s.spt.find(region.start + uintptr(i)*PageSize); p != nil {
			s.removeLocked(p)
		}
	}
	region.file.Close()
	delete(s.regions, region.start)
}

// MappingHead devuelve la primera página del mapeo de archivo al que
// pertenece p, o nil si p no es de un mapeo. Se usa dentro de SPT.Range.
func MappingHead(p *Page) *Page {
	var r *mmapRegion
	switch ops := p.ops.(type) {
	case *filePage:
		r = ops.region
	case *uninitPage:
		if fa, ok := ops.aux.(*fileAux); ok {
			r = fa.region
		}
	}
	if r == nil {
		return nil
	}
	return p.space.spt.find(r.start)
}

// Mappings devuelve las direcciones de inicio de los mapeos de archivos.
func (s *Space) Mappings() []uintptr {
	s.vm.lock.Lock()
	defer s.vm.lock.Unlock()
	out := make([]uintptr, 0, len(s.regions))
	for a := range s.regions {
		out = append(out, a)
	}
	return out
}
