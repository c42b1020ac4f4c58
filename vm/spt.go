package vm

import (
	"fmt"
	"sort"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// SPT es la tabla de páginas suplementaria de un espacio: dirección virtual
// alineada a página -> Page. Los métodos exportados toman el lock de la VM.
type SPT struct {
	space *Space
	pages map[uintptr]*Page
}

func (t *SPT) find(va uintptr) *Page { return t.pages[PgRoundDown(va)] }

func (t *SPT) insert(p *Page) bool {
	if _, ok := t.pages[p.VA]; ok {
		return false
	}
	t.pages[p.VA] = p
	return true
}

// sorted devuelve las páginas ordenadas por dirección.
func (t *SPT) sorted() []*Page {
	out := make([]*Page, 0, len(t.pages))
	for _, p := range t.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VA < out[j].VA })
	return out
}

// Find busca la página que contiene va.
func (t *SPT) Find(va uintptr) *Page {
	t.space.vm.lock.Lock()
	defer t.space.vm.lock.Unlock()
	return t.find(va)
}

// Insert agrega p. Devuelve false si ya había una página en esa dirección.
func (t *SPT) Insert(p *Page) bool {
	t.space.vm.lock.Lock()
	defer t.space.vm.lock.Unlock()
	return t.insert(p)
}

// Remove destruye p y la saca de la tabla.
func (t *SPT) Remove(p *Page) {
	t.space.vm.lock.Lock()
	defer t.space.vm.lock.Unlock()
	t.space.removeLocked(p)
}

// Range recorre las páginas en orden de dirección hasta que fn devuelva
// false. fn corre con el lock de la VM tomado.
func (t *SPT) Range(fn func(p *Page) bool) {
	t.space.vm.lock.Lock()
	defer t.space.vm.lock.Unlock()
	for _, p := range t.sorted() {
		if !fn(p) {
			return
		}
	}
}

func (t *SPT) Len() int {
	t.space.vm.lock.Lock()
	defer t.space.vm.lock.Unlock()
	return len(t.pages)
}

// Kill destruye todas las páginas, escribiendo al archivo las páginas de
// archivo sucias, y cierra los mapeos.
func (t *SPT) Kill() {
	s := t.space
	s.vm.lock.Lock()
	defer s.vm.lock.Unlock()
	for _, r := range s.regions {
		s.unmapRegionLocked(r)
	}
	for _, p := range t.sorted() {
		s.removeLocked(p)
	}
	utils.Logger().Debug(fmt.Sprintf("## PID: %d - Tabla de páginas suplementaria destruida", s.pid))
}

// removeLocked destruye p: guarda lo que haga falta, suelta su marco y la saca
// de la tabla.
func (s *Space) removeLocked(p *Page) {
	p.ops.destroy(p)
	if f := p.frame; f != nil {
		p.unmap()
		s.vm.frames.unbindLocked(f, p)
	}
	delete(s.spt.pages, p.VA)
}

func (s *Space) newUninit(typ Type, va uintptr, writable bool, init Initializer, aux Aux) *Page {
	return &Page{
		VA:       va,
		Writable: writable,
		marker:   typ &^ 7,
		space:    s,
		ops:      &uninitPage{target: typ.Base(), init: init, aux: aux},
	}
}

// AllocWithInitializer registra una página sin cargar en va. En el primer
// fallo se convierte en typ y corre init con aux.
func (s *Space) AllocWithInitializer(typ Type, va uintptr, writable bool, init Initializer, aux Aux) error {
	if typ.Base() == TypeUninit {
		return fmt.Errorf("%w: tipo de página %s", ErrBadAddress, typ)
	}
	if PgOfs(va) != 0 || !IsUserVaddr(va) {
		return fmt.Errorf("%w: %#x", ErrBadAddress, va)
	}
	s.vm.lock.Lock()
	defer s.vm.lock.Unlock()
	if !s.spt.insert(s.newUninit(typ, va, writable, init, aux)) {
		return fmt.Errorf("%w: %#x ya está en uso", ErrBadAddress, va)
	}
	return nil
}

// AllocPage registra una página sin inicializador.
func (s *Space) AllocPage(typ Type, va uintptr, writable bool) error {
	return s.AllocWithInitializer(typ, va, writable, nil, nil)
}

// ClaimPage carga ya mismo la página de va.
func (s *Space) ClaimPage(va uintptr) error {
	p := s.spt.Find(va)
	if p == nil {
		return fmt.Errorf("%w: %#x sin página", ErrSegfault, va)
	}
	return s.claim(p)
}

// claim consigue un marco, carga la página y la mapea.
func (s *Space) claim(p *Page) error {
	lock := s.vm.lock
	lock.Lock()
	if p.frame != nil {
		if _, ok := s.pt.Lookup(p.VA); !ok {
			s.pt.Map(p.VA, p.frame, p.Writable && p.frame.Refs() == 1)
		}
		lock.Unlock()
		return nil
	}
	f, err := s.vm.frames.getLocked()
	lock.Unlock()
	if err != nil {
		return err
	}

	err = p.ops.swapIn(p, f.kva)

	lock.Lock()
	defer lock.Unlock()
	if err != nil {
		s.vm.frames.releaseLocked(f)
		return err
	}
	s.vm.frames.bindLocked(f, p)
	s.pt.Map(p.VA, f, p.Writable)
	f.pinned = false
	return nil
}
