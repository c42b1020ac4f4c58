package vm

import "fmt"

// uninitPage es una página que todavía no se cargó. En el primer fallo se
// convierte en la variante target y corre init.
type uninitPage struct {
	target Type
	init   Initializer
	aux    Aux
}

func (u *uninitPage) kind() Type { return TypeUninit }

func (u *uninitPage) swapIn(p *Page, kva []byte) error {
	var ops pageOps
	switch u.target.Base() {
	case TypeAnon:
		ops = &anonPage{slot: -1}
	case TypeFile:
		fa, ok := u.aux.(*fileAux)
		if !ok {
			return fmt.Errorf("%s: página de archivo sin datos de mapeo", p)
		}
		ops = &filePage{region: fa.region, offset: fa.offset, readBytes: fa.readBytes, zeroBytes: fa.zeroBytes}
	default:
		return fmt.Errorf("%s: tipo destino inválido %s", p, u.target)
	}

	p.ops = ops
	var err error
	switch {
	case u.init != nil:
		err = u.init(p, kva, u.aux)
	case u.target.Base() == TypeFile:
		err = ops.swapIn(p, kva)
	}
	if err != nil {
		p.ops = u
		return err
	}
	if u.init != nil || u.target.Base() == TypeFile {
		p.space.metrics.add(&p.space.metrics.lazyLoads, "Carga diferida")
	}
	if r, ok := u.aux.(Releaser); ok {
		r.Release()
	}
	return nil
}

func (u *uninitPage) swapOut(p *Page) error {
	return fmt.Errorf("%s: una página sin inicializar no tiene marco", p)
}

func (u *uninitPage) destroy(p *Page) {
	if r, ok := u.aux.(Releaser); ok {
		r.Release()
	}
}
