package vm

import (
	"bytes"
	"errors"
	"testing"
)

func TestForkCopyOnWrite(t *testing.T) {
	v := newTestVM(t, 4, 4, PolicyFIFO)
	parent := v.NewSpace(1)
	if err := parent.AllocPage(TypeAnon, base, true); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, parent, base, []byte("padre"))

	child := v.NewSpace(2)
	if err := parent.Fork(child); err != nil {
		t.Fatal(err)
	}
	pp := parent.SPT().Find(base)
	cp := child.SPT().Find(base)
	if pp.Frame() == nil || pp.Frame() != cp.Frame() || pp.Frame().Refs() != 2 {
		t.Fatal("el hijo no comparte el marco del padre")
	}
	infos, _ := v.Frames().Snapshot()
	if len(infos) != 1 || len(infos[0].Owners) != 2 {
		t.Fatalf("tabla de marcos = %+v", infos)
	}

	if got := mustRead(t, child, base, 5); string(got) != "padre" {
		t.Fatalf("el hijo lee %q", got)
	}
	mustWrite(t, child, base, []byte("hijo!"))
	if got := mustRead(t, parent, base, 5); string(got) != "padre" {
		t.Fatalf("la escritura del hijo se vio en el padre: %q", got)
	}
	if got := mustRead(t, child, base, 5); string(got) != "hijo!" {
		t.Fatalf("el hijo lee %q", got)
	}
	if pp.Frame() == cp.Frame() || pp.Frame().Refs() != 1 || cp.Frame().Refs() != 1 {
		t.Fatal("la copia no separó los marcos")
	}
	if m := child.Metricas(); m.CopiasCOW != 1 {
		t.Fatalf("métricas del hijo = %+v", m)
	}

	// El padre quedó único dueño: escribe sin copiar.
	old := pp.Frame()
	mustWrite(t, parent, base, []byte("otro!"))
	if pp.Frame() != old {
		t.Fatal("se copió un marco sin compartir")
	}
	if m := parent.Metricas(); m.ReusosCOW != 1 || m.CopiasCOW != 0 {
		t.Fatalf("métricas del padre = %+v", m)
	}
}

func TestForkSharesSwapSlots(t *testing.T) {
	v := newTestVM(t, 1, 4, PolicyFIFO)
	parent := v.NewSpace(1)
	a, b := base, base+PageSize
	for _, va := range []uintptr{a, b} {
		if err := parent.AllocPage(TypeAnon, va, true); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(t, parent, a, fill('A'))
	mustWrite(t, parent, b, fill('B'))
	slot := Slot(parent.SPT().Find(a))
	if slot < 0 {
		t.Fatal("la página A no fue a swap")
	}

	child := v.NewSpace(2)
	if err := parent.Fork(child); err != nil {
		t.Fatal(err)
	}
	if v.Swap().Refs(slot) != 2 {
		t.Fatalf("refs del slot = %d", v.Swap().Refs(slot))
	}

	checks := []struct {
		s    *Space
		va   uintptr
		want byte
	}{
		{child, a, 'A'},
		{parent, a, 'A'},
		{child, b, 'B'},
		{parent, b, 'B'},
		{child, a, 'A'},
	}
	for _, c := range checks {
		if got := mustRead(t, c.s, c.va, PageSize); !bytes.Equal(got, fill(c.want)) {
			t.Fatalf("PID %d en %#x no ve %q", c.s.PID(), c.va, c.want)
		}
	}

	parent.Destroy()
	child.Destroy()
	if v.Swap().Used() != 0 || v.PhysMem().FreeFrames() != 1 {
		t.Fatalf("quedaron recursos: slots=%d marcos libres=%d", v.Swap().Used(), v.PhysMem().FreeFrames())
	}
}

type countingAux struct {
	val      byte
	released *int
}

func (a *countingAux) Clone() Aux {
	c := *a
	return &c
}

func (a *countingAux) Release() { *a.released++ }

func fillFromAux(p *Page, kva []byte, aux Aux) error {
	a := aux.(*countingAux)
	for i := range kva {
		kva[i] = a.val
	}
	return nil
}

func TestForkClonesLazyPages(t *testing.T) {
	v := newTestVM(t, 4, 4, PolicyFIFO)
	parent := v.NewSpace(1)
	released := 0
	aux := &countingAux{val: 'z', released: &released}
	if err := parent.AllocWithInitializer(TypeAnon, base, true, fillFromAux, aux); err != nil {
		t.Fatal(err)
	}
	if err := parent.AllocWithInitializer(TypeAnon, base+PageSize, true, fillFromAux, &countingAux{val: 'y', released: &released}); err != nil {
		t.Fatal(err)
	}
	if got := PageType(parent.SPT().Find(base)); got != TypeAnon {
		t.Fatalf("PageType = %s", got)
	}

	child := v.NewSpace(2)
	if err := parent.Fork(child); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, child, base, 1); got[0] != 'z' {
		t.Fatalf("el hijo lee %q", got)
	}
	if released != 1 {
		t.Fatalf("released = %d", released)
	}
	if got := mustRead(t, parent, base, 1); got[0] != 'z' {
		t.Fatalf("el padre lee %q", got)
	}
	if child.SPT().Find(base).Frame() == parent.SPT().Find(base).Frame() {
		t.Fatal("las páginas diferidas del padre y del hijo comparten marco")
	}
	if m := parent.Metricas(); m.CargasDiferidas != 1 {
		t.Fatalf("métricas del padre = %+v", m)
	}

	// Las páginas nunca tocadas sueltan su aux al destruirse.
	parent.Destroy()
	child.Destroy()
	if released != 4 {
		t.Fatalf("released = %d", released)
	}
}

func TestKernelCopyOutBreaksCOW(t *testing.T) {
	v := newTestVM(t, 4, 4, PolicyFIFO)
	parent := v.NewSpace(1)
	if err := parent.AllocPage(TypeAnon, base, true); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, parent, base, []byte("padre"))
	child := v.NewSpace(2)
	if err := parent.Fork(child); err != nil {
		t.Fatal(err)
	}

	if err := child.CopyOut(base, []byte("kern!")); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, parent, base, 5); string(got) != "padre" {
		t.Fatalf("la copia del kernel se vio en el padre: %q", got)
	}
	buf := make([]byte, 5)
	if err := child.CopyIn(buf, base); err != nil || string(buf) != "kern!" {
		t.Fatalf("CopyIn = %q, %v", buf, err)
	}
	if m := child.Metricas(); m.CopiasCOW != 1 {
		t.Fatalf("métricas del hijo = %+v", m)
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"sin página", child.CopyIn(buf, base+PageSize), ErrSegfault},
		{"kernel", child.CopyOut(KernBase-2, []byte("abcd")), ErrBadAddress},
		// Sin trap frame la pila no crece.
		{"bajo la pila", child.CopyOut(UserStack-8, []byte("x")), ErrSegfault},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, se esperaba %v", tt.name, tt.err, tt.want)
		}
	}
	if m := child.Metricas(); m.CrecimientoPila != 0 {
		t.Fatalf("la pila creció desde el kernel: %+v", m)
	}
}
