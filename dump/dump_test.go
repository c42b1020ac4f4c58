package dump

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LosCuervosXeneizes/kernelvm/devices"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

func TestEscribirDump(t *testing.T) {
	v, err := vm.New(vm.Config{Frames: 4}, devices.NewMemDisk(8*vm.SectorsPerPage), nil)
	if err != nil {
		t.Fatal(err)
	}
	s := v.NewSpace(7)
	const base uintptr = 0x1000000
	for i := uintptr(0); i < 3; i++ {
		if err := s.AllocPage(vm.TypeAnon, base+i*vm.PageSize, true); err != nil {
			t.Fatal(err)
		}
	}
	// Sólo se tocan la primera y la tercera página.
	if err := s.Write(base+2*vm.PageSize, []byte("tercera"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(base, []byte("primera"), 0); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "dumps")
	ruta, err := EscribirDump(dir, s)
	if err != nil {
		t.Fatal(err)
	}
	nombre := filepath.Base(ruta)
	if !strings.HasPrefix(nombre, "7-") || !strings.HasSuffix(nombre, ".dmp") {
		t.Fatalf("nombre del dump = %q", nombre)
	}
	data, err := os.ReadFile(ruta)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2*vm.PageSize {
		t.Fatalf("tamaño del dump = %d", len(data))
	}
	if !bytes.HasPrefix(data, []byte("primera")) || !bytes.HasPrefix(data[vm.PageSize:], []byte("tercera")) {
		t.Fatal("el dump no está en orden de dirección")
	}

	if _, err := EscribirDump(dir, v.NewSpace(8)); err == nil {
		t.Fatal("dump de un proceso sin páginas residentes")
	}
}

func TestRenderFrames(t *testing.T) {
	frames := []vm.FrameInfo{
		{Index: 0, Refs: 1},
		{Index: 2, Refs: 2},
		{Index: 3, Refs: 1, Pinned: true},
	}
	st := vm.FrameTableStats{Total: 20, Used: 3, Free: 17, Policy: "CLOCK"}
	path := filepath.Join(t.TempDir(), "marcos.png")
	if err := RenderFrames(path, frames, st); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2*margen+columnas*tamCelda || b.Dy() != 2*margen+encabezado+2*tamCelda {
		t.Fatalf("tamaño de la imagen = %v", b)
	}

	tests := []struct {
		idx    int
		estado int
	}{
		{0, MarcoOcupado},
		{1, MarcoLibre},
		{2, MarcoCompartido},
		{3, MarcoFijado},
		{19, MarcoLibre},
	}
	for _, tt := range tests {
		x, y := posicion(tt.idx)
		r, g, b, _ := img.At(int(x)+tamCelda/2, int(y)+tamCelda/2).RGBA()
		want := colores[tt.estado]
		got := [3]float64{float64(r) / 0xffff, float64(g) / 0xffff, float64(b) / 0xffff}
		for i := range got {
			if d := got[i] - want[i]; d > 0.02 || d < -0.02 {
				t.Errorf("marco %d: color %v, se esperaba %v", tt.idx, got, want)
				break
			}
		}
	}
}
