package dump

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

const (
	columnas   = 16
	tamCelda   = 24
	margen     = 8
	encabezado = 20
)

// Estado de un marco en el mapa.
const (
	MarcoLibre = iota
	MarcoOcupado
	MarcoCompartido
	MarcoFijado
)

// colores por estado, en RGB de 0 a 1.
var colores = [...][3]float64{
	MarcoLibre:      {0.85, 0.85, 0.85},
	MarcoOcupado:    {0.2, 0.6, 0.3},
	MarcoCompartido: {0.95, 0.6, 0.1},
	MarcoFijado:     {0.8, 0.1, 0.1},
}

func estadoMarco(fi vm.FrameInfo) int {
	switch {
	case fi.Pinned:
		return MarcoFijado
	case fi.Refs > 1:
		return MarcoCompartido
	case fi.Refs == 1:
		return MarcoOcupado
	}
	return MarcoLibre
}

// posicion devuelve la esquina superior izquierda de la celda del marco idx.
func posicion(idx int) (float64, float64) {
	x := margen + (idx%columnas)*tamCelda
	y := margen + encabezado + (idx/columnas)*tamCelda
	return float64(x), float64(y)
}

// Render dibuja la tabla de marcos: una celda por marco físico, coloreada
// según esté libre, ocupada, compartida por copy-on-write o fijada.
func Render(frames []vm.FrameInfo, st vm.FrameTableStats) image.Image {
	filas := (st.Total + columnas - 1) / columnas
	if filas == 0 {
		filas = 1
	}
	w := 2*margen + columnas*tamCelda
	h := 2*margen + encabezado + filas*tamCelda
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	estados := make([]int, st.Total)
	for _, fi := range frames {
		if fi.Index >= 0 && fi.Index < st.Total {
			estados[fi.Index] = estadoMarco(fi)
		}
	}
	for i, e := range estados {
		x, y := posicion(i)
		c := colores[e]
		dc.DrawRectangle(x, y, tamCelda, tamCelda)
		dc.SetRGB(c[0], c[1], c[2])
		dc.FillPreserve()
		dc.SetRGB(0, 0, 0)
		dc.SetLineWidth(1)
		dc.Stroke()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("Marcos: %d/%d - Desalojos: %d - %s", st.Used, st.Total, st.Evictions, st.Policy),
		margen, margen+encabezado/2+4)
	return dc.Image()
}

// RenderFrames guarda el mapa de la tabla de marcos en path como PNG.
func RenderFrames(path string, frames []vm.FrameInfo, st vm.FrameTableStats) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error al crear directorio para el mapa de marcos: %w", err)
	}
	if err := gg.SavePNG(path, Render(frames, st)); err != nil {
		utils.LoggerError().Error("Error guardando el mapa de marcos", "archivo", path, "error", err)
		return fmt.Errorf("error al guardar el mapa de marcos: %w", err)
	}
	utils.Logger().Info("Mapa de marcos generado", "archivo", path, "marcos", st.Total, "usados", st.Used)
	return nil
}
