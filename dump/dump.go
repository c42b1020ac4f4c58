// Package dump vuelca la memoria de los procesos a disco: el contenido de sus
// páginas residentes y un mapa en PNG de la tabla de marcos.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

// EscribirDump crea dir/<pid>-<timestamp>.dmp con las páginas residentes del
// espacio, en orden de dirección virtual. Devuelve la ruta del archivo.
func EscribirDump(dir string, space *vm.Space) (string, error) {
	pid := space.PID()
	nombreArchivo := fmt.Sprintf("%d-%s.dmp", pid, time.Now().Format("20060102-150405.000"))
	rutaCompleta := filepath.Join(dir, nombreArchivo)

	var contenido []byte
	paginas := 0
	space.SPT().Range(func(p *vm.Page) bool {
		if f := p.Frame(); f != nil {
			contenido = append(contenido, f.Data()...)
			paginas++
		}
		return true
	})
	if paginas == 0 {
		utils.LoggerError().Error("Proceso sin páginas residentes", "pid", pid)
		return "", fmt.Errorf("el proceso %d no tiene páginas residentes", pid)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		utils.LoggerError().Error("Error creando directorio dump", "error", err)
		return "", fmt.Errorf("error al crear directorio para dumps: %w", err)
	}
	if err := os.WriteFile(rutaCompleta, contenido, 0644); err != nil {
		utils.LoggerError().Error("Error escribiendo dump", "archivo", rutaCompleta, "error", err)
		return "", fmt.Errorf("error al escribir el dump: %w", err)
	}

	utils.Logger().Info("Memory dump completado", "pid", pid, "archivo", nombreArchivo, "paginas", paginas)
	return rutaCompleta, nil
}
