package devices

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// SectorSize es el tamaño de sector de los discos.
const SectorSize = 512

// ErrSectorRange se devuelve al acceder a un sector inexistente.
var ErrSectorRange = errors.New("sector fuera de rango")

// Disk es un dispositivo de bloques de sectores de SectorSize bytes.
type Disk interface {
	Read(sector uint32, buf []byte) error
	Write(sector uint32, buf []byte) error
	// Size devuelve la cantidad de sectores.
	Size() uint32
}

// DiskStats cuenta los accesos a un disco.
type DiskStats struct {
	Reads  int64 `json:"lecturas"`
	Writes int64 `json:"escrituras"`
}

func checkAccess(sector, size uint32, buf []byte) error {
	if sector >= size {
		return fmt.Errorf("%w: %d de %d", ErrSectorRange, sector, size)
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("buffer de %d bytes, se esperaban %d", len(buf), SectorSize)
	}
	return nil
}

// MemDisk es un disco en memoria.
type MemDisk struct {
	mu    sync.Mutex
	data  []byte
	stats DiskStats
}

func NewMemDisk(sectors uint32) *MemDisk {
	return &MemDisk{data: make([]byte, int(sectors)*SectorSize)}
}

func (d *MemDisk) Size() uint32 { return uint32(len(d.data) / SectorSize) }

func (d *MemDisk) Read(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.Size(), buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(buf, d.data[int(sector)*SectorSize:])
	d.stats.Reads++
	return nil
}

func (d *MemDisk) Write(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.Size(), buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.data[int(sector)*SectorSize:], buf)
	d.stats.Writes++
	return nil
}

func (d *MemDisk) Stats() DiskStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// FileDisk es un disco respaldado por un archivo del host, como el swapfile.
type FileDisk struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	sectors uint32
	retardo int
	stats   DiskStats
}

// AbrirFileDisk crea (o trunca) el archivo en path con sectors sectores.
// retardoMs simula la latencia de cada acceso.
func AbrirFileDisk(path string, sectors uint32, retardoMs int) (*FileDisk, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error abriendo disco %s: %w", path, err)
	}
	if err := file.Truncate(int64(sectors) * SectorSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("error dimensionando disco %s: %w", path, err)
	}
	utils.Logger().Info("Disco inicializado", "archivo", path, "sectores", sectors)
	return &FileDisk{file: file, path: path, sectors: sectors, retardo: retardoMs}, nil
}

func (d *FileDisk) Size() uint32 { return d.sectors }

func (d *FileDisk) Read(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.sectors, buf); err != nil {
		return err
	}
	utils.AplicarRetardo("lectura de disco", d.retardo)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("error leyendo sector %d de %s: %w", sector, d.path, err)
	}
	d.stats.Reads++
	return nil
}

func (d *FileDisk) Write(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.sectors, buf); err != nil {
		return err
	}
	utils.AplicarRetardo("escritura de disco", d.retardo)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("error escribiendo sector %d de %s: %w", sector, d.path, err)
	}
	d.stats.Writes++
	return nil
}

func (d *FileDisk) Stats() DiskStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close cierra y borra el archivo del disco.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.file.Close(); err != nil {
		return err
	}
	return os.Remove(d.path)
}
