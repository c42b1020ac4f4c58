// Package filesys es el sistema de archivos mínimo que usan el cargador de
// programas y mmap: inodos en memoria y archivos abiertos con posición.
package filesys

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

var (
	ErrNotFound = errors.New("archivo inexistente")
	ErrExists   = errors.New("el archivo ya existe")
	ErrClosed   = errors.New("archivo cerrado")
)

// LockFactory crea el lock de cada inodo. Dentro del kernel debe ser un lock
// del planificador; un sync.Mutex bloquearía el CPU entero.
type LockFactory func(nombre string) sync.Locker

// FS es el registro de inodos por nombre.
type FS struct {
	mu      sync.Mutex
	newLock LockFactory
	inodes  map[string]*Inode
}

// New crea un sistema de archivos vacío. Con newLock nil usa sync.Mutex.
func New(newLock LockFactory) *FS {
	if newLock == nil {
		newLock = func(string) sync.Locker { return &sync.Mutex{} }
	}
	return &FS{newLock: newLock, inodes: make(map[string]*Inode)}
}

// Create crea (o reemplaza) el archivo nombre con el contenido data.
func (fs *FS) Create(nombre string, data []byte) *Inode {
	in := &Inode{
		name: nombre,
		lock: fs.newLock("inodo " + nombre),
		data: append([]byte(nil), data...),
	}
	fs.mu.Lock()
	fs.inodes[nombre] = in
	fs.mu.Unlock()
	utils.Logger().Debug("Archivo creado", "nombre", nombre, "tamaño", len(data))
	return in
}

// CreateFile crea un archivo de size bytes en cero. A diferencia de Create,
// falla si nombre ya existe.
func (fs *FS) CreateFile(nombre string, size int) error {
	if nombre == "" || size < 0 {
		return fmt.Errorf("nombre %q o tamaño %d inválidos", nombre, size)
	}
	fs.mu.Lock()
	if _, ok := fs.inodes[nombre]; ok {
		fs.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, nombre)
	}
	fs.inodes[nombre] = &Inode{
		name: nombre,
		lock: fs.newLock("inodo " + nombre),
		data: make([]byte, size),
	}
	fs.mu.Unlock()
	utils.Logger().Debug("Archivo creado", "nombre", nombre, "tamaño", size)
	return nil
}

// Remove borra nombre del directorio. Los archivos ya abiertos siguen
// usando el inodo hasta cerrarse.
func (fs *FS) Remove(nombre string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.inodes[nombre]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, nombre)
	}
	delete(fs.inodes, nombre)
	return nil
}

// Open abre el archivo nombre.
func (fs *FS) Open(nombre string) (*File, error) {
	fs.mu.Lock()
	in, ok := fs.inodes[nombre]
	fs.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nombre)
	}
	return in.Open(), nil
}

// Lookup devuelve el inodo de nombre, o nil.
func (fs *FS) Lookup(nombre string) *Inode {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.inodes[nombre]
}

// Names devuelve los nombres de los archivos, ordenados.
func (fs *FS) Names() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, 0, len(fs.inodes))
	for n := range fs.inodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// InodeStats cuenta la E/S de un inodo.
type InodeStats struct {
	ReadCalls    int64 `json:"lecturas"`
	BytesRead    int64 `json:"bytes_leidos"`
	WriteCalls   int64 `json:"escrituras"`
	BytesWritten int64 `json:"bytes_escritos"`
}

// Inode es el contenido de un archivo. Las lecturas y escrituras toman su
// lock durante toda la operación.
type Inode struct {
	name      string
	lock      sync.Locker
	data      []byte
	openCnt   int
	denyWrite int
	stats     InodeStats
}

func (in *Inode) Name() string { return in.name }

// Open devuelve un archivo nuevo sobre el inodo, en la posición 0.
func (in *Inode) Open() *File {
	in.lock.Lock()
	in.openCnt++
	in.lock.Unlock()
	return &File{inode: in}
}

func (in *Inode) Length() int64 {
	in.lock.Lock()
	defer in.lock.Unlock()
	return int64(len(in.data))
}

func (in *Inode) OpenCount() int {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.openCnt
}

func (in *Inode) Stats() InodeStats {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.stats
}

func (in *Inode) readAt(buf []byte, off int64) int {
	in.lock.Lock()
	defer in.lock.Unlock()
	in.stats.ReadCalls++
	if off < 0 || off >= int64(len(in.data)) {
		return 0
	}
	n := copy(buf, in.data[off:])
	in.stats.BytesRead += int64(n)
	return n
}

func (in *Inode) writeAt(buf []byte, off int64) int {
	in.lock.Lock()
	defer in.lock.Unlock()
	if in.denyWrite > 0 || off < 0 {
		return 0
	}
	in.stats.WriteCalls++
	if end := off + int64(len(buf)); end > int64(len(in.data)) {
		grown := make([]byte, end)
		copy(grown, in.data)
		in.data = grown
	}
	n := copy(in.data[off:], buf)
	in.stats.BytesWritten += int64(n)
	return n
}
