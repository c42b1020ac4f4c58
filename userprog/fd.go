package userprog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/LosCuervosXeneizes/kernelvm/filesys"
)

// 0 y 1 son la consola.
const (
	StdinFD  = 0
	StdoutFD = 1

	minFD = 2
	maxFD = 512
)

var (
	ErrBadFD        = errors.New("descriptor de archivo inválido")
	ErrTooManyFiles = errors.New("no quedan descriptores libres")
)

type consola int

const (
	noConsola consola = iota
	entrada
	salida
)

// descriptor es aquello a lo que apunta un fd. Después de DUP2 varios fd
// comparten el mismo descriptor y el archivo se cierra con el último.
type descriptor struct {
	consola consola
	file    *filesys.File
	refs    int
}

func newFDTable() map[int]*descriptor {
	return map[int]*descriptor{
		StdinFD:  {consola: entrada, refs: 1},
		StdoutFD: {consola: salida, refs: 1},
	}
}

func validFD(fd int) bool { return fd >= 0 && fd < maxFD }

// allocFD devuelve el menor descriptor libre a partir de minFD.
func (p *Process) allocFD() (int, error) {
	for fd := minFD; fd < maxFD; fd++ {
		if _, usado := p.fds[fd]; !usado {
			return fd, nil
		}
	}
	return -1, ErrTooManyFiles
}

// Open abre el archivo nombre y devuelve su descriptor.
func (p *Process) Open(nombre string) (int, error) {
	fd, err := p.allocFD()
	if err != nil {
		return -1, err
	}
	f, err := p.m.fs.Open(nombre)
	if err != nil {
		return -1, err
	}
	p.fds[fd] = &descriptor{file: f, refs: 1}
	return fd, nil
}

// File devuelve el archivo abierto en fd. La consola no es un archivo.
func (p *Process) File(fd int) (*filesys.File, error) {
	d, ok := p.fds[fd]
	if !ok || d.file == nil {
		return nil, fmt.Errorf("%w: %d", ErrBadFD, fd)
	}
	return d.file, nil
}

func (p *Process) Close(fd int) error {
	d, ok := p.fds[fd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadFD, fd)
	}
	delete(p.fds, fd)
	d.refs--
	if d.refs > 0 || d.file == nil {
		return nil
	}
	return d.file.Close()
}

// Dup2 hace que newfd apunte al mismo descriptor que oldfd, cerrando antes lo
// que hubiera en newfd.
func (p *Process) Dup2(oldfd, newfd int) (int, error) {
	if !validFD(oldfd) || !validFD(newfd) {
		return -1, fmt.Errorf("%w: %d -> %d", ErrBadFD, oldfd, newfd)
	}
	d, ok := p.fds[oldfd]
	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrBadFD, oldfd)
	}
	if oldfd == newfd {
		return newfd, nil
	}
	if _, usado := p.fds[newfd]; usado {
		p.Close(newfd)
	}
	d.refs++
	p.fds[newfd] = d
	return newfd, nil
}

func (p *Process) closeAll() {
	fds := make([]int, 0, len(p.fds))
	for fd := range p.fds {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	for _, fd := range fds {
		p.Close(fd)
	}
}

// forkFDs copia la tabla de descriptores de p en c. Los fd que comparten
// descriptor en p lo siguen compartiendo en c.
func (p *Process) forkFDs(c *Process) error {
	copias := make(map[*descriptor]*descriptor, len(p.fds))
	c.fds = make(map[int]*descriptor, len(p.fds))
	for fd, d := range p.fds {
		nd, ok := copias[d]
		if !ok {
			nd = &descriptor{consola: d.consola}
			if d.file != nil {
				dup, err := d.file.Duplicate()
				if err != nil {
					return fmt.Errorf("duplicando fd %d: %w", fd, err)
				}
				nd.file = dup
			}
			copias[d] = nd
		}
		nd.refs++
		c.fds[fd] = nd
	}
	return nil
}
