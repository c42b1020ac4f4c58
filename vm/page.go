package vm

import "fmt"

// Type es el tipo de una página.
type Type int

const (
	TypeUninit Type = iota
	TypeAnon
	TypeFile

	// MarkerStack marca la página como pila. Se combina con TypeAnon.
	MarkerStack Type = 1 << 3
)

// Base devuelve el tipo sin marcas.
func (t Type) Base() Type { return t & 7 }

func (t Type) String() string {
	var s string
	switch t.Base() {
	case TypeUninit:
		s = "UNINIT"
	case TypeAnon:
		s = "ANON"
	case TypeFile:
		s = "FILE"
	default:
		s = fmt.Sprintf("Type(%d)", int(t.Base()))
	}
	if t&MarkerStack != 0 {
		s += "|STACK"
	}
	return s
}

// Aux son los datos de inicialización diferida de una página. Clone hace una
// copia profunda para el fork.
type Aux interface {
	Clone() Aux
}

// Releaser lo implementan los Aux que tienen recursos propios (por ejemplo un
// archivo abierto). Se llama cuando la página deja de necesitarlos.
type Releaser interface {
	Release()
}

// Initializer completa el contenido de una página recién respaldada por un
// marco. kva es la memoria del marco.
type Initializer func(p *Page, kva []byte, aux Aux) error

// pageOps son las operaciones de cada variante de página.
type pageOps interface {
	kind() Type
	// swapIn llena kva con el contenido de la página.
	swapIn(p *Page, kva []byte) error
	// swapOut guarda el contenido del marco de p y lo desmapea.
	swapOut(p *Page) error
	// destroy libera los recursos de la variante.
	destroy(p *Page)
}

// Page es una página virtual de un proceso.
type Page struct {
	VA       uintptr
	Writable bool

	marker Type
	space  *Space
	frame  *Frame
	ops    pageOps
}

// Kind devuelve el tipo actual de la página.
func (p *Page) Kind() Type { return p.ops.kind() | p.marker }

func (p *Page) Space() *Space { return p.space }

// Frame devuelve el marco de la página, o nil si no está residente.
func (p *Page) Frame() *Frame { return p.frame }

func (p *Page) IsStack() bool { return p.marker&MarkerStack != 0 }

// PageType devuelve el tipo que tendrá la página: para una página sin
// inicializar, el tipo al que se va a convertir.
func PageType(p *Page) Type {
	if u, ok := p.ops.(*uninitPage); ok {
		return u.target | p.marker
	}
	return p.Kind()
}

// unmap saca la página de la tabla de páginas de su espacio. No toca el marco.
func (p *Page) unmap() {
	p.space.pt.Unmap(p.VA)
}

func (p *Page) String() string {
	return fmt.Sprintf("página %#x (%s) de %d", p.VA, p.Kind(), p.space.pid)
}
