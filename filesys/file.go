package filesys

// File es un archivo abierto: un inodo, una posición y el permiso de
// escritura denegado por este archivo.
type File struct {
	inode     *Inode
	pos       int64
	denyWrite bool
	closed    bool
}

func (f *File) Inode() *Inode { return f.inode }

// Read lee desde la posición actual y la avanza. Devuelve los bytes leídos,
// menos que len(buf) al llegar al final.
func (f *File) Read(buf []byte) int {
	n := f.ReadAt(buf, f.pos)
	f.pos += int64(n)
	return n
}

// ReadAt lee en off sin mover la posición.
func (f *File) ReadAt(buf []byte, off int64) int {
	if f.closed {
		return 0
	}
	return f.inode.readAt(buf, off)
}

// Write escribe en la posición actual y la avanza. Devuelve 0 si la escritura
// está denegada.
func (f *File) Write(buf []byte) int {
	n := f.WriteAt(buf, f.pos)
	f.pos += int64(n)
	return n
}

// WriteAt escribe en off sin mover la posición. El archivo crece si hace falta.
func (f *File) WriteAt(buf []byte, off int64) int {
	if f.closed {
		return 0
	}
	return f.inode.writeAt(buf, off)
}

func (f *File) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
}

func (f *File) Tell() int64 { return f.pos }

func (f *File) Length() int64 { return f.inode.Length() }

// Reopen abre el mismo inodo con un archivo nuevo en la posición 0.
func (f *File) Reopen() (*File, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.inode.Open(), nil
}

// Duplicate copia el archivo con su posición y su denegación de escritura.
func (f *File) Duplicate() (*File, error) {
	if f.closed {
		return nil, ErrClosed
	}
	nf := f.inode.Open()
	nf.pos = f.pos
	if f.denyWrite {
		nf.DenyWrite()
	}
	return nf, nil
}

// DenyWrite impide escribir el inodo hasta AllowWrite o Close. Se usa con los
// ejecutables en uso.
func (f *File) DenyWrite() {
	if f.denyWrite || f.closed {
		return
	}
	f.denyWrite = true
	in := f.inode
	in.lock.Lock()
	in.denyWrite++
	in.lock.Unlock()
}

func (f *File) AllowWrite() {
	if !f.denyWrite {
		return
	}
	f.denyWrite = false
	in := f.inode
	in.lock.Lock()
	in.denyWrite--
	in.lock.Unlock()
}

// Close cierra el archivo. Cerrarlo dos veces devuelve ErrClosed.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.AllowWrite()
	in := f.inode
	in.lock.Lock()
	in.openCnt--
	in.lock.Unlock()
	f.closed = true
	return nil
}
