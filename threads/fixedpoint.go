package threads

// Fixed es un real en punto fijo 17.14.
type Fixed int32

const fixedF = 1 << 14

// FixedOne es 1.0 en punto fijo.
const FixedOne Fixed = fixedF

// IntToFixed convierte un entero a punto fijo.
func IntToFixed(n int) Fixed { return Fixed(n * fixedF) }

// Trunc convierte a entero redondeando hacia cero.
func (x Fixed) Trunc() int { return int(x) / fixedF }

// Round convierte a entero redondeando al más cercano.
func (x Fixed) Round() int {
	if x >= 0 {
		return (int(x) + fixedF/2) / fixedF
	}
	return (int(x) - fixedF/2) / fixedF
}

func (x Fixed) Add(y Fixed) Fixed  { return x + y }
func (x Fixed) Sub(y Fixed) Fixed  { return x - y }
func (x Fixed) AddInt(n int) Fixed { return x + IntToFixed(n) }
func (x Fixed) SubInt(n int) Fixed { return x - IntToFixed(n) }
func (x Fixed) MulInt(n int) Fixed { return Fixed(int64(x) * int64(n)) }
func (x Fixed) DivInt(n int) Fixed { return Fixed(int64(x) / int64(n)) }

func (x Fixed) Mul(y Fixed) Fixed { return Fixed(int64(x) * int64(y) / fixedF) }
func (x Fixed) Div(y Fixed) Fixed { return Fixed(int64(x) * fixedF / int64(y)) }

// Times100 devuelve 100*x redondeado, el formato de get_load_avg/get_recent_cpu.
func (x Fixed) Times100() int {
	v := int64(x) * 100
	if v >= 0 {
		return int((v + fixedF/2) / fixedF)
	}
	return int((v - fixedF/2) / fixedF)
}
