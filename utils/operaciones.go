package utils

import (
	"time"
)

// AplicarRetardo aplica un retardo simulado y lo registra
func AplicarRetardo(operacion string, duracionMs int) {
	if duracionMs <= 0 {
		return
	}
	Logger().Debug("Aplicando retardo", "operación", operacion, "duración_ms", duracionMs)
	time.Sleep(time.Duration(duracionMs) * time.Millisecond)
	Logger().Debug("Retardo completado", "operación", operacion)
}

// ExtraerEntero extrae un campo numérico de los datos de un mensaje
func ExtraerEntero(msg *Mensaje, campo string, valorPorDefecto int) int {
	if datosMap, ok := msg.Datos.(map[string]interface{}); ok {
		if valor, ok := datosMap[campo].(float64); ok {
			return int(valor)
		}
	}
	return valorPorDefecto
}
