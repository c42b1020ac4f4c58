package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/LosCuervosXeneizes/kernelvm/devices"
	"github.com/LosCuervosXeneizes/kernelvm/dump"
	"github.com/LosCuervosXeneizes/kernelvm/threads"
	"github.com/LosCuervosXeneizes/kernelvm/userprog"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

// registrarHandlers registra todos los manejadores HTTP
func (k *Kernel) registrarHandlers() {
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeHandshake), "default", k.HandlerHandshake)
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeHilos), "default", k.HandlerHilos)
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeEstadisticas), "default", k.HandlerEstadisticas)
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeMarcos), "default", k.HandlerMarcos)
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeSwap), "default", k.HandlerSwap)
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeMetricas), "default", k.HandlerMetricas)
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeMemoryDump), "default", k.HandlerMemoryDump)
	k.modulo.RegistrarHandler(fmt.Sprintf("%d", utils.MensajeMapaMarcos), "default", k.HandlerMapaMarcos)

	utils.Logger().Info("Handlers registrados correctamente")
}

func respuestaError(err error) map[string]interface{} {
	return map[string]interface{}{"status": "ERROR", "message": err.Error()}
}

func (k *Kernel) HandlerHandshake(msg *utils.Mensaje) (interface{}, error) {
	utils.Logger().Info("Handshake recibido", "origen", msg.Origen)
	return map[string]interface{}{"status": "OK", "message": "Handshake recibido", "modulo": "Kernel"}, nil
}

// HandlerHilos devuelve la foto de los hilos vivos.
func (k *Kernel) HandlerHilos(msg *utils.Mensaje) (interface{}, error) {
	var hilos []threads.ThreadInfo
	k.s.Observe(func(ts []threads.ThreadInfo, _ threads.Stats, _ int) {
		hilos = ts
	})
	utils.Logger().Debug("Hilos consultados", "origen", msg.Origen, "cantidad", len(hilos))
	return map[string]interface{}{"status": "OK", "hilos": hilos}, nil
}

func (k *Kernel) HandlerEstadisticas(msg *utils.Mensaje) (interface{}, error) {
	var st threads.Stats
	var loadAvg int
	k.s.Observe(func(_ []threads.ThreadInfo, s threads.Stats, la int) {
		st, loadAvg = s, la
	})
	respuesta := map[string]interface{}{
		"status":       "OK",
		"estadisticas": st,
		"load_avg":     loadAvg,
		"mlfqs":        k.s.MLFQS(),
		"ticks":        k.timer.Ticks(),
	}
	return respuesta, nil
}

// HandlerMarcos devuelve la tabla de marcos en orden de reemplazo.
func (k *Kernel) HandlerMarcos(msg *utils.Mensaje) (interface{}, error) {
	var marcos []vm.FrameInfo
	var st vm.FrameTableStats
	if err := k.enKernel(func() { marcos, st = k.vm.Frames().Snapshot() }); err != nil {
		return respuestaError(err), nil
	}
	return map[string]interface{}{"status": "OK", "marcos": marcos, "resumen": st}, nil
}

func (k *Kernel) HandlerSwap(msg *utils.Mensaje) (interface{}, error) {
	var usados int
	var disco devices.DiskStats
	if err := k.enKernel(func() {
		usados = k.vm.Swap().Used()
		disco = k.swap.Stats()
	}); err != nil {
		return respuestaError(err), nil
	}
	return map[string]interface{}{
		"status": "OK",
		"slots":  k.vm.Swap().Slots(),
		"usados": usados,
		"disco":  disco,
	}, nil
}

// HandlerMetricas devuelve las métricas de todos los procesos, o las del pid
// indicado en los datos.
func (k *Kernel) HandlerMetricas(msg *utils.Mensaje) (interface{}, error) {
	pid := utils.ExtraerEntero(msg, "pid", -1)
	var procesos []userprog.ProcessInfo
	if err := k.enKernel(func() { procesos = k.procs.Processes() }); err != nil {
		return respuestaError(err), nil
	}
	if pid < 0 {
		return map[string]interface{}{"status": "OK", "procesos": procesos}, nil
	}
	for _, p := range procesos {
		if p.PID == pid {
			return map[string]interface{}{"status": "OK", "procesos": []userprog.ProcessInfo{p}}, nil
		}
	}
	return respuestaError(fmt.Errorf("no existe el proceso %d", pid)), nil
}

// HandlerMemoryDump vuelca las páginas residentes del proceso pedido.
func (k *Kernel) HandlerMemoryDump(msg *utils.Mensaje) (interface{}, error) {
	pid := utils.ExtraerEntero(msg, "pid", -1)
	utils.Logger().Info(fmt.Sprintf("## PID: %d - Memory Dump solicitado", pid), "origen", msg.Origen)

	var ruta string
	var errDump error
	if err := k.enKernel(func() {
		space := k.vm.Space(pid)
		if space == nil {
			errDump = fmt.Errorf("no existe el proceso %d", pid)
			return
		}
		ruta, errDump = dump.EscribirDump(k.cfg.DumpPath, space)
	}); err != nil {
		return respuestaError(err), nil
	}
	if errDump != nil {
		utils.LoggerError().Error("Error en memory dump", "pid", pid, "error", errDump)
		return respuestaError(errDump), nil
	}
	return map[string]interface{}{"status": "OK", "archivo": ruta}, nil
}

// HandlerMapaMarcos guarda un PNG de la tabla de marcos en DUMP_PATH.
func (k *Kernel) HandlerMapaMarcos(msg *utils.Mensaje) (interface{}, error) {
	var marcos []vm.FrameInfo
	var st vm.FrameTableStats
	if err := k.enKernel(func() { marcos, st = k.vm.Frames().Snapshot() }); err != nil {
		return respuestaError(err), nil
	}
	ruta := filepath.Join(k.cfg.DumpPath, fmt.Sprintf("marcos-%s.png", time.Now().Format("20060102-150405.000")))
	if err := dump.RenderFrames(ruta, marcos, st); err != nil {
		return respuestaError(err), nil
	}
	return map[string]interface{}{"status": "OK", "archivo": ruta}, nil
}
