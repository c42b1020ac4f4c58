package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LosCuervosXeneizes/kernelvm/threads"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

func main() {
	// Inicializar loggers
	utils.InicializarLogger("INFO", "Kernel")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Uso: %s <archivo_configuracion> [workload]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ejemplo: %s configs/kernel-config.json MEMORIA\n", os.Args[0])
		os.Exit(1)
	}
	configPath := os.Args[1]

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		utils.ErrorLog.Error("El archivo de configuración no existe", "archivo", configPath)
		os.Exit(1)
	}

	cfg := utils.CargarConfiguracion[KernelConfig](configPath)
	if len(os.Args) >= 3 {
		cfg.Workload = os.Args[2]
	}
	utils.InicializarLogger(cfg.LogLevel, "Kernel")
	utils.InfoLog.Info("Parámetros procesados", "config", configPath, "workload", cfg.Workload)

	k, err := inicializarKernel(cfg, os.Stdout)
	if err != nil {
		utils.ErrorLog.Error("Error durante la inicialización del Kernel", "error", err)
		os.Exit(1)
	}
	workload, _ := seleccionarWorkload(cfg.Workload)

	// Configurar manejo de señales
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k.modulo.IniciarServidor(cfg.IPKernel, cfg.PuertoKernel)
	utils.InfoLog.Info("Kernel listo y esperando conexiones")

	err = k.Run(ctx, workload)

	apagado, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if errShutdown := k.modulo.Server.Shutdown(apagado); errShutdown != nil {
		utils.ErrorLog.Error("Error cerrando el servidor HTTP", "error", errShutdown)
	}

	var kp *threads.KernelPanic
	if errors.As(err, &kp) {
		utils.ErrorLog.Error("Kernel detenido por pánico", "hilo", kp.Thread, "tid", kp.Tid, "mensaje", kp.Message)
		os.Exit(2)
	}
	if err != nil {
		utils.ErrorLog.Error("Error ejecutando el Kernel", "error", err)
		os.Exit(1)
	}
	utils.InfoLog.Info("Kernel finalizado")
}
