package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

const timeoutConsulta = 15 * time.Second

// comando es una consulta al servicio de inspección del kernel.
type comando struct {
	tipo      int
	conPID    bool
	pidOpcion bool
	ayuda     string
}

var comandos = map[string]comando{
	"hilos":        {tipo: utils.MensajeHilos, ayuda: "hilos vivos y sus estados"},
	"estadisticas": {tipo: utils.MensajeEstadisticas, ayuda: "ticks, cambios de contexto y load_avg"},
	"marcos":       {tipo: utils.MensajeMarcos, ayuda: "tabla de marcos en orden de reemplazo"},
	"swap":         {tipo: utils.MensajeSwap, ayuda: "ocupación del swap"},
	"metricas":     {tipo: utils.MensajeMetricas, conPID: true, pidOpcion: true, ayuda: "métricas por proceso [pid]"},
	"dump":         {tipo: utils.MensajeMemoryDump, conPID: true, ayuda: "memory dump de un proceso <pid>"},
	"mapa":         {tipo: utils.MensajeMapaMarcos, ayuda: "PNG de la tabla de marcos"},
}

func uso() {
	fmt.Fprintf(os.Stderr, "Uso: %s <ip:puerto> <comando> [pid]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Ejemplo: %s 127.0.0.1:8001 dump 1\n\nComandos:\n", os.Args[0])
	for _, nombre := range []string{"hilos", "estadisticas", "marcos", "swap", "metricas", "dump", "mapa"} {
		fmt.Fprintf(os.Stderr, "  %-13s %s\n", nombre, comandos[nombre].ayuda)
	}
}

func main() {
	utils.InicializarLogger("WARN", "kernelctl")

	if len(os.Args) < 3 {
		uso()
		os.Exit(1)
	}
	direccion := os.Args[1]
	if !strings.HasPrefix(direccion, "http://") {
		direccion = "http://" + direccion
	}
	cmd, existe := comandos[os.Args[2]]
	if !existe {
		uso()
		os.Exit(1)
	}

	datos := map[string]interface{}{}
	if cmd.conPID {
		if len(os.Args) < 4 && !cmd.pidOpcion {
			fmt.Fprintf(os.Stderr, "Error: %s requiere un pid\n", os.Args[2])
			os.Exit(1)
		}
		if len(os.Args) >= 4 {
			pid, err := strconv.Atoi(os.Args[3])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: pid inválido %q\n", os.Args[3])
				os.Exit(1)
			}
			datos["pid"] = pid
		}
	}

	cliente := utils.NewHTTPClientURL(direccion, "kernelctl")
	if err := conectarConReintentos(cliente, 3); err != nil {
		utils.ErrorLog.Error("No se pudo conectar con el Kernel", "dirección", direccion, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeoutConsulta)
	defer cancel()
	respuesta, err := cliente.Consultar(ctx, cmd.tipo, datos)
	var remoto *utils.ErrorRemoto
	if errors.As(err, &remoto) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", remoto.Mensaje)
		os.Exit(1)
	}
	if err != nil {
		utils.ErrorLog.Error("Error consultando al Kernel", "comando", os.Args[2], "error", err)
		os.Exit(1)
	}
	salida, err := json.MarshalIndent(respuesta, "", "  ")
	if err != nil {
		utils.ErrorLog.Error("Error serializando la respuesta", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(salida))
}

func conectarConReintentos(c *utils.HTTPClient, intentosMax int) error {
	for i := 1; i <= intentosMax; i++ {
		err := c.VerificarConexion()
		if err == nil {
			return nil
		}
		utils.InfoLog.Warn("Reintentando conexión", "destino", c.BaseURL, "intento", i, "próximo_en", "1s")
		time.Sleep(time.Second)
	}
	return fmt.Errorf("no se pudo establecer conexión después de %d intentos", intentosMax)
}
