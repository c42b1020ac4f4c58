package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Modulo agrupa los handlers de un proceso por tipo de mensaje y operación
type Modulo struct {
	Nombre      string
	Server      *HTTPServer
	HandlerFunc map[string]map[string]HTTPHandlerFunc
	// MaxConexiones se copia al servidor en PrepararServidor.
	MaxConexiones int
}

// NuevoModulo crea una nueva instancia de un módulo
func NuevoModulo(nombre string) *Modulo {
	return &Modulo{
		Nombre:      nombre,
		HandlerFunc: make(map[string]map[string]HTTPHandlerFunc),
	}
}

// RegistrarHandler registra un handler para un tipo de mensaje y operación específicos
func (m *Modulo) RegistrarHandler(tipo string, operacion string, handler HTTPHandlerFunc) {
	if _, existe := m.HandlerFunc[tipo]; !existe {
		m.HandlerFunc[tipo] = make(map[string]HTTPHandlerFunc)
	}
	m.HandlerFunc[tipo][operacion] = handler
}

// PrepararServidor crea el servidor HTTP del módulo con todos los handlers
// registrados, sin empezar a escuchar.
func (m *Modulo) PrepararServidor(ip string, puerto int) *HTTPServer {
	m.Server = NewHTTPServer(ip, puerto, m.Nombre)
	m.Server.MaxConexiones = m.MaxConexiones

	for tipoStr, handlersPorOperacion := range m.HandlerFunc {
		tipo, err := strconv.Atoi(tipoStr)
		if err != nil {
			LoggerError().Error("Error al convertir tipo de mensaje a entero", "tipo", tipoStr, "error", err)
			continue
		}

		handlers := handlersPorOperacion
		m.Server.RegisterHTTPHandler(tipo, func(msg *Mensaje) (interface{}, error) {
			operacion := msg.Operacion
			if operacion == "" {
				operacion = "default"
			}

			handler, existe := handlers[operacion]
			if !existe {
				handler, existe = handlers["default"]
				if !existe {
					LoggerError().Error("No hay handler para operación", "tipo", tipo, "operacion", operacion)
					return nil, fmt.Errorf("no hay handler para operación %s", operacion)
				}
			}

			return handler(msg)
		})
	}
	return m.Server
}

// IniciarServidor crea e inicia el servidor HTTP del módulo en segundo plano
func (m *Modulo) IniciarServidor(ip string, puerto int) {
	m.PrepararServidor(ip, puerto)

	go func() {
		err := m.Server.Start()
		if err != nil {
			LoggerError().Error("Error al iniciar servidor HTTP", "error", err)
		}
	}()

	Logger().Info("Servidor HTTP iniciado", "módulo", m.Nombre, "dirección", fmt.Sprintf("%s:%d", ip, puerto))
}

// LeerConfiguracion decodifica un archivo JSON de configuración
func LeerConfiguracion[T any](ruta string) (*T, error) {
	absPath, err := filepath.Abs(ruta)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo ruta absoluta %s: %w", ruta, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("error abriendo archivo de configuración %s: %w", absPath, err)
	}
	defer file.Close()

	var config T
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("error decodificando configuración %s: %w", absPath, err)
	}
	return &config, nil
}

// CargarConfiguracion es LeerConfiguracion para los binarios: ante error
// registra y termina el proceso.
func CargarConfiguracion[T any](ruta string) *T {
	Logger().Info("Cargando configuración", "ruta", ruta)

	config, err := LeerConfiguracion[T](ruta)
	if err != nil {
		LoggerError().Error("Error cargando configuración", "error", err)
		os.Exit(1)
	}

	Logger().Info("Configuración cargada correctamente")
	return config
}

// ============================================================================
// Constantes para tipos de mensajes de inspección del kernel
// ============================================================================
const (
	// === COMUNICACIÓN BÁSICA (1-9) ===
	MensajeHandshake = 1 // Conexión inicial

	// === PLANIFICACIÓN (10-19) ===
	MensajeHilos        = 10 // Listado de hilos y estados
	MensajeEstadisticas = 11 // Ticks idle/kernel/user, load_avg

	// === MEMORIA VIRTUAL (20-29) ===
	MensajeMarcos     = 20 // Tabla de marcos
	MensajeSwap       = 21 // Ocupación de swap
	MensajeMetricas   = 22 // Métricas por proceso
	MensajeMemoryDump = 23 // Volcado de memoria de un proceso
	MensajeMapaMarcos = 24 // Imagen PNG de la tabla de marcos
)
