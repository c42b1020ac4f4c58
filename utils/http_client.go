package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Mensaje es la unidad de intercambio con el servicio de inspección.
type Mensaje struct {
	Tipo      int         `json:"tipo"`
	Operacion string      `json:"operacion"`
	Origen    string      `json:"origen"`
	Datos     interface{} `json:"datos"`
}

// ErrorRemoto es una respuesta {"status":"ERROR"} del kernel.
type ErrorRemoto struct {
	Tipo    int
	Mensaje string
}

func (e *ErrorRemoto) Error() string {
	return fmt.Sprintf("el kernel rechazó el mensaje %d: %s", e.Tipo, e.Mensaje)
}

// HTTPClient habla con el HTTPServer de otro proceso.
type HTTPClient struct {
	BaseURL string
	Nombre  string
	client  *http.Client
}

// NewHTTPClientURL crea un cliente contra una URL base ya armada
func NewHTTPClientURL(baseURL string, nombre string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Nombre:  nombre,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// EnviarHTTPMensaje envía un mensaje y devuelve la respuesta decodificada tal cual.
func (c *HTTPClient) EnviarHTTPMensaje(tipo int, operacion string, datos interface{}) (interface{}, error) {
	var resultado interface{}
	if err := c.enviar(context.Background(), tipo, operacion, datos, &resultado); err != nil {
		return nil, err
	}
	return resultado, nil
}

// Consultar envía un mensaje de inspección con la operación "default" y
// convierte las respuestas con status ERROR en *ErrorRemoto.
func (c *HTTPClient) Consultar(ctx context.Context, tipo int, datos interface{}) (map[string]interface{}, error) {
	var resultado map[string]interface{}
	if err := c.enviar(ctx, tipo, "default", datos, &resultado); err != nil {
		return nil, err
	}
	if resultado["status"] == "ERROR" {
		msg, _ := resultado["message"].(string)
		return resultado, &ErrorRemoto{Tipo: tipo, Mensaje: msg}
	}
	return resultado, nil
}

func (c *HTTPClient) enviar(ctx context.Context, tipo int, operacion string, datos interface{}, destino interface{}) error {
	jsonData, err := json.Marshal(Mensaje{
		Tipo:      tipo,
		Operacion: operacion,
		Origen:    c.Nombre,
		Datos:     datos,
	})
	if err != nil {
		return fmt.Errorf("error al serializar mensaje: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/mensaje", bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error al enviar mensaje HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cuerpo, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("respuesta HTTP no exitosa: %d - %s", resp.StatusCode, bytes.TrimSpace(cuerpo))
	}
	if err := json.NewDecoder(resp.Body).Decode(destino); err != nil {
		return fmt.Errorf("error al decodificar respuesta: %w", err)
	}
	return nil
}

// VerificarConexion consulta /health del otro lado.
func (c *HTTPClient) VerificarConexion() error {
	resp, err := c.client.Get(c.BaseURL + "/health")
	if err != nil {
		return fmt.Errorf("error al verificar conexión con %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("estado inesperado al verificar conexión: %d", resp.StatusCode)
	}

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("error al decodificar respuesta de verificación: %w", err)
	}

	Logger().Debug("Conexión verificada", "destino", c.BaseURL, "módulo", result["module"])
	return nil
}
