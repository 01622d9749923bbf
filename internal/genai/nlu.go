package genai

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
	"github.com/zeli-parts/partsbot/internal/models"
)

const nluSystemPrompt = `Eres un asistente especializado en repuestos de autos en Panamá.
Lees mensajes de WhatsApp de mecánicos y clientes escritos en español informal.
Respondes ÚNICAMENTE con JSON válido o con null, sin explicaciones.`

// extractedItem is one record as returned by the model.
type extractedItem struct {
	Part       text `json:"part"`
	Make       text `json:"make"`
	Model      text `json:"model"`
	Year       text `json:"year"`
	PartNumber text `json:"part_number"`
	Notes      text `json:"additional_specs"`
}

func (e extractedItem) toRequest() models.RequestItem {
	return models.RequestItem{
		Part:       string(e.Part),
		Make:       string(e.Make),
		Model:      string(e.Model),
		Year:       normalizeYear(string(e.Year)),
		PartNumber: string(e.PartNumber),
		Notes:      string(e.Notes),
	}
}

// normalizeYear expands two-digit years ("08" -> "2008", "98" -> "1998").
func normalizeYear(y string) string {
	y = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(y), "'"))
	if len(y) != 2 {
		return y
	}
	n, err := strconv.Atoi(y)
	if err != nil {
		return y
	}
	if n <= 40 {
		return strconv.Itoa(2000 + n)
	}
	return strconv.Itoa(1900 + n)
}

// Extract returns every part request mentioned in text. Items may have blank
// vehicle fields; an empty slice means the message names no part or vehicle.
func (c *Client) Extract(ctx context.Context, message string) ([]models.RequestItem, error) {
	const op = "nlu.extract"
	prompt := fmt.Sprintf(`Un mecánico envió este mensaje por WhatsApp:
"%s"

Extrae CADA repuesto solicitado. Si menciona varias piezas, devuelve un elemento por pieza.
Responde con un arreglo JSON:
[{"part": "repuesto en español o null", "make": "marca o null", "model": "modelo o null", "year": "año o null", "part_number": "número de parte o null", "additional_specs": "especificaciones o null"}]

Si varias piezas son para el mismo vehículo, repite la marca, modelo y año en cada elemento.
Responde con null SOLO si el mensaje es puramente conversacional (saludo, ok, gracias) sin piezas ni vehículos.`, message)

	raw, err := c.Complete(ctx, op, nluSystemPrompt, prompt, 500)
	if err != nil {
		return nil, err
	}

	var items []extractedItem
	raw = stripFences(raw)
	if strings.HasPrefix(raw, "{") {
		// Single object instead of an array.
		var one extractedItem
		ok, err := decodeJSON(op, raw, &one)
		if err != nil || !ok {
			return nil, err
		}
		items = []extractedItem{one}
	} else if _, err := decodeJSON(op, raw, &items); err != nil {
		return nil, err
	}

	out := make([]models.RequestItem, 0, len(items))
	for _, it := range items {
		req := it.toRequest()
		if req.IsEmpty() {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// ExtractMissing looks for the fields known lacks. The result holds only new
// fields; ok is false when the message adds nothing.
func (c *Client) ExtractMissing(ctx context.Context, message string, known models.RequestItem) (models.RequestItem, bool, error) {
	const op = "nlu.extract_missing"
	missing := known.Missing()
	if len(missing) == 0 {
		return models.RequestItem{}, false, nil
	}

	prompt := fmt.Sprintf(`Un cliente está pidiendo un repuesto. Ya sabemos: %s. Aún nos falta: %s.

El cliente envió este nuevo mensaje: "%s"

Extrae SOLO los campos faltantes que el cliente mencione.
Responde con JSON con solo esos campos (ej: {"model": "Hilux", "year": "2008"}).
Si el mensaje no aporta ningún campo nuevo, responde con null.`,
		describeKnown(known), joinFields(missing), message)

	raw, err := c.Complete(ctx, op, nluSystemPrompt, prompt, 100)
	if err != nil {
		return models.RequestItem{}, false, err
	}
	var it extractedItem
	ok, err := decodeJSON(op, raw, &it)
	if err != nil || !ok {
		return models.RequestItem{}, false, err
	}

	found := it.toRequest()
	update := models.RequestItem{}
	for _, f := range missing {
		update.Set(f, found.Get(f))
	}
	if update.IsEmpty() {
		return models.RequestItem{}, false, nil
	}
	return update, true, nil
}

// ExtractCorrection returns the fields the customer wants changed in current.
func (c *Client) ExtractCorrection(ctx context.Context, message string, current models.RequestItem) (models.RequestItem, bool, error) {
	const op = "nlu.extract_correction"
	prompt := fmt.Sprintf(`Le mostramos a un cliente este resumen de su pedido:
Pieza: %s
Vehículo: %s

El cliente respondió: "%s"

Si el cliente corrige algún dato, responde con JSON solo con los campos corregidos
(posibles: "part", "make", "model", "year"). Ej: {"year": "2010"}
Si no corrige nada, responde con null.`, current.Part, current.Vehicle(), message)

	raw, err := c.Complete(ctx, op, nluSystemPrompt, prompt, 100)
	if err != nil {
		return models.RequestItem{}, false, err
	}
	var it extractedItem
	ok, err := decodeJSON(op, raw, &it)
	if err != nil || !ok {
		return models.RequestItem{}, false, err
	}

	found := it.toRequest()
	update := models.RequestItem{}
	for _, f := range models.RequiredFields {
		if v := found.Get(f); v != "" && !strings.EqualFold(v, current.Get(f)) {
			update.Set(f, v)
		}
	}
	if update.IsEmpty() {
		return models.RequestItem{}, false, nil
	}
	return update, true, nil
}

// DetectNeedsHuman reports whether the customer seems frustrated, lost or
// asks for a person.
func (c *Client) DetectNeedsHuman(ctx context.Context, message string) (bool, error) {
	const op = "nlu.detect_needs_human"
	prompt := fmt.Sprintf(`Un cliente envió este mensaje a un bot de repuestos de autos:
"%s"

¿El mensaje indica que el cliente está frustrado, molesto, confundido,
perdido, no está recibiendo ayuda adecuada, o necesita hablar con una persona?

Responde ÚNICAMENTE con true o false.`, message)

	raw, err := c.Complete(ctx, op, nluSystemPrompt, prompt, 5)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.Trim(strings.TrimSpace(raw), ".\"")) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, apperrors.Collab(op, apperrors.KindMalformed, fmt.Errorf("unexpected answer %q", raw))
}

// InterpretChoice maps a free-text reply to a 0-based option index.
func (c *Client) InterpretChoice(ctx context.Context, message string, options []models.Option, prices []float64) (int, bool, error) {
	const op = "nlu.interpret_choice"
	if len(options) == 0 {
		return 0, false, nil
	}

	var b strings.Builder
	for i, o := range options {
		price := o.SuggestedPrice
		if i < len(prices) {
			price = prices[i]
		}
		fmt.Fprintf(&b, "%d. %s — $%.2f — entrega %s\n", i+1, o.Label, price, o.LeadTime)
	}
	prompt := fmt.Sprintf(`Le ofrecimos a un cliente estas opciones:
%s
El cliente respondió: "%s"

¿Qué opción eligió? Responde ÚNICAMENTE con el número de la opción, o con null si no queda claro.`, b.String(), message)

	raw, err := c.Complete(ctx, op, nluSystemPrompt, prompt, 5)
	if err != nil {
		return 0, false, err
	}
	raw = strings.Trim(stripFences(raw), ".\" ")
	if raw == "" || strings.EqualFold(raw, "null") {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, apperrors.Collab(op, apperrors.KindMalformed, err)
	}
	if n < 1 || n > len(options) {
		return 0, false, nil
	}
	return n - 1, true, nil
}

func describeKnown(item models.RequestItem) string {
	known := item.Known()
	parts := make([]string, 0, len(known))
	for _, f := range models.RequiredFields {
		if v, ok := known[f]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", f, v))
		}
	}
	if len(parts) == 0 {
		return "nada aún"
	}
	return strings.Join(parts, ", ")
}

func joinFields(fields []models.Field) string {
	s := make([]string, len(fields))
	for i, f := range fields {
		s[i] = string(f)
	}
	return strings.Join(s, ", ")
}
