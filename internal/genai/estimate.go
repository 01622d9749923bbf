package genai

import (
	"context"
	"fmt"

	"github.com/zeli-parts/partsbot/internal/models"
)

// Estimate is a US-market price estimate for one part.
type Estimate struct {
	Found      bool
	PartName   string
	Brand      string
	PriceUSD   *float64
	PartNumber string
	Notes      string
}

type estimateReply struct {
	Found      bool   `json:"found"`
	PartName   text   `json:"part_name"`
	Brand      text   `json:"brand"`
	PriceUSD   number `json:"price_usd"`
	PartNumber text   `json:"part_number"`
	Notes      text   `json:"notes"`
}

// EstimatePrice asks the model for a typical aftermarket price. A reply of
// {"found": false} yields Estimate{Found: false} with no error.
func (c *Client) EstimatePrice(ctx context.Context, item models.RequestItem) (Estimate, error) {
	const op = "estimator.estimate"
	system := `Eres un experto en precios de repuestos de autos en el mercado estadounidense
(RockAuto, AutoZone, Amazon). Respondes ÚNICAMENTE con JSON válido.`
	prompt := fmt.Sprintf(`Estima el precio típico en USD de este repuesto aftermarket de calidad media:
Pieza: %s
Vehículo: %s %s %s
Número de parte: %s

Responde con JSON:
{"found": true, "part_name": "nombre en inglés", "brand": "marca típica", "price_usd": 0.0, "part_number": "número o null", "notes": "notas breves"}

Si no puedes estimar un precio razonable, responde {"found": false}.`,
		item.Part, item.Make, item.Model, item.Year, orDash(item.PartNumber))

	raw, err := c.Complete(ctx, op, system, prompt, 200)
	if err != nil {
		return Estimate{}, err
	}
	var r estimateReply
	ok, err := decodeJSON(op, raw, &r)
	if err != nil || !ok {
		return Estimate{}, err
	}

	est := Estimate{
		Found:      r.Found,
		PartName:   string(r.PartName),
		Brand:      string(r.Brand),
		PriceUSD:   r.PriceUSD.ptr(),
		PartNumber: string(r.PartNumber),
		Notes:      string(r.Notes),
	}
	if est.PriceUSD == nil || *est.PriceUSD <= 0 {
		est.Found = false
	}
	return est, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
