package genai

import (
	"context"
	"fmt"

	"github.com/zeli-parts/partsbot/internal/models"
)

// SupplierReply is a relay supplier's free-text answer in structured form.
type SupplierReply struct {
	Available bool
	Price     *float64
	LeadTime  string
	Notes     string
}

type supplierReplyJSON struct {
	Available bool   `json:"available"`
	Price     number `json:"price"`
	LeadTime  text   `json:"lead_time"`
	Notes     text   `json:"notes"`
}

// ParseSupplierReply interprets a supplier's answer to a query about item.
func (c *Client) ParseSupplierReply(ctx context.Context, message string, item models.RequestItem) (SupplierReply, error) {
	const op = "relay.parse_reply"
	prompt := fmt.Sprintf(`Un proveedor de repuestos en Panamá respondió a nuestra consulta.
Consultamos por: %s para %s

Su respuesta fue: "%s"

Responde con JSON:
{"available": true/false, "price": precio en USD o null, "lead_time": "tiempo de entrega o null", "notes": "detalles relevantes o null"}`,
		item.Part, item.Vehicle(), message)

	raw, err := c.Complete(ctx, op, nluSystemPrompt, prompt, 150)
	if err != nil {
		return SupplierReply{}, err
	}
	var r supplierReplyJSON
	ok, err := decodeJSON(op, raw, &r)
	if err != nil || !ok {
		return SupplierReply{}, err
	}
	return SupplierReply{
		Available: r.Available,
		Price:     r.Price.ptr(),
		LeadTime:  string(r.LeadTime),
		Notes:     string(r.Notes),
	}, nil
}
