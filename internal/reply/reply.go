// Package reply renders every customer-facing bot message. Each situation is
// a distinct type carrying the data its text needs, and Render switches on
// the type. An unhandled situation panics.
package reply

import (
	"fmt"
	"strings"

	"github.com/zeli-parts/partsbot/internal/models"
)

// Situation is the closed set of things the bot can say to a customer.
type Situation interface {
	situation()
}

type (
	// Greeting answers a plain "hola".
	Greeting struct{}
	// SecondaryGreeting answers "¿qué tal?".
	SecondaryGreeting struct{}
	// Wait answers "un momento".
	Wait struct{}
	// Ack answers a bare "ok".
	Ack struct{}
	// VagueIntent answers "necesito unas piezas" without details.
	VagueIntent struct{}
	// Unknown answers anything unrecognized.
	Unknown struct{}
	// ImageReceived acknowledges a photo with no text.
	ImageReceived struct{}

	// Farewell closes the conversation. MidFlow is set when the queue
	// still held items.
	Farewell struct{ MidFlow bool }

	// AskField asks for exactly one missing field. Part names the item
	// when the queue holds several.
	AskField struct {
		Field models.Field
		Part  string
	}

	// ConfirmSummary lists the complete queue for a yes/correction.
	ConfirmSummary struct{ Items []models.RequestItem }
	// CorrectionReminder nudges a customer stuck at confirmation.
	CorrectionReminder struct{}
	// StillWorking answers messages sent while sourcing is in flight.
	StillWorking struct{}

	// SourcingStarted acknowledges a confirmed queue of Count items.
	SourcingStarted struct{ Count int }
	// FollowUp is the delayed "still searching" nudge.
	FollowUp struct{}
	// SourcingOutcome reports items that could not be sourced. Found may
	// be empty.
	SourcingOutcome struct {
		Found    []models.RequestItem
		NotFound []models.RequestItem
	}

	// Quote presents owner-approved prices.
	Quote struct {
		Item    models.RequestItem
		Options []models.Option
		Prices  []float64
	}
	// SelectionPrompt asks for a valid option number.
	SelectionPrompt struct{ Count int }
	// SelectionConfirmed closes an order.
	SelectionConfirmed struct {
		Item   models.RequestItem
		Option models.Option
		Price  float64
	}
	// Unavailable tells the customer the owner cancelled the quote.
	Unavailable struct{}

	// LiveStarted tells the customer a person will take over.
	LiveStarted struct{}
	// LiveEnded hands the customer back to the bot.
	LiveEnded struct{}
	// OwnerMessage relays the owner's words to a customer or store.
	OwnerMessage struct{ Text string }
)

func (Greeting) situation()           {}
func (SecondaryGreeting) situation()  {}
func (Wait) situation()               {}
func (Ack) situation()                {}
func (VagueIntent) situation()        {}
func (Unknown) situation()            {}
func (ImageReceived) situation()      {}
func (Farewell) situation()           {}
func (AskField) situation()           {}
func (ConfirmSummary) situation()     {}
func (CorrectionReminder) situation() {}
func (StillWorking) situation()       {}
func (SourcingStarted) situation()    {}
func (FollowUp) situation()           {}
func (SourcingOutcome) situation()    {}
func (Quote) situation()              {}
func (SelectionPrompt) situation()    {}
func (SelectionConfirmed) situation() {}
func (Unavailable) situation()        {}
func (LiveStarted) situation()        {}
func (LiveEnded) situation()          {}
func (OwnerMessage) situation()       {}

// Fixed texts.
const (
	formatHint = "Pieza + marca + modelo + año"

	WaitText      = "Claro, tómate tu tiempo. Aquí estamos cuando estés listo. 👍"
	FarewellText  = "¡Con gusto! Si necesitas algo más, aquí estamos. 👋"
	MidFlowText   = "Entendido, dejamos tu solicitud pendiente. Cuando quieras retomarla, escríbenos de nuevo. 👋"
	FollowUpText  = "Aún estamos buscando tu pieza, queremos darte la mejor opción. Un momento más. 🔩"
	MakeQuestion  = "¿Es Toyota, Hyundai, Nissan, Honda u otra marca?"
	StillWorkText = "Seguimos trabajando en tu pedido. Te escribimos apenas tengamos las opciones. 🔩"
)

// Renderer turns situations into message text.
type Renderer struct {
	business string
}

// NewRenderer returns a Renderer signing messages as business.
func NewRenderer(business string) *Renderer {
	if business == "" {
		business = "AutoParts Santiago"
	}
	return &Renderer{business: business}
}

// Business returns the name the renderer signs with.
func (r *Renderer) Business() string { return r.business }

// Render returns the text for s.
func (r *Renderer) Render(s Situation) string {
	switch s := s.(type) {
	case Greeting:
		return fmt.Sprintf("👋 ¡Hola! Somos *%s*.\n\n"+
			"Encuentra cualquier repuesto sin salir de tu taller. "+
			"Solo envíanos la pieza, marca, modelo y año.\n\n"+
			"Ejemplo: *alternador Toyota Hilux 2008*", r.business)
	case SecondaryGreeting:
		return "¡Todo bien! ¿En qué te puedo ayudar hoy? 😊"
	case Wait:
		return WaitText
	case Ack:
		return "Perfecto. 😊 ¿Hay algo más en que te pueda ayudar?"
	case VagueIntent:
		return "Con gusto te ayudo. 🔧\n\n" +
			"Dime qué pieza necesitas y para qué vehículo:\n" + formatHint + "\n\n" +
			"Ejemplo: *filtro de aceite Corolla 2015*"
	case Unknown:
		return "No entendí tu mensaje. 🙏\n\n" +
			"Para buscar un repuesto envíanos:\n" + formatHint + "\n\n" +
			"Ejemplo: *filtro de aceite Corolla 2015*"
	case ImageReceived:
		return "📷 Recibimos tu imagen, la revisamos y te escribimos en breve.\n\n" +
			"Si puedes, dinos también la pieza, marca, modelo y año."
	case Farewell:
		if s.MidFlow {
			return MidFlowText
		}
		return FarewellText
	case AskField:
		return askField(s)
	case ConfirmSummary:
		return confirmSummary(s.Items)
	case CorrectionReminder:
		return "Responde *sí* para buscarlo o dime qué dato corregir."
	case StillWorking:
		return StillWorkText
	case SourcingStarted:
		if s.Count > 1 {
			return fmt.Sprintf("🔩 *¡Recibido!*\nEstamos buscando tus %d piezas, te confirmamos en unos minutos. ⏳", s.Count)
		}
		return "🔩 *¡Recibido!*\nEstamos buscando tu pieza, te confirmamos en unos minutos. ⏳"
	case FollowUp:
		return FollowUpText
	case SourcingOutcome:
		return sourcingOutcome(s)
	case Quote:
		return quote(s)
	case SelectionPrompt:
		return "Por favor responde con " + optionNumbers(s.Count) + "."
	case SelectionConfirmed:
		return fmt.Sprintf("✅ *¡Perfecto!* Confirmado.\n\n"+
			"🔩 %s\n"+
			"💵 Precio: *%s*\n"+
			"🚚 Entrega: %s\n\n"+
			"Te contactamos para coordinar la entrega. 🙌",
			s.Item.String(), Money(s.Price), s.Option.LeadTime)
	case Unavailable:
		return "Lo sentimos, no pudimos conseguir esa pieza en este momento. " +
			"Te avisamos cuando tengamos disponibilidad. 🙏"
	case LiveStarted:
		return "Claro, en un momento te contacta alguien del equipo. 👍\n\n" +
			"Si mientras tanto quieres buscar una pieza, solo envíanos:\n" + formatHint
	case LiveEnded:
		return "Gracias por tu paciencia. Si necesitas algo más, estamos aquí. 👋\n\n" +
			"Para buscar un repuesto escríbenos:\n" + formatHint
	case OwnerMessage:
		return fmt.Sprintf("💬 *%s:*\n%s", r.business, s.Text)
	}
	panic(fmt.Sprintf("reply: unhandled situation %T", s))
}

func askField(s AskField) string {
	var q string
	switch s.Field {
	case models.FieldPart:
		q = "¿Qué pieza necesitas?"
	case models.FieldMake:
		q = MakeQuestion
	case models.FieldModel:
		q = "¿Qué modelo es?"
	case models.FieldYear:
		q = "¿De qué año es?"
	default:
		q = "¿Me das más detalles del vehículo?"
	}
	if s.Part != "" && s.Field != models.FieldPart {
		return fmt.Sprintf("Para *%s*: %s", s.Part, q)
	}
	return q
}

func confirmSummary(items []models.RequestItem) string {
	var b strings.Builder
	if len(items) == 1 {
		it := items[0]
		fmt.Fprintf(&b, "Confirmemos tu pedido:\n\n🔩 %s\n🚗 %s\n\n", it.Part, it.Vehicle())
	} else {
		b.WriteString("Confirmemos tu pedido:\n\n")
		for i, it := range items {
			fmt.Fprintf(&b, "%d. 🔩 %s\n   🚗 %s\n", i+1, it.Part, it.Vehicle())
		}
		b.WriteString("\n")
	}
	b.WriteString("¿Está correcto? Responde *sí* o dime qué corregir.")
	return b.String()
}

func sourcingOutcome(s SourcingOutcome) string {
	var b strings.Builder
	if len(s.Found) == 0 {
		if len(s.NotFound) == 1 {
			it := s.NotFound[0]
			fmt.Fprintf(&b, "Lo sentimos, no encontramos *%s* para %s en este momento. 😔\n\n", it.Part, it.Vehicle())
		} else {
			b.WriteString("Lo sentimos, no encontramos estas piezas en este momento: 😔\n")
			for _, it := range s.NotFound {
				fmt.Fprintf(&b, "• %s\n", it.String())
			}
			b.WriteString("\n")
		}
		b.WriteString("Te avisamos si conseguimos algo. Si quieres, envíanos otra pieza o más detalles.")
		return b.String()
	}

	b.WriteString("✅ Encontramos opciones para:\n")
	for _, it := range s.Found {
		fmt.Fprintf(&b, "• %s\n", it.String())
	}
	b.WriteString("\n❌ No encontramos:\n")
	for _, it := range s.NotFound {
		fmt.Fprintf(&b, "• %s\n", it.String())
	}
	b.WriteString("\nEn unos minutos te enviamos los precios de lo encontrado.")
	return b.String()
}

func quote(s Quote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔩 *%s*\n\nEncontramos estas opciones:\n\n", s.Item.String())
	for i, opt := range s.Options {
		if i >= len(s.Prices) {
			break
		}
		fmt.Fprintf(&b, "*%d. %s*\n💵 Precio: *%s*\n🚚 Entrega: %s\n\n", i+1, opt.Label, Money(s.Prices[i]), opt.LeadTime)
	}
	n := min(len(s.Options), len(s.Prices))
	if n == 1 {
		b.WriteString("Responde con *1* para confirmar.")
	} else {
		fmt.Fprintf(&b, "¿Cuál prefieres? Responde con el número de opción (%s).", optionNumbers(n))
	}
	return b.String()
}

// optionNumbers renders "1", "1 o 2", "1, 2 o 3".
func optionNumbers(n int) string {
	if n <= 1 {
		return "1"
	}
	nums := make([]string, n)
	for i := range nums {
		nums[i] = fmt.Sprint(i + 1)
	}
	return strings.Join(nums[:n-1], ", ") + " o " + nums[n-1]
}

// Money formats a USD amount, dropping ".00".
func Money(v float64) string {
	s := fmt.Sprintf("$%.2f", v)
	return strings.TrimSuffix(s, ".00")
}
