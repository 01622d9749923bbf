// Package intent recognizes the fixed conversational phrases customers and
// the owner send: greetings, acknowledgments, goodbyes, confirmations and
// requests for a human. Matching is case- and accent-insensitive.
package intent

import (
	"regexp"
	"strings"
	"sync"

	"github.com/zeli-parts/partsbot/internal/util"
)

// Phrase lists are stored normalized (lowercase, no accents).
var (
	greetings = []string{
		"hola", "buenas", "buenos dias", "buenas tardes", "buenas noches",
		"hi", "hello", "hey",
	}

	secondaryGreetings = []string{
		"que tal", "como estas", "todo bien", "que hay",
	}

	waitPhrases = []string{
		"dame un segundo", "un momento", "un seg", "espera", "esperate",
		"ahorita te digo", "ahorita", "dejame revisar", "dejame ver",
		"ya vuelvo", "un momentito",
	}

	ackPhrases = map[string]bool{
		"ok": true, "okey": true, "okay": true, "entendido": true, "perfecto": true,
		"listo": true, "bueno": true, "ah ok": true, "ah okey": true, "ya veo": true,
		"ya": true, "claro": true, "dale": true, "va": true, "de acuerdo": true,
		"10 puntos": true, "excelente": true, "genial": true,
	}

	thanksPhrases = []string{
		"gracias", "muchas gracias", "mil gracias", "ok gracias", "okey gracias",
		"ty", "thanks",
	}

	farewellPhrases = []string{
		"adios", "chao", "chau", "hasta luego", "hasta manana", "bye",
		"nos vemos", "eso es todo", "nada mas",
	}

	vaguePrefixes = []string{
		"si necesito", "necesito unas", "necesito algo", "busco unas",
		"quiero unas", "quiero una", "quiero un", "tengo que buscar",
		"necesito piezas", "necesito repuestos", "necesito varios",
		"si tengo", "tengo varios", "tengo unas", "no entiendo",
		"no se como", "si",
	}

	partKeywords = []string{
		"pieza", "repuesto", "parte", "necesito", "neceisto", "nececito",
		"busco", "quiero", "tienen", "tienes", "hay ", "consiguen",
	}

	// Words after a thanks that mean the customer is not done.
	continuations = []string{
		"tambien", "otra", "otro", "ademas", "pero", "y el", "y la", "y los", "y las",
		"precio", "cuanto", "cuesta",
	}

	humanRequest = []string{
		"con alguien", "hablar con", "un agente", "una persona", "con un humano",
		"con el dueno", "con el encargado", "me pueden llamar", "me pueden contactar",
		"quiero hablar", "necesito hablar", "llamenme", "me llaman",
		"por favor alguien", "alguien me ayude", "alguien que trabaje",
	}
)

// Affirmative patterns run against the normalized text. The terminator group
// stands in for \b, which is ASCII-only in RE2.
const end = `(?:[\s,.!]|$)`

var (
	affirmMu       sync.RWMutex
	affirmPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^s+i+` + end),             // si, siii, ssi
		regexp.MustCompile(`^y+e+s+` + end),           // yes
		regexp.MustCompile(`^o+k+(?:e+y+|a+y+)?` + end), // ok, okey, okay
		regexp.MustCompile(`^dale+(?: pues)?` + end),
		regexp.MustCompile(`^(?:claro|correcto|exacto|perfecto|confirmo|confirmado|listo|de una|afirmativo|va|vale)` + end),
		regexp.MustCompile(`^(?:esta|todo) (?:bien|correcto)` + end),
		regexp.MustCompile(`^(?:asi es|eso es|es correcto|esta perfecto)` + end),
	}
	// Affirmations that carry a correction are not confirmations.
	negation = regexp.MustCompile(`(?:\bpero\b|\bno\b|\bsino\b|\d)`)
)

// RegisterAffirmative adds a confirmation pattern. expr is matched against
// the normalized message.
func RegisterAffirmative(expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	affirmMu.Lock()
	defer affirmMu.Unlock()
	affirmPatterns = append(affirmPatterns, re)
	return nil
}

// IsAffirmative reports whether msg confirms a summary ("sí", "siii",
// "dale pues", "sí, correcto"). A message that also contains a number or a
// "pero"/"no" is a correction and does not count.
func IsAffirmative(msg string) bool {
	m := util.Normalize(msg)
	if m == "" || negation.MatchString(m) {
		return false
	}
	affirmMu.RLock()
	defer affirmMu.RUnlock()
	for _, re := range affirmPatterns {
		if re.MatchString(m) {
			return true
		}
	}
	return false
}

// IsBroadAffirmative is IsAffirmative plus the plain acknowledgments and
// purchase phrases a customer uses to accept a single offered option.
func IsBroadAffirmative(msg string) bool {
	if IsAffirmative(msg) || IsAck(msg) {
		return true
	}
	m := util.Normalize(msg)
	for _, p := range []string{"lo quiero", "la quiero", "me lo llevo", "me la llevo", "esa", "ese", "quiero esa", "quiero ese", "la primera", "la 1", "opcion 1"} {
		if m == p || strings.HasPrefix(m, p+" ") {
			return true
		}
	}
	return false
}

func IsGreeting(msg string) bool {
	return hasPrefix(util.Normalize(msg), greetings)
}

func IsSecondaryGreeting(msg string) bool {
	return hasPrefix(util.Normalize(msg), secondaryGreetings)
}

func IsWait(msg string) bool {
	return hasPrefix(util.Normalize(msg), waitPhrases)
}

// IsAck matches the whole message only: "ok" is an acknowledgment, "ok y
// el precio?" is not.
func IsAck(msg string) bool {
	return ackPhrases[util.Normalize(msg)]
}

func IsThanks(msg string) bool {
	return hasPrefix(util.Normalize(msg), thanksPhrases)
}

// maxGoodbyeTail is how many words may follow a thanks or farewell
// ("gracias amigo", "chao, que esten bien") for it to still close the chat.
const maxGoodbyeTail = 4

// IsGoodbye reports a thanks or farewell that closes the conversation. A
// thanks that goes on to ask for something ("gracias, tambien necesito un
// filtro") is not a goodbye.
func IsGoodbye(msg string) bool {
	m := util.Normalize(msg)
	p, ok := matchPrefix(m, thanksPhrases)
	if !ok {
		if p, ok = matchPrefix(m, farewellPhrases); !ok {
			return false
		}
	}
	rest := strings.Trim(m[len(p):], " ,.!")
	if rest == "" {
		return true
	}
	if len(strings.Fields(rest)) > maxGoodbyeTail || strings.ContainsAny(rest, "0123456789") {
		return false
	}
	return !containsAny(rest+" ", partKeywords) && !containsAny(rest+" ", continuations)
}

// IsVague reports a message that hints at a need without naming a part.
func IsVague(msg string) bool {
	m := util.Normalize(msg)
	if hasPrefix(m, vaguePrefixes) {
		return true
	}
	return containsAny(m+" ", partKeywords)
}

// IsHumanRequest reports explicit "let me talk to a person" phrasing.
func IsHumanRequest(msg string) bool {
	m := util.Normalize(msg)
	for _, p := range humanRequest {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}

// hasPrefix matches whole leading words: "hola" matches "hola amigo" but
// "ya" does not match "yaris".
func hasPrefix(m string, phrases []string) bool {
	_, ok := matchPrefix(m, phrases)
	return ok
}

func containsAny(m string, words []string) bool {
	for _, w := range words {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

func matchPrefix(m string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if m == p || strings.HasPrefix(m, p+" ") || strings.HasPrefix(m, p+",") {
			return p, true
		}
	}
	return "", false
}
