package intent

import "testing"

func TestIsAffirmative(t *testing.T) {
	yes := []string{"sí", "Si", "siii", "SIIII!", "sí, correcto", "dale", "dale pues", "ok", "okey",
		"perfecto", "está bien", "correcto", "así es", "yes", "de una"}
	for _, m := range yes {
		if !IsAffirmative(m) {
			t.Errorf("IsAffirmative(%q) = false, want true", m)
		}
	}
	no := []string{"", "no", "sí pero es 2010", "si, es 2010", "silvia", "okinawa", "es un corolla",
		"no, es nissan", "dale pero cambia el año"}
	for _, m := range no {
		if IsAffirmative(m) {
			t.Errorf("IsAffirmative(%q) = true, want false", m)
		}
	}
}

func TestRegisterAffirmative(t *testing.T) {
	if IsAffirmative("simon") {
		t.Fatal("simon should not match before registration")
	}
	if err := RegisterAffirmative(`^simon$`); err != nil {
		t.Fatalf("RegisterAffirmative() error = %v", err)
	}
	if !IsAffirmative("Simón") {
		t.Error("registered pattern should match")
	}
	if err := RegisterAffirmative(`(`); err == nil {
		t.Error("invalid pattern should fail")
	}
}

func TestIsBroadAffirmative(t *testing.T) {
	for _, m := range []string{"lo quiero", "me lo llevo", "genial", "sí"} {
		if !IsBroadAffirmative(m) {
			t.Errorf("IsBroadAffirmative(%q) = false", m)
		}
	}
	if IsBroadAffirmative("cuánto cuesta el envío") {
		t.Error("question must not be an affirmation")
	}
}

func TestGoodbyeAndThanks(t *testing.T) {
	for _, m := range []string{"gracias", "Muchas gracias!", "ok gracias", "adiós", "chao", "hasta luego amigo"} {
		if !IsGoodbye(m) {
			t.Errorf("IsGoodbye(%q) = false", m)
		}
	}
	if IsGoodbye("hola") || IsGoodbye("graciela") {
		t.Error("unexpected goodbye match")
	}
	for _, m := range []string{
		"gracias, tambien necesito un filtro para corolla 2015",
		"gracias, necesito un filtro",
		"gracias y el precio?",
		"ok gracias, otra pieza",
		"gracias, para el 2015",
		"chao, luego te escribo para pedir las pastillas de freno",
	} {
		if IsGoodbye(m) {
			t.Errorf("IsGoodbye(%q) = true, request follows", m)
		}
	}
	if !IsGoodbye("gracias, que esten bien") {
		t.Error("short courtesy tail is still a goodbye")
	}
	if !IsThanks("mil gracias") || IsThanks("adiós") {
		t.Error("IsThanks mismatch")
	}
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) bool
		msg  string
		want bool
	}{
		{"greeting", IsGreeting, "Buenos días", true},
		{"greeting prefix", IsGreeting, "hola amigo", true},
		{"greeting word boundary", IsGreeting, "heyyy", false},
		{"secondary", IsSecondaryGreeting, "¿Qué tal?", true},
		{"wait", IsWait, "déjame revisar", true},
		{"ack exact", IsAck, "Ok", true},
		{"ack not prefix", IsAck, "ok y el precio", false},
		{"ack word", IsAck, "yaris", false},
		{"vague prefix", IsVague, "necesito algo", true},
		{"vague keyword", IsVague, "ustedes tienen repuestos?", true},
		{"vague none", IsVague, "jaja", false},
		{"human", IsHumanRequest, "quiero hablar con el dueño", true},
		{"human accent", IsHumanRequest, "LLÁMENME por favor", true},
		{"human none", IsHumanRequest, "alternador hilux", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.msg); got != tt.want {
				t.Errorf("%s(%q) = %v, want %v", tt.name, tt.msg, got, tt.want)
			}
		})
	}
}
