// Package monitor sends rate-limited operational alerts to the owner and keeps
// the daily tallies shown on the status surface and in the 08:00 summary.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/scheduler"
)

// Cooldowns per alert type.
const (
	DefaultCooldown    = 5 * time.Minute
	WaitingCooldown    = 10 * time.Minute
	AbandonedCooldown  = time.Hour
	NotFoundCooldown   = time.Minute
	SheetsCooldown     = 30 * time.Minute
	HighVolumeCooldown = time.Hour
	MemoryCooldown     = 15 * time.Minute

	DefaultHighVolumeThreshold = 50
	DefaultMemoryLimitMB       = 480
)

const stampLayout = "2006-01-02 15:04:05"

// Monitor is safe for concurrent use.
type Monitor struct {
	out        messaging.Messenger
	owner      string
	loc        *time.Location
	now        func() time.Time
	log        *slog.Logger
	highVolume int
	memLimitMB float64

	mu       sync.Mutex
	lastSent map[string]time.Time
	stats    models.DailyStats
	prev     *models.DailyStats
	msgTimes []time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLocation sets the business time zone used for dates and stamps.
func WithLocation(loc *time.Location) Option {
	return func(m *Monitor) { m.loc = loc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithHighVolumeThreshold sets the messages-per-hour alert threshold.
func WithHighVolumeThreshold(n int) Option {
	return func(m *Monitor) { m.highVolume = n }
}

// WithMemoryLimitMB sets the heap size that raises a high-memory alert.
func WithMemoryLimitMB(mb float64) Option {
	return func(m *Monitor) { m.memLimitMB = mb }
}

// New creates a Monitor that alerts owner through out. An empty owner
// disables delivery; alerts are still logged and counted.
func New(out messaging.Messenger, owner string, opts ...Option) *Monitor {
	m := &Monitor{
		out:        out,
		owner:      owner,
		loc:        time.UTC,
		now:        time.Now,
		log:        slog.Default(),
		highVolume: DefaultHighVolumeThreshold,
		memLimitMB: DefaultMemoryLimitMB,
		lastSent:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) stamp() string {
	return m.now().In(m.loc).Format(stampLayout)
}

func (m *Monitor) today() string {
	return m.now().In(m.loc).Format("2006-01-02")
}

// allow reports whether key is outside its cooldown and, if so, starts a new window.
func (m *Monitor) allow(key string, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	m.lastSent[key] = now
	return true
}

// Alert sends text to the owner unless key fired within cooldown. typ is
// the alert family used for metrics. It reports whether the alert was sent.
func (m *Monitor) Alert(ctx context.Context, typ, key string, cooldown time.Duration, text string) bool {
	if !m.allow(key, cooldown) {
		recordAlert(typ, false)
		return false
	}
	recordAlert(typ, true)
	if m.owner == "" || m.out == nil {
		m.log.Warn("Monitor.Alert: no owner configured, alert logged only", "type", typ, "key", key)
		return false
	}
	m.out.Send(ctx, m.owner, text, nil)
	return true
}

// NLUError reports a failed language-model call.
func (m *Monitor) NLUError(ctx context.Context, err error, op, customer string) {
	m.log.Warn("Monitor.NLUError", "op", op, "customer", customer, "error", err)
	m.IncErrors()
	m.Alert(ctx, "nlu_error", "nlu_error", DefaultCooldown, fmt.Sprintf(
		"⚠️ *Error de IA*\n❌ %v\n📍 Módulo: %s\n🕐 %s\n👤 Cliente afectado: %s",
		err, op, m.stamp(), orUnknown(customer)))
}

// SendFailed handles a message lost after its retry. The transport is the
// failing component, so the alert goes to the log only.
func (m *Monitor) SendFailed(to, body string, err error) {
	sendFailuresTotal.Inc()
	if !m.allow("send_failed_"+to, DefaultCooldown) {
		return
	}
	m.log.Error("Monitor.SendFailed: message could not be delivered",
		"recipient", to, "preview", preview(body, 50), "error", err)
}

// SourcingTimeout reports an item that exceeded the per-item deadline.
func (m *Monitor) SourcingTimeout(ctx context.Context, item models.RequestItem, customer string) {
	m.log.Warn("Monitor.SourcingTimeout", "part", item.Part, "vehicle", item.Vehicle(), "customer", customer)
	m.Alert(ctx, "sourcing_timeout", "sourcing_timeout", DefaultCooldown, fmt.Sprintf(
		"⚠️ *Sourcing Timeout*\n⏱️ La búsqueda excedió el tiempo límite\n🔩 Pieza: %s\n👤 Cliente: %s\n🕐 %s",
		item, customer, m.stamp()))
}

// CustomerWaiting reports a request still unquoted after the long-wait delay.
func (m *Monitor) CustomerWaiting(ctx context.Context, customer string, item models.RequestItem, waited time.Duration) {
	m.Alert(ctx, "waiting_too_long", "waiting_too_long_"+customer, WaitingCooldown, fmt.Sprintf(
		"⚠️ *Cliente Esperando Demasiado*\n👤 Cliente: %s\n🔩 Pedido: %s\n⏱️ Sin cotización después de %d minutos\n🕐 %s\nAcción requerida: verificar sourcing manualmente.",
		customer, item, int(waited.Minutes()), m.stamp()))
}

// Abandoned reports a conversation that expired at the confirmation step.
func (m *Monitor) Abandoned(ctx context.Context, customer string, item models.RequestItem) {
	m.Alert(ctx, "abandoned", "abandoned_"+customer, AbandonedCooldown, fmt.Sprintf(
		"📊 *Pedido Abandonado*\n👤 Cliente: %s\n🔩 Pedía: %s\n📍 Abandonó en: confirmación\n🕐 %s\nConsidera hacer seguimiento manual.",
		customer, item, m.stamp()))
}

// PartNotFound reports an item no source could supply.
func (m *Monitor) PartNotFound(ctx context.Context, customer string, item models.RequestItem) {
	m.incr("parts_not_found", func(s *models.DailyStats) { s.PartsNotFound++ })
	m.Alert(ctx, "not_found", "not_found_"+customer+"_"+item.Part, NotFoundCooldown, fmt.Sprintf(
		"📊 *Pieza No Encontrada*\n🔩 %s\n👤 Cliente: %s\n🕐 %s",
		item, customer, m.stamp()))
}

// AuditFailed reports an audit write that did not reach the log or a mirror.
func (m *Monitor) AuditFailed(ctx context.Context, err error, summary string) {
	m.log.Warn("Monitor.AuditFailed", "summary", summary, "error", err)
	m.IncErrors()
	m.Alert(ctx, "sheets_failed", "sheets_failed", SheetsCooldown, fmt.Sprintf(
		"⚠️ *Registro de Auditoría Falló*\n❌ %v\n📝 Entrada perdida: %s\n🕐 %s\nAcción: verificar credenciales de Google y la base de datos.",
		err, summary, m.stamp()))
}

// TrackMessage records an inbound message and returns the count over the
// last hour, alerting once the threshold is crossed.
func (m *Monitor) TrackMessage(ctx context.Context) int {
	m.mu.Lock()
	now := m.now()
	cutoff := now.Add(-time.Hour)
	m.msgTimes = lo.DropWhile(append(m.msgTimes, now), func(t time.Time) bool { return t.Before(cutoff) })
	count := len(m.msgTimes)
	m.mu.Unlock()

	if count > m.highVolume {
		m.Alert(ctx, "high_volume", "high_volume", HighVolumeCooldown, fmt.Sprintf(
			"📊 *Alto Volumen de Mensajes*\n📈 %d mensajes en la última hora\n🕐 %s\nPuede ser crecimiento orgánico o uso inesperado.",
			count, m.stamp()))
	}
	return count
}

// CheckMemory alerts when the Go heap exceeds the configured limit.
func (m *Monitor) CheckMemory(ctx context.Context) float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	mb := float64(ms.Sys) / (1024 * 1024)
	if mb > m.memLimitMB {
		m.Alert(ctx, "high_memory", "high_memory", MemoryCooldown, fmt.Sprintf(
			"⚠️ *Alta Memoria en Producción*\n💾 Uso de memoria: %.0fMB\n🕐 %s\nConsidera reiniciar el servicio si sigue creciendo.",
			mb, m.stamp()))
	}
	return mb
}

// resetIfNewDayLocked rolls the tallies over at local midnight, keeping the
// finished day for the summary. Caller holds m.mu.
func (m *Monitor) resetIfNewDayLocked() {
	today := m.today()
	if m.stats.Date == today {
		return
	}
	if m.stats.Date != "" {
		prev := m.stats
		m.prev = &prev
	}
	m.stats = models.DailyStats{Date: today}
}

func (m *Monitor) incr(event string, fn func(*models.DailyStats)) {
	statEventsTotal.WithLabelValues(event).Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()
	fn(&m.stats)
}

// IncConversations counts a new conversation.
func (m *Monitor) IncConversations() {
	m.incr("conversations", func(s *models.DailyStats) { s.Conversations++ })
}

// QuoteSent counts a quote and the minutes since sourcing began.
func (m *Monitor) QuoteSent(since time.Time) {
	minutes := -1.0
	if !since.IsZero() {
		minutes = m.now().Sub(since).Minutes()
		quoteMinutes.Observe(minutes)
	}
	m.incr("quotes_sent", func(s *models.DailyStats) {
		s.QuotesSent++
		if minutes >= 0 {
			s.QuoteTimeMinutes = append(s.QuoteTimeMinutes, minutes)
		}
	})
}

// OrderConfirmed counts a confirmed selection.
func (m *Monitor) OrderConfirmed() {
	m.incr("orders_confirmed", func(s *models.DailyStats) { s.OrdersConfirmed++ })
}

// IncErrors counts an operational error.
func (m *Monitor) IncErrors() {
	m.incr("errors", func(s *models.DailyStats) { s.Errors++ })
}

// Stats returns today's tallies.
func (m *Monitor) Stats() models.DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()
	return copyStats(m.stats)
}

func copyStats(s models.DailyStats) models.DailyStats {
	s.QuoteTimeMinutes = append([]float64(nil), s.QuoteTimeMinutes...)
	return s
}

// SummaryText renders the summary of the last finished day, or of today
// when no day has finished yet.
func (m *Monitor) SummaryText() string {
	m.mu.Lock()
	m.resetIfNewDayLocked()
	st := m.stats
	if m.prev != nil {
		st = *m.prev
	}
	st = copyStats(st)
	m.mu.Unlock()

	avg := "N/A"
	if a := st.AverageQuoteMinutes(); a >= 0 {
		avg = fmt.Sprintf("%.1f min", a)
	}
	return fmt.Sprintf("📊 *Resumen Diario — Zeli Bot*\n🕐 %s\n\n"+
		"Conversaciones: %d\nCotizaciones enviadas: %d\nPedidos confirmados: %d\n"+
		"Piezas no encontradas: %d\nErrores: %d\nTiempo promedio hasta cotización: %s\n\n"+
		"Bot status: ✅ Online",
		st.Date, st.Conversations, st.QuotesSent, st.OrdersConfirmed, st.PartsNotFound, st.Errors, avg)
}

// SendDailySummary delivers SummaryText to the owner.
func (m *Monitor) SendDailySummary(ctx context.Context) {
	if m.owner == "" || m.out == nil {
		return
	}
	m.out.Send(ctx, m.owner, m.SummaryText(), nil)
	m.log.Info("Monitor.SendDailySummary: sent")
}

// Schedule registers the daily summary and the periodic memory check.
func (m *Monitor) Schedule(c *scheduler.Cron, summaryExpr string) error {
	if err := c.AddJob("daily_summary", summaryExpr, func() { m.SendDailySummary(context.Background()) }); err != nil {
		return fmt.Errorf("schedule daily summary: %w", err)
	}
	if err := c.AddJob("memory_check", "@every 5m", func() { m.CheckMemory(context.Background()) }); err != nil {
		return fmt.Errorf("schedule memory check: %w", err)
	}
	return nil
}

// StatusText renders a status snapshot for the owner's "estado" command.
func StatusText(st models.Status) string {
	avg := "N/A"
	if a := st.Today.AverageQuoteMinutes(); a >= 0 {
		avg = fmt.Sprintf("%.1f min", a)
	}
	lines := []string{
		"📋 *Estado del bot*",
		fmt.Sprintf("Conversaciones activas: %d", st.ActiveConversations),
		fmt.Sprintf("Aprobaciones pendientes: %d", st.PendingApprovals),
		fmt.Sprintf("Selecciones pendientes: %d", st.PendingSelections),
		fmt.Sprintf("Sesiones en vivo: %d", st.LiveSessions),
		"",
		fmt.Sprintf("*Hoy (%s)*", st.Today.Date),
		fmt.Sprintf("Conversaciones: %d", st.Today.Conversations),
		fmt.Sprintf("Cotizaciones: %d", st.Today.QuotesSent),
		fmt.Sprintf("Confirmados: %d", st.Today.OrdersConfirmed),
		fmt.Sprintf("No encontradas: %d", st.Today.PartsNotFound),
		fmt.Sprintf("Errores: %d", st.Today.Errors),
		fmt.Sprintf("Tiempo promedio: %s", avg),
	}
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "desconocido"
	}
	return s
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
