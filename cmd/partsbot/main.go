package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dimiro1/banner"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"

	"github.com/zeli-parts/partsbot/internal/api"
	"github.com/zeli-parts/partsbot/internal/approval"
	"github.com/zeli-parts/partsbot/internal/bot"
	"github.com/zeli-parts/partsbot/internal/config"
	"github.com/zeli-parts/partsbot/internal/conversation"
	apperrors "github.com/zeli-parts/partsbot/internal/errors"
	"github.com/zeli-parts/partsbot/internal/escalation"
	"github.com/zeli-parts/partsbot/internal/followup"
	"github.com/zeli-parts/partsbot/internal/genai"
	"github.com/zeli-parts/partsbot/internal/lockfile"
	"github.com/zeli-parts/partsbot/internal/logging"
	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/monitor"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/scheduler"
	"github.com/zeli-parts/partsbot/internal/session"
	"github.com/zeli-parts/partsbot/internal/sourcing"
	"github.com/zeli-parts/partsbot/internal/store"
	"github.com/zeli-parts/partsbot/internal/suppliers"
	"github.com/zeli-parts/partsbot/internal/twiliowhatsapp"
	"github.com/zeli-parts/partsbot/internal/util"
	"github.com/zeli-parts/partsbot/internal/whatsapp"
)

const (
	// DefaultDBFileName is the SQLite database created in the state
	// directory when no database DSN is configured.
	DefaultDBFileName = "partsbot.db"
	// DefaultWhatsAppDBFileName holds the whatsmeow device store.
	DefaultWhatsAppDBFileName = "whatsapp.db"

	asynqConcurrency = 10
	dedupRetention   = 72 * time.Hour
	dedupPruneExpr   = "@every 1h"
)

const bannerTemplate = `{{ .Title "partsbot" "" 0 }}
{{ .AnsiColor.BrightCyan }}WhatsApp auto parts desk{{ .AnsiColor.Default }}
Go {{ .GoVersion }} {{ .GOOS }}/{{ .GOARCH }}  started {{ .Now "2006-01-02 15:04:05" }}
`

// Flags holds command line overrides. Empty values leave the configuration
// untouched.
type Flags struct {
	configPath  string
	stateDir    string
	apiAddr     string
	transport   string
	qrOutput    string
	numericCode bool
	noBanner    bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	if !flags.noBanner {
		printBanner(os.Stdout)
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "partsbot: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, flags)

	sentryEnabled, err := logging.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "partsbot: %v\n", err)
	}
	log, flush := logging.Setup(cfg.Log, sentryEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, log, sentryEnabled)
	stop()
	if err != nil {
		log.Error("partsbot failed", "error", err)
		flush()
		os.Exit(1)
	}
	log.Info("partsbot exited")
	flush()
}

func parseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("partsbot", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.stateDir, "state-dir", "", "state directory (overrides $PARTSBOT_APP_STATE_DIR)")
	fs.StringVar(&f.apiAddr, "api-addr", "", "HTTP listen address (overrides $PARTSBOT_APP_API_ADDR)")
	fs.StringVar(&f.transport, "transport", "", "twilio or whatsmeow (overrides $PARTSBOT_APP_TRANSPORT)")
	fs.StringVar(&f.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&f.numericCode, "numeric-code", false, "print a numeric login code instead of a QR code")
	fs.BoolVar(&f.noBanner, "no-banner", false, "skip the startup banner")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

func applyFlags(cfg *config.Config, f Flags) {
	if f.stateDir != "" {
		cfg.App.StateDir = f.stateDir
	}
	if f.apiAddr != "" {
		cfg.App.APIAddr = f.apiAddr
	}
	if f.transport != "" {
		cfg.App.Transport = f.transport
	}
	if f.qrOutput != "" {
		cfg.WhatsApp.QROutput = f.qrOutput
	}
	if f.numericCode {
		cfg.WhatsApp.NumericCode = true
	}
}

func printBanner(w io.Writer) {
	banner.Init(w, true, true, bytes.NewBufferString(bannerTemplate))
}

// databaseDSN returns the configured DSN or a SQLite file in the state dir.
func databaseDSN(cfg *config.Config) string {
	if cfg.Database.DSN != "" {
		return cfg.Database.DSN
	}
	return filepath.Join(cfg.App.StateDir, DefaultDBFileName)
}

// whatsAppDSN returns the whatsmeow device store DSN. SQLite needs foreign
// keys on.
func whatsAppDSN(cfg *config.Config) string {
	if cfg.WhatsApp.DBDSN != "" {
		return cfg.WhatsApp.DBDSN
	}
	return "file:" + filepath.Join(cfg.App.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func redisClient(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newSessionStore(cfg *config.Config, rdb *redis.Client, log *slog.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("session backend redis needs redis.addr")
		}
		return session.NewRedisStore(rdb, log, cfg.Session.TTL), nil
	default:
		return session.NewMemoryStore(), nil
	}
}

func newScheduler(cfg *config.Config, jobs store.JobRepo) (scheduler.Scheduler, error) {
	switch cfg.Scheduler.Backend {
	case "sql":
		return scheduler.NewSQLScheduler(jobs, cfg.Scheduler.PollInterval), nil
	case "asynq":
		if cfg.Redis.Addr == "" {
			return nil, errors.New("scheduler backend asynq needs redis.addr")
		}
		return scheduler.NewAsynqScheduler(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, asynqConcurrency), nil
	default:
		return scheduler.NewMemoryScheduler(), nil
	}
}

// transport bundles the messaging service with what the webhook needs.
type transport struct {
	service   messaging.Service
	deliverer api.Deliverer
	validator api.SignatureChecker
}

func newTransport(cfg *config.Config) (transport, error) {
	switch cfg.App.Transport {
	case "whatsmeow":
		opts := []whatsapp.Option{whatsapp.WithDBDSN(whatsAppDSN(cfg))}
		if cfg.WhatsApp.QROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QROutput))
		}
		if cfg.WhatsApp.NumericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return transport{}, fmt.Errorf("whatsapp client: %w", err)
		}
		return transport{service: messaging.NewWhatsAppService(client)}, nil
	default:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken),
			twiliowhatsapp.WithFromWhats(cfg.Twilio.FromNumber),
		)
		if err != nil {
			return transport{}, fmt.Errorf("twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		t := transport{service: svc, deliverer: svc}
		if cfg.Twilio.ValidateSignature {
			t.validator = twiliowhatsapp.NewValidator(cfg.Twilio.AuthToken)
		}
		return t, nil
	}
}

// auditTrail writes to the database and, when configured, mirrors to the
// owner's spreadsheet. A sheet that cannot be opened is skipped.
func auditTrail(ctx context.Context, cfg *config.Config, repo store.AuditRepo, log *slog.Logger) *store.AuditTrail {
	var mirrors []store.AuditLog
	if cfg.Sheets.CredentialsFile != "" && cfg.Sheets.AuditSheetID != "" {
		sheet, err := store.NewSheetsAudit(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.AuditSheetID,
			cfg.Sheets.AuditRange, cfg.Sheets.Scopes...)
		if err != nil {
			log.Warn("audit sheet unavailable, continuing without mirror", "error", err)
		} else {
			mirrors = append(mirrors, sheet)
		}
	}
	return store.NewAuditTrail(repo, mirrors...)
}

func loadRegistry(cfg *config.Config) (*suppliers.Registry, error) {
	if cfg.App.DirectoryFile == "" {
		return suppliers.NewRegistry(suppliers.Directory{}), nil
	}
	return suppliers.LoadRegistry(cfg.App.DirectoryFile)
}

func inventoryLookups(ctx context.Context, cfg *config.Config, registry *suppliers.Registry, log *slog.Logger) func() []sourcing.Lookup {
	var reader suppliers.ValuesReader
	if cfg.Sheets.CredentialsFile != "" {
		r, err := suppliers.NewSheetsReader(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.Scopes...)
		if err != nil {
			log.Warn("inventory sheets unavailable", "error", err)
		} else {
			reader = r
		}
	}
	return func() []sourcing.Lookup {
		return lo.Map(registry.SheetLookups(reader, cfg.Sheets.InventoryRange), func(l *suppliers.SheetLookup, _ int) sourcing.Lookup {
			return l
		})
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, sentryEnabled bool) error {
	lock, err := lockfile.Acquire(cfg.App.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	owner, err := util.CanonicalPhone(cfg.App.OwnerNumber)
	if err != nil {
		return fmt.Errorf("owner number: %w", err)
	}

	db, err := store.Open(databaseDSN(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	rdb := redisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}
	sessions, err := newSessionStore(cfg, rdb, log)
	if err != nil {
		return err
	}
	sched, err := newScheduler(cfg, db)
	if err != nil {
		return err
	}

	tr, err := newTransport(cfg)
	if err != nil {
		return err
	}

	ai, err := genai.NewClient(
		genai.WithAPIKey(cfg.OpenAI.APIKey),
		genai.WithModel(cfg.OpenAI.Model),
		genai.WithTemperature(cfg.OpenAI.Temperature),
		genai.WithTimeout(cfg.OpenAI.Timeout),
	)
	if err != nil {
		return fmt.Errorf("genai client: %w", err)
	}

	// The monitor alerts through the sender, and the sender reports failed
	// sends to the monitor.
	var mon *monitor.Monitor
	sender := messaging.NewSender(tr.service,
		messaging.WithRetryDelay(cfg.Messaging.RetryDelay),
		messaging.WithRateLimit(cfg.Messaging.RatePerSecond, cfg.Messaging.Burst),
		messaging.WithFailureHook(func(to, body string, err error) { mon.SendFailed(to, body, err) }),
		messaging.WithSenderLogger(log),
	)
	mon = monitor.New(sender, owner,
		monitor.WithLocation(cfg.Location()),
		monitor.WithLogger(log),
		monitor.WithHighVolumeThreshold(cfg.Monitor.HighVolumeThreshold),
	)

	render := reply.NewRenderer(cfg.App.BusinessName)
	audit := auditTrail(ctx, cfg, db, log)

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	relay := suppliers.NewRelayDesk(sender, registry, ai)
	fanOut := sourcing.NewFanOut(
		suppliers.NewEstimator(ai, cfg.Sourcing.ShippingCost),
		inventoryLookups(ctx, cfg, registry, log),
		sourcing.WithSupplierWorkers(cfg.Sourcing.SupplierWorkers),
		sourcing.WithSupplierTimeout(cfg.Sourcing.SupplierTimeout),
		sourcing.WithRelay(relay),
	)

	var desk *approval.Desk
	timers := followup.New(sched, sender, render, mon,
		followup.WithReminderDelay(cfg.Followup.ReminderDelay),
		followup.WithLongWaitDelay(cfg.Followup.LongWaitDelay),
		followup.WithApprovalCheck(func(id string) bool { return desk.IsPending(id) }),
	)

	mgr := conversation.NewManager(conversation.Deps{
		Store:     sessions,
		Out:       sender,
		Render:    render,
		NLU:       ai,
		Reminders: timers,
		Alerts:    mon,
		Stats:     mon,
	})
	live := escalation.NewDesk(sender, owner, render, escalation.WithSessions(mgr))
	desk = approval.NewDesk(approval.Deps{
		Out:           sender,
		Owner:         owner,
		Render:        render,
		Audit:         audit,
		Timers:        timers,
		Stats:         mon,
		NLU:           ai,
		Conversations: mgr,
		Alerts:        mon,
	}, nil)
	orch := sourcing.NewOrchestrator(sourcing.Deps{
		Sourcer:       fanOut,
		Out:           sender,
		Render:        render,
		Audit:         audit,
		Reminders:     timers,
		Approvals:     desk,
		Conversations: mgr,
		Alerts:        mon,
	},
		sourcing.WithItemWorkers(cfg.Sourcing.ItemWorkers),
		sourcing.WithItemTimeout(cfg.Sourcing.ItemTimeout),
		sourcing.WithMarkup(cfg.Sourcing.Markup),
	)
	mgr.Sourcing = orch
	mgr.Escalator = live

	dispatcher := bot.New(bot.Deps{
		Owner:         owner,
		Out:           sender,
		Render:        render,
		Conversations: mgr,
		Quotes:        desk,
		Live:          live,
		Relay:         relay,
		Directory:     registry,
		Monitor:       mon,
		Dedup:         db,
		Errors:        apperrors.NewHandler(log, sentryEnabled),
		Markup:        cfg.Sourcing.Markup,
	})

	sweeper := session.NewSweeper(sessions, log, cfg.Session.TTL, cfg.Session.SweepInterval,
		session.WithExpireHook(mgr.Expired),
		session.WithLock(dispatcher.Lock),
	)

	cron := scheduler.NewCron(cfg.Location())
	defer cron.Stop()
	if err := mon.Schedule(cron, cfg.Scheduler.SummaryCron); err != nil {
		return fmt.Errorf("schedule summary: %w", err)
	}
	if err := cron.AddJob("dedup_prune", dedupPruneExpr, func() { pruneDedup(db, log) }); err != nil {
		return fmt.Errorf("schedule dedup prune: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	if err := tr.service.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	apiOpts := []api.Option{api.WithAddr(cfg.App.APIAddr), api.WithAuditHistory(db)}
	if tr.validator != nil {
		apiOpts = append(apiOpts, api.WithSignatureValidation(tr.validator, cfg.Twilio.WebhookURL))
	}
	server := api.NewServer(tr.deliverer, dispatcher, apiOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	serverErr := make(chan error, 1)
	wg.Go(func() { serverErr <- server.Run(runCtx) })
	wg.Go(func() { sweeper.Run(runCtx) })

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		dispatcher.Run(runCtx, tr.service.Inbound())
	}()

	log.Info("partsbot running",
		"transport", cfg.App.Transport,
		"api_addr", cfg.App.APIAddr,
		"session_backend", cfg.Session.Backend,
		"scheduler_backend", cfg.Scheduler.Backend,
		"suppliers", len(registry.Current().Suppliers),
		"stores", len(registry.Current().Stores))

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
		err = nil
	case err = <-serverErr:
		if err != nil {
			err = fmt.Errorf("api server: %w", err)
		}
	}

	cancel()
	<-dispatched
	wg.Wait()
	orch.Wait()
	sender.Close()
	if stopErr := tr.service.Stop(); stopErr != nil {
		log.Warn("transport stop failed", "error", stopErr)
	}
	return err
}

func pruneDedup(db store.DedupRepo, log *slog.Logger) {
	n, err := db.PruneInbound(time.Now().Add(-dedupRetention))
	if err != nil {
		log.Warn("dedup prune failed", "error", err)
		return
	}
	if n > 0 {
		log.Debug("dedup records pruned", "count", n)
	}
}
