// Command enqueue loads a recipient CSV into email_send_queue, rendering one
// HTML body per row from a template.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"MailQueue/internal/config"
	"MailQueue/internal/csvparser"
	"MailQueue/internal/db"
	"MailQueue/internal/email"
	"MailQueue/internal/models"
)

func main() {
	var (
		csvPath      = flag.String("csv", "", "recipient CSV with an Email column")
		templatePath = flag.String("template", "", "HTML body template")
		emailType    = flag.String("type", "", "email_type for every queued row")
		maxRetries   = flag.Int("max-retries", models.DefaultMaxRetries, "per-job retry budget")
		maxRows      = flag.Int("max-rows", csvparser.DefaultMaxRows, "maximum rows to import")
		scheduleAt   = flag.String("schedule-at", "", "optional RFC3339 time before which rows are not sent")
		dryRun       = flag.Bool("dry-run", false, "parse and render without writing to the database")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *csvPath == "" || *templatePath == "" || strings.TrimSpace(*emailType) == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *maxRetries < 1 {
		logger.Fatal("max-retries must be at least 1", zap.Int("max_retries", *maxRetries))
	}

	var scheduledFor *time.Time
	if *scheduleAt != "" {
		t, err := time.Parse(time.RFC3339, *scheduleAt)
		if err != nil {
			logger.Fatal("invalid schedule-at", zap.Error(err))
		}
		t = t.UTC()
		scheduledFor = &t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ------------------------------------------------
	// Parse + render
	// ------------------------------------------------
	f, err := os.Open(*csvPath)
	if err != nil {
		logger.Fatal("open csv", zap.Error(err))
	}
	defer f.Close()

	recipients, err := csvparser.ParseRecipients(f, *maxRows)
	if err != nil {
		logger.Fatal("parse csv", zap.Error(err))
	}
	for _, s := range recipients.Skipped {
		logger.Warn("row skipped", zap.Int("line", s.Line), zap.String("reason", s.Reason))
	}

	tmpl, err := email.ParseTemplate(*templatePath)
	if err != nil {
		logger.Fatal("load template", zap.Error(err))
	}

	jobs := make([]models.QueuedEmail, 0, len(recipients.Rows))
	for _, r := range recipients.Rows {
		data := make(map[string]string, len(r.Fields)+1)
		for k, v := range r.Fields {
			data[k] = v
		}
		data["Email"] = r.Email

		body, err := email.Render(tmpl, data)
		if err != nil {
			logger.Fatal("render body", zap.String("recipient", r.Email), zap.Error(err))
		}

		jobs = append(jobs, models.QueuedEmail{
			EmailType:      *emailType,
			RecipientEmail: r.Email,
			EmailContent:   body,
			MaxRetries:     *maxRetries,
			ScheduledFor:   scheduledFor,
		})
	}

	if *dryRun {
		fmt.Printf("%d rows ready, %d skipped\n", len(jobs), len(recipients.Skipped))
		return
	}

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	cfg, err := config.LoadDatabase()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	store, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, logger); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
	}

	queued := 0
	for i := range jobs {
		if err := store.Enqueue(ctx, &jobs[i]); err != nil {
			logger.Error("enqueue failed",
				zap.String("recipient", jobs[i].RecipientEmail),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		queued++
	}

	logger.Info("enqueue finished",
		zap.String("email_type", *emailType),
		zap.Int("queued", queued),
		zap.Int("failed", len(jobs)-queued),
		zap.Int("skipped", len(recipients.Skipped)),
	)
}
