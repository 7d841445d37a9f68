package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"MailQueue/internal/db"
	"MailQueue/internal/email"
	"MailQueue/internal/lock"
	"MailQueue/internal/metrics"
	"MailQueue/internal/models"
)

const (
	// DefaultBatchSize bounds the number of jobs read per run.
	DefaultBatchSize = 50

	// A claimed job is finished on a context detached from the caller, so
	// these bound the send and each state write instead.
	defaultSendTimeout  = 30 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

var ErrRunInProgress = errors.New("worker: queue run already in progress")

// Repository is the queue storage used by a Processor.
type Repository interface {
	FetchEligible(ctx context.Context, limit int, now time.Time) ([]models.QueuedEmail, error)
	Claim(ctx context.Context, id uuid.UUID, at time.Time) (models.QueuedEmail, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, status models.Status, retryCount int, errorMsg string, at time.Time) error
	InsertAlert(ctx context.Context, alert models.SecurityAlert) error
}

// Limiter paces outbound sends. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Locker guards against overlapping runs. Acquire returns lock.ErrLocked
// when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Processor drains one bounded batch of the email queue per Run.
type Processor struct {
	repo      Repository
	mailer    email.Mailer
	limiter   Limiter
	locker    Locker
	log       *zap.Logger
	from      string
	batchSize int

	now          func() time.Time
	writeBackOff func() backoff.BackOff
	sendTimeout  time.Duration
	writeTimeout time.Duration
}

type Option func(*Processor)

func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithLocker(l Locker) Option {
	return func(p *Processor) { p.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithWriteBackOff sets the retry policy for state writes made after a send.
func WithWriteBackOff(f func() backoff.BackOff) Option {
	return func(p *Processor) { p.writeBackOff = f }
}

// WithTimeouts bounds the send and each state write of a claimed job.
func WithTimeouts(send, write time.Duration) Option {
	return func(p *Processor) {
		if send > 0 {
			p.sendTimeout = send
		}
		if write > 0 {
			p.writeTimeout = write
		}
	}
}

func NewProcessor(
	repo Repository,
	mailer email.Mailer,
	limiter Limiter,
	from string,
	logger *zap.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		repo:      repo,
		mailer:    mailer,
		limiter:   limiter,
		log:       logger,
		from:      from,
		batchSize:    DefaultBatchSize,
		sendTimeout:  defaultSendTimeout,
		writeTimeout: defaultWriteTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		writeBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run processes eligible jobs sequentially in creation order. Per-job send
// failures are recorded on the row and never abort the batch; only a failed
// fetch, a held run lock or a cancelled context end the run early.
func (p *Processor) Run(ctx context.Context) (models.RunResult, error) {
	var result models.RunResult

	start := time.Now()
	defer func() {
		metrics.QueueRunDuration.Observe(time.Since(start).Seconds())
	}()

	if p.locker != nil {
		release, err := p.locker.Acquire(ctx)
		switch {
		case errors.Is(err, lock.ErrLocked):
			metrics.QueueRuns.WithLabelValues("locked").Inc()
			return result, ErrRunInProgress
		case err != nil:
			// Row claiming still keeps attempts exclusive.
			p.log.Warn("run lock unavailable, continuing without it", zap.Error(err))
		default:
			defer release()
		}
	}

	jobs, err := p.repo.FetchEligible(ctx, p.batchSize, p.now())
	if err != nil {
		metrics.QueueRuns.WithLabelValues("error").Inc()
		return result, fmt.Errorf("fetch eligible emails: %w", err)
	}

	result.Fetched = len(jobs)
	if len(jobs) == 0 {
		p.log.Info("no emails in queue")
		metrics.QueueRuns.WithLabelValues("empty").Inc()
		return result, nil
	}

	p.log.Info("processing queued emails", zap.Int("count", len(jobs)))

	for _, job := range jobs {
		// ----------------------------
		// Rate Limit
		// ----------------------------
		if err := p.limiter.Wait(ctx); err != nil {
			p.log.Warn("queue run interrupted",
				zap.Int("processed", result.Sent+result.Failed+result.PermanentFailures+result.Skipped),
				zap.Error(err),
			)
			metrics.QueueRuns.WithLabelValues("interrupted").Inc()
			return result, fmt.Errorf("wait for send slot: %w", err)
		}

		p.process(ctx, job, &result)
	}

	p.log.Info("queue processing completed",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("permanently_failed", result.PermanentFailures),
		zap.Int("skipped", result.Skipped),
	)
	metrics.QueueRuns.WithLabelValues("processed").Inc()

	return result, nil
}

func (p *Processor) process(ctx context.Context, job models.QueuedEmail, result *models.RunResult) {
	log := p.log.With(
		zap.String("email_id", job.ID.String()),
		zap.String("email_type", job.EmailType),
	)

	// ----------------------------
	// Claim
	// ----------------------------
	claimed, err := p.repo.Claim(ctx, job.ID, p.now())
	if err != nil {
		if errors.Is(err, db.ErrNotClaimed) {
			log.Info("email already claimed, skipping")
		} else {
			log.Error("failed to claim email", zap.Error(err))
		}
		result.Skipped++
		metrics.EmailsSkipped.Inc()
		return
	}

	// Once claimed, the row must leave "sending" even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	// ----------------------------
	// Send Email
	// ----------------------------
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	sendErr := p.mailer.Send(sendCtx, email.Message{
		From:    p.from,
		To:      claimed.RecipientEmail,
		Subject: email.SubjectFor(claimed.EmailType),
		HTML:    claimed.EmailContent,
		Tag:     claimed.EmailType,
	})
	cancel()

	if sendErr == nil {
		if err := p.write(ctx, func(ctx context.Context) error {
			return p.repo.MarkSent(ctx, claimed.ID, p.now())
		}); err != nil {
			log.Error("failed to update sent status", zap.Error(err))
		}

		log.Info("email sent", zap.String("to", claimed.RecipientEmail))
		result.Sent++
		metrics.EmailsSent.Inc()
		return
	}

	// ----------------------------
	// Record Failure
	// ----------------------------
	retryCount := claimed.RetryCount + 1
	errMsg := sendErr.Error()

	status := models.StatusFailed
	if retryCount >= claimed.MaxRetries {
		status = models.StatusPermanentlyFailed
	}

	log.Error("email send failed",
		zap.String("to", claimed.RecipientEmail),
		zap.Int("retry_count", retryCount),
		zap.Int("max_retries", claimed.MaxRetries),
		zap.Error(sendErr),
	)

	if err := p.write(ctx, func(ctx context.Context) error {
		return p.repo.MarkFailed(ctx, claimed.ID, status, retryCount, errMsg, p.now())
	}); err != nil {
		log.Error("failed to update failure status", zap.Error(err))
	}

	if status == models.StatusFailed {
		result.Failed++
		metrics.EmailFailures.Inc()
		return
	}

	result.PermanentFailures++
	metrics.EmailPermanentFailures.Inc()

	alert := models.DeliveryFailureAlert(claimed, retryCount, errMsg)
	if err := p.write(ctx, func(ctx context.Context) error {
		return p.repo.InsertAlert(ctx, alert)
	}); err != nil {
		log.Error("failed to create security alert", zap.Error(err))
	}
}

// write retries a state write, each attempt bounded by writeTimeout. A
// missing row is not retried.
func (p *Processor) write(ctx context.Context, op func(ctx context.Context) error) error {
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()

		err := op(attemptCtx)
		if errors.Is(err, db.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(p.writeBackOff(), ctx))
}
