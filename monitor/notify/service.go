// Package notify delivers confirmed-deposit webhooks from the notification
// outbox. Delivery burns its attempt budget in the store before each POST,
// so no crash or concurrent worker can push a notification past its cap. A
// background scan resumes deliveries a previous process left unfinished.
package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/async"
	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/db"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
	"github.com/chainsentry/evm-transfer-monitor/runtime/version"
)

var log = logrus.WithField("prefix", "notify")

const (
	// retryScanInterval is how often the background loop claims retryable
	// outbox rows.
	retryScanInterval = 10 * time.Second
	// cleanupInterval is how often finished outbox rows are pruned.
	cleanupInterval = 24 * time.Hour
	// retryBatchSize caps rows claimed per background scan.
	retryBatchSize = 50
	// queueDepth bounds the dispatch channel. Overflow is safe: rows stay
	// pending in the outbox and the background scan picks them up.
	queueDepth = 256
	// finalizeTimeout bounds outbox bookkeeping writes, which must complete
	// even when the delivery context is already canceled.
	finalizeTimeout = 5 * time.Second
	// maxResponseBytes caps how much of the receiver's response is stored.
	maxResponseBytes = 4096
)

// deliveryStats is the slice of the stats collector this service feeds.
type deliveryStats interface {
	NotificationSent()
	NotificationFailed()
	NotificationRetried()
}

// Config wires the notification service.
type Config struct {
	Notification *config.NotificationConfig
	Store        db.NotificationStore
	Stats        deliveryStats
}

// Service owns webhook delivery. Freshly created notifications arrive over
// Enqueue; rows from earlier runs arrive through the background retry scan.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config
	client *http.Client
	queue  chan *types.NotificationRecord

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService builds the notification service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Notification.IsEnabled() && cfg.Notification.URL == "" {
		return nil, errors.New("notification url is required when notifications are enabled")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Notification.AttemptTimeout()},
		queue:    make(chan *types.NotificationRecord, queueDepth),
		inFlight: make(map[string]struct{}),
	}, nil
}

// Start launches the dispatch, retry, and cleanup loops.
func (s *Service) Start() {
	if !s.cfg.Notification.IsEnabled() {
		log.Info("Notification delivery disabled")
		return
	}
	log.WithFields(logrus.Fields{
		"url":         s.cfg.Notification.URL,
		"timeout":     s.cfg.Notification.AttemptTimeout(),
		"maxAttempts": s.cfg.Notification.RetryTimes,
	}).Info("Starting notification service")
	go s.dispatchLoop()
	async.RunEvery(s.ctx, retryScanInterval, s.retryDue)
	async.RunEvery(s.ctx, cleanupInterval, s.cleanup)
}

// Stop halts delivery. In-flight bookkeeping writes run on their own
// short-lived contexts and are not cut off.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy. Failed deliveries are retried from the
// outbox rather than degrading the process.
func (s *Service) Status() error {
	return nil
}

// Enabled reports whether webhook delivery is configured on.
func (s *Service) Enabled() bool {
	return s.cfg.Notification.IsEnabled()
}

// MaxAttempts returns the per-notification delivery budget.
func (s *Service) MaxAttempts() int {
	return s.cfg.Notification.RetryTimes
}

// Enqueue hands a freshly created notification to the dispatch loop. A full
// queue is not an error: the row is already persisted and the retry scan
// will claim it.
func (s *Service) Enqueue(rec *types.NotificationRecord) {
	if !s.Enabled() {
		return
	}
	select {
	case s.queue <- rec:
	default:
		log.WithField("id", rec.ID).Warn("Dispatch queue full, deferring to retry scan")
	}
}

func (s *Service) dispatchLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case rec := <-s.queue:
			s.deliver(s.ctx, rec)
		}
	}
}

func (s *Service) retryDue() {
	recs, err := s.cfg.Store.ListNotificationsDueRetry(s.ctx, time.Now(), retryBatchSize)
	if err != nil {
		log.WithError(err).Error("Could not scan outbox for retryable notifications")
		return
	}
	for _, rec := range recs {
		if s.ctx.Err() != nil {
			return
		}
		if s.deliver(s.ctx, rec) {
			notificationRetriesRecovered.Inc()
		}
	}
}

func (s *Service) cleanup() {
	days := s.cfg.Notification.CleanupDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := s.cfg.Store.DeleteOldNotifications(s.ctx, cutoff)
	if err != nil {
		log.WithError(err).Error("Could not prune old notifications")
		return
	}
	if removed > 0 {
		log.WithFields(logrus.Fields{"removed": removed, "olderThan": cutoff.Format("2006-01-02")}).Info("Pruned finished notifications")
	}
}

// deliver runs the inline attempt loop for one notification. It reports
// whether this call took ownership of the row; false means another delivery
// already had it in flight or the row vanished.
func (s *Service) deliver(ctx context.Context, rec *types.NotificationRecord) bool {
	if !s.claim(rec.ID) {
		return false
	}
	defer s.release(rec.ID)

	var lastErr error
	exhausted := false
	for {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		attempt, err := s.cfg.Store.IncrementAttempt(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, db.ErrAttemptsExhausted) {
				exhausted = true
				if lastErr == nil {
					lastErr = err
				}
				break
			}
			if errors.Is(err, db.ErrNotFound) {
				log.WithField("id", rec.ID).Warn("Notification vanished before delivery")
				return false
			}
			lastErr = err
			break
		}
		notificationAttemptsTotal.Inc()
		if attempt > 1 {
			s.cfg.Stats.NotificationRetried()
		}

		respBody, err := s.post(ctx, rec, attempt)
		if err == nil {
			s.finalizeSent(rec, attempt, respBody)
			return true
		}
		lastErr = err
		log.WithError(err).WithFields(logrus.Fields{
			"id":          rec.ID,
			"txHash":      rec.TxHash,
			"attempt":     attempt,
			"maxAttempts": rec.MaxAttempts,
		}).Warn("Notification attempt failed")

		if attempt >= rec.MaxAttempts {
			exhausted = true
			break
		}
		if !s.pause(ctx, s.cfg.Notification.InlineRetryDelay()) {
			break
		}
	}
	s.finalizeFailed(rec, lastErr, exhausted)
	return true
}

// post sends one webhook attempt and returns the receiver's response body
// on any 2xx answer.
func (s *Service) post(ctx context.Context, rec *types.NotificationRecord, attempt int) (string, error) {
	body, err := decorate(rec.RequestData, attempt, time.Now())
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Notification.URL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "could not build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "webhook request failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close webhook response body")
		}
	}()
	notificationLatency.Observe(float64(time.Since(start).Milliseconds()))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", errors.Wrap(err, "could not read webhook response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Errorf("webhook answered %d: %s", resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}

func (s *Service) finalizeSent(rec *types.NotificationRecord, attempt int, respBody string) {
	wctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := s.cfg.Store.MarkNotificationSent(wctx, rec.ID, respBody); err != nil {
		log.WithError(err).WithField("id", rec.ID).Error("Could not record delivered notification")
	}
	s.cfg.Stats.NotificationSent()
	notificationsSentTotal.Inc()
	log.WithFields(logrus.Fields{
		"id":      rec.ID,
		"txHash":  rec.TxHash,
		"userID":  rec.UserID,
		"attempt": attempt,
	}).Info("Notification delivered")
}

// finalizeFailed records why delivery stopped. With budget remaining the
// store keeps the row retryable at the background backoff; at the cap it
// becomes failed_final.
func (s *Service) finalizeFailed(rec *types.NotificationRecord, lastErr error, exhausted bool) {
	msg := "delivery failed"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	next := time.Now().Add(s.cfg.Notification.BackgroundRetryDelay())
	wctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := s.cfg.Store.MarkNotificationFailed(wctx, rec.ID, msg, &next); err != nil {
		log.WithError(err).WithField("id", rec.ID).Error("Could not record failed notification")
	}
	if exhausted {
		s.cfg.Stats.NotificationFailed()
		notificationsFailedTotal.Inc()
		log.WithFields(logrus.Fields{"id": rec.ID, "txHash": rec.TxHash}).Error("Notification permanently failed")
	}
}

// pause waits out the inline retry delay, returning false if the context
// ended first.
func (s *Service) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Service) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
