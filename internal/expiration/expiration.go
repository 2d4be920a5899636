// Package expiration runs the sweep that deletes expired files and warns
// uploaders of files about to expire.
package expiration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/lifecycle"
	"github.com/marianozunino/filez/internal/metrics"
	"github.com/marianozunino/filez/internal/model"
)

// Store is the part of the record store the sweeper needs
type Store interface {
	FindExpired(ctx context.Context, now time.Time) ([]model.FileRecord, error)
	FindExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.FileRecord, error)
	Save(ctx context.Context, rec model.FileRecord) (model.FileRecord, error)
	Delete(ctx context.Context, rec model.FileRecord) error
}

// Notifier sends the deletion warning for a record
type Notifier interface {
	NotifyDeletion(ctx context.Context, rec model.FileRecord) error
}

// Options configures a Sweeper
type Options struct {
	Enabled            bool
	Interval           time.Duration
	NotificationWindow time.Duration
}

// Report lists the hashes handled by one sweep
type Report struct {
	Deleted  []string `json:"deleted"`
	Notified []string `json:"notified"`
	Failed   int      `json:"failed"`
}

// Sweeper handles the file expiration process
type Sweeper struct {
	store    Store
	engine   *lifecycle.Engine
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options
	now      func() time.Time

	stop   context.CancelFunc
	doneCh chan struct{}
}

// NewSweeper creates a new sweeper
func NewSweeper(store Store, engine *lifecycle.Engine, notifier Notifier, m *metrics.Metrics,
	logger *zap.Logger, opts Options, now func() time.Time,
) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:    store,
		engine:   engine,
		notifier: notifier,
		metrics:  m,
		logger:   logger.Named("sweeper"),
		opts:     opts,
		now:      now,
	}
}

// Run sweeps immediately and then on every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.opts.Enabled {
		s.logger.Info("sweeper disabled")
		<-ctx.Done()
		return nil
	}

	s.logger.Info("sweeper started", zap.Duration("interval", s.opts.Interval))
	s.Sweep(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		}
	}
}

// Start runs the sweeper in the background until Stop is called
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		s.Run(ctx)
	}()
}

// Stop halts a sweeper started with Start and waits for it to return
func (s *Sweeper) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.doneCh
	s.stop = nil
}

// Sweep deletes every expired record, then marks and notifies the records
// entering the notification window. Failures on one record are logged and
// never stop the others. The notified flag is persisted before sending and
// is kept even if the send fails.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	start := time.Now()
	now := s.now()

	var report Report
	deleted := s.deleteExpired(ctx, now, &report)
	s.notifyExpiring(ctx, now, deleted, &report)

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Info("expiration check complete",
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("notified", len(report.Notified)),
		zap.Int("failed", report.Failed),
	)
	return report
}

func (s *Sweeper) deleteExpired(ctx context.Context, now time.Time, report *Report) map[string]struct{} {
	deleted := make(map[string]struct{})

	expired, err := s.store.FindExpired(ctx, now)
	if err != nil {
		s.logger.Error("failed to list expired files", zap.Error(err))
		report.Failed++
		return deleted
	}

	for _, rec := range expired {
		// the store query decides expiry; recheck so a clock skew between
		// the query and now never deletes an available file
		if s.engine.IsAvailable(rec, now) {
			continue
		}

		if err := s.store.Delete(ctx, rec); err != nil {
			s.logger.Error("failed to delete expired file",
				zap.String("hash", rec.Hash), zap.Error(err))
			s.countDeletion("error")
			report.Failed++
			continue
		}

		s.logger.Info("removed expired file",
			zap.String("hash", rec.Hash),
			zap.String("file_name", rec.FileName),
			zap.Time("expired_at", rec.ExpiresAt),
		)
		s.countDeletion("ok")
		deleted[rec.Hash] = struct{}{}
		report.Deleted = append(report.Deleted, rec.Hash)
	}

	return deleted
}

func (s *Sweeper) notifyExpiring(ctx context.Context, now time.Time, deleted map[string]struct{}, report *Report) {
	expiring, err := s.store.FindExpiringWithin(ctx, now, s.opts.NotificationWindow)
	if err != nil {
		s.logger.Error("failed to list files to be deleted", zap.Error(err))
		report.Failed++
		return
	}

	for _, rec := range expiring {
		if _, gone := deleted[rec.Hash]; gone {
			continue
		}
		if !s.engine.NotificationDue(rec, now, s.opts.NotificationWindow) {
			continue
		}

		saved, err := s.store.Save(ctx, s.engine.MarkNotified(rec))
		if err != nil {
			// without the flag persisted a send could repeat on every sweep
			s.logger.Warn("failed to mark file as notified, skipping notification",
				zap.String("hash", rec.Hash), zap.Error(err))
			report.Failed++
			continue
		}

		if err := s.notifier.NotifyDeletion(ctx, saved); err != nil {
			s.logger.Error("can't send deletion notification",
				zap.String("to", saved.UploaderEmail),
				zap.String("hash", saved.Hash),
				zap.Error(err))
			s.countNotification("error")
			report.Failed++
			continue
		}

		s.countNotification("ok")
		report.Notified = append(report.Notified, saved.Hash)
	}
}

func (s *Sweeper) countDeletion(result string) {
	if s.metrics != nil {
		s.metrics.FilesDeleted.WithLabelValues("sweep", result).Inc()
	}
}

func (s *Sweeper) countNotification(result string) {
	if s.metrics != nil {
		s.metrics.Notifications.WithLabelValues("deletion_warning", result).Inc()
	}
}

