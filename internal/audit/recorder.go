// Package audit appends moderation actions to the store and, optionally, to a rotating
// JSON journal on disk for offline review.
package audit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iamwavecut/warden/internal/db"
)

type auditStore interface {
	AppendAuditLog(ctx context.Context, entry *db.AuditEntry) error
}

type JournalOptions struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Recorder struct {
	store   auditStore
	journal *zap.Logger
	rotator *lumberjack.Logger
	now     func() time.Time
}

func NewRecorder(store auditStore, opts JournalOptions) *Recorder {
	r := &Recorder{
		store:   store,
		journal: zap.NewNop(),
		now:     time.Now,
	}
	if opts.Filename == "" {
		return r
	}

	r.rotator = &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    orDefault(opts.MaxSizeMB, 50),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 30),
		Compress:   true,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(r.rotator), zap.InfoLevel)
	r.journal = zap.New(core)
	return r
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Record appends one entry. The journal line is written even when the store fails,
// so the action is not lost entirely.
func (r *Recorder) Record(ctx context.Context, chatID int64, userID *int64, action, reason string) error {
	entry := &db.AuditEntry{
		ChatID:    chatID,
		UserID:    userID,
		Action:    action,
		Reason:    reason,
		CreatedAt: r.now(),
	}

	fields := []zap.Field{
		zap.Int64("chat_id", chatID),
		zap.String("action", action),
		zap.String("reason", reason),
	}
	if userID != nil {
		fields = append(fields, zap.Int64("user_id", *userID))
	}
	r.journal.Info("audit", fields...)

	if err := r.store.AppendAuditLog(ctx, entry); err != nil {
		log.WithField("object", "Recorder").
			WithField("chat_id", chatID).
			WithField("action", action).
			WithField("error", err.Error()).
			Error("cant append audit log")
		return errors.WithMessage(err, "audit "+action)
	}
	return nil
}

func (r *Recorder) Close() error {
	_ = r.journal.Sync()
	if r.rotator != nil {
		return r.rotator.Close()
	}
	return nil
}
