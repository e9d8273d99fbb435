package moderation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/infra"
	"github.com/iamwavecut/warden/internal/observability"
)

const (
	sweepInterval = time.Minute
	sweepPanics   = 3
)

type pipelineStore interface {
	GetSettings(ctx context.Context, chatID int64) (*db.Settings, error)
	ListFilterWords(ctx context.Context, chatID int64) ([]string, error)
}

// Message is an inbound chat message from a human sender.
type Message struct {
	ChatID    int64
	MessageID int
	UserID    int64
	UserName  string
	Text      string
	Caption   string
	FromAdmin bool
}

type Action string

const (
	ActionNone       Action = "clean"
	ActionFlood      Action = "flood"
	ActionSuppressed Action = "suppressed"
	ActionSkipped    Action = "skipped"
)

type Result struct {
	Action  Action
	Verdict Verdict
	Outcome Outcome
}

type PipelineConfig struct {
	DefaultFloodLimit int
}

// Pipeline screens messages: flood first, then content rules, then escalation.
type Pipeline struct {
	store     pipelineStore
	tracker   *RateTracker
	escalator *Escalator
	messenger messenger
	auditor   auditor
	metrics   *observability.Metrics
	cfg       PipelineConfig

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPipeline(
	store pipelineStore,
	tracker *RateTracker,
	escalator *Escalator,
	messenger messenger,
	auditor auditor,
	metrics *observability.Metrics,
	cfg PipelineConfig,
) *Pipeline {
	return &Pipeline{
		store:     store,
		tracker:   tracker,
		escalator: escalator,
		messenger: messenger,
		auditor:   auditor,
		metrics:   metrics,
		cfg:       cfg,
	}
}

func (p *Pipeline) Name() string {
	return "moderation"
}

// Start runs the periodic rate tracker sweep.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.started = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		infra.GoRecoverable(sweepPanics, "flood_sweep", p.sweepLoop(runCtx))
	}()
	return nil
}

func (p *Pipeline) sweepLoop(runCtx context.Context) func() {
	return func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if n := p.tracker.Sweep(); n > 0 {
					log.WithField("object", "Pipeline").WithField("dropped", n).Trace("swept flood windows")
				}
			}
		}
	}
}

func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage screens one message. Chats with antispam disabled are not screened
// at all, so their members do not fill the flood windows either.
func (p *Pipeline) HandleMessage(ctx context.Context, msg Message) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "moderation.HandleMessage")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", msg.ChatID),
		attribute.Int64("user_id", msg.UserID),
	)
	done := p.metrics.StartMessageProcessing()

	res, err := p.handle(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		done("error")
		return res, err
	}
	span.SetAttributes(attribute.String("action", string(res.Action)))
	done(string(res.Action))
	return res, nil
}

func (p *Pipeline) handle(ctx context.Context, msg Message) (Result, error) {
	entry := log.WithField("object", "Pipeline").
		WithField("chat_id", msg.ChatID).
		WithField("user_id", msg.UserID)

	settings, err := p.store.GetSettings(ctx, msg.ChatID)
	if err != nil {
		return Result{}, errors.WithMessage(err, "resolve settings")
	}
	if !settings.AntispamEnabled {
		return Result{Action: ActionSkipped}, nil
	}

	floodLimit := settings.EffectiveFloodLimit(p.cfg.DefaultFloodLimit)
	if p.tracker.RecordAndCheck(msg.ChatID, msg.UserID, floodLimit) {
		entry.Info("flood detected")
		p.suppress(ctx, entry, msg)
		_ = p.auditor.Record(ctx, msg.ChatID, db.UserRef(msg.UserID), db.ActionFlood, ReasonFlood)
		p.metrics.RecordVerdict(CodeFlood)
		outcome, err := p.escalator.Escalate(ctx, Offense{
			ChatID:   msg.ChatID,
			UserID:   msg.UserID,
			UserName: msg.UserName,
			Reason:   ReasonFlood,
		}, settings)
		return Result{Action: ActionFlood, Verdict: violation(CodeFlood, ReasonFlood), Outcome: outcome}, err
	}

	words, err := p.store.ListFilterWords(ctx, msg.ChatID)
	if err != nil {
		return Result{}, errors.WithMessage(err, "list filter words")
	}
	verdict := Classify(ClassifyInput{
		Text:        msg.Text,
		Caption:     msg.Caption,
		BlockLinks:  settings.BlockLinks,
		FilterWords: words,
		FromAdmin:   msg.FromAdmin,
	})
	if !verdict.Violation {
		return Result{Action: ActionNone}, nil
	}

	entry.WithField("code", verdict.Code).Info("message violates rules")
	p.suppress(ctx, entry, msg)
	_ = p.auditor.Record(ctx, msg.ChatID, db.UserRef(msg.UserID), db.ActionDeleted, verdict.Code)
	p.metrics.RecordVerdict(verdictLabel(verdict.Code))
	outcome, err := p.escalator.Escalate(ctx, Offense{
		ChatID:   msg.ChatID,
		UserID:   msg.UserID,
		UserName: msg.UserName,
		Reason:   verdict.Reason,
	}, settings)
	return Result{Action: ActionSuppressed, Verdict: verdict, Outcome: outcome}, err
}

// verdictLabel drops the matched word so metric labels stay bounded.
func verdictLabel(code string) string {
	label, _, _ := strings.Cut(code, ":")
	return label
}

func (p *Pipeline) suppress(ctx context.Context, entry *log.Entry, msg Message) {
	if err := p.messenger.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant delete message")
		p.metrics.RecordPlatformFailure("delete")
	}
}
