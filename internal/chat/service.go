package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/character"
	"github.com/emberhq/companion/internal/common"
	"github.com/emberhq/companion/internal/imagen"
	"github.com/emberhq/companion/internal/llm"
	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/notify"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/prompt"
	"github.com/emberhq/companion/internal/settings"
)

// Completer is the slice of the LLM client the pipeline uses.
type Completer interface {
	Complete(ctx context.Context, req llm.CompleteRequest) (string, error)
}

// CompletionPublisher enqueues completion jobs for the worker.
type CompletionPublisher interface {
	PublishCompletionJob(ctx context.Context, jobID string) error
}

// ImageTrigger is the slice of the image module the pipeline uses.
type ImageTrigger interface {
	Generate(ctx context.Context, req imagen.Request) (imagen.Result, error)
}

const imageAffordanceThreshold = 50

type Service struct {
	repo       *Repo
	characters *character.Repo
	generator  *character.Generator
	settings   *settings.Repo
	users      *models.UserRepo
	points     *points.Repo
	completer  Completer
	builder    *prompt.Builder
	notifier   notify.Notifier
	publisher  CompletionPublisher
	images     ImageTrigger

	contextWindowSize int
	rng               *rand.Rand
	rngMu             sync.Mutex

	// turns serializes pipeline runs per session so goal/scenario
	// read-decide-write sequences cannot interleave for one conversation.
	turns keyedMutex
}

type ServiceConfig struct {
	Repo              *Repo
	Characters        *character.Repo
	Generator         *character.Generator
	Settings          *settings.Repo
	Users             *models.UserRepo
	Points            *points.Repo
	Completer         Completer
	Builder           *prompt.Builder
	Notifier          notify.Notifier
	Publisher         CompletionPublisher
	Images            ImageTrigger
	ContextWindowSize int
	Rand              *rand.Rand
}

func NewService(cfg ServiceConfig) *Service {
	window := cfg.ContextWindowSize
	if window <= 0 || window > 100 {
		window = 20
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Service{
		repo:              cfg.Repo,
		characters:        cfg.Characters,
		generator:         cfg.Generator,
		settings:          cfg.Settings,
		users:             cfg.Users,
		points:            cfg.Points,
		completer:         cfg.Completer,
		builder:           cfg.Builder,
		notifier:          cfg.Notifier,
		publisher:         cfg.Publisher,
		images:            cfg.Images,
		contextWindowSize: window,
		rng:               rng,
	}
}

func (s *Service) CreateSession(ctx context.Context, userID, characterID uint64) (*Session, error) {
	if _, err := s.characters.GetByID(ctx, characterID); err != nil {
		return nil, err
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		SessionID:   sid,
		UserID:      userID,
		CharacterID: characterID,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) ValidateSessionOwner(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
}

// EnqueueInput is one completion turn request from the browser.
type EnqueueInput struct {
	UserID               uint64
	SessionID            string
	Content              string
	UniqueID             string
	Hidden               bool
	DisableImageAnalysis bool
	IdempotencyKey       *string
}

// EnqueueTurn persists the user message, records the job and hands it to the
// worker. The HTTP response is only an ack; the completion arrives over the
// notification channel.
func (s *Service) EnqueueTurn(ctx context.Context, in EnqueueInput) (*Job, bool, error) {
	if _, err := s.ValidateSessionOwner(ctx, in.UserID, in.SessionID); err != nil {
		return nil, false, err
	}

	if strings.TrimSpace(in.Content) != "" {
		if err := s.repo.InsertMessage(ctx, &Message{
			SessionID: in.SessionID,
			UserID:    in.UserID,
			Role:      RoleUser,
			Content:   in.Content,
			Hidden:    in.Hidden,
		}); err != nil {
			return nil, false, err
		}
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	job := &Job{
		ID:                   jobID,
		UserID:               in.UserID,
		SessionID:            in.SessionID,
		UniqueID:             in.UniqueID,
		Hidden:               in.Hidden,
		DisableImageAnalysis: in.DisableImageAnalysis,
		IdempotencyKey:       in.IdempotencyKey,
		Status:               JobQueued,
	}

	job, created, err := s.repo.CreateJobOrGetExisting(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := s.publisher.PublishCompletionJob(ctx, job.ID); err != nil {
			_ = s.repo.MarkJobFailed(ctx, job.ID, "enqueue failed: "+err.Error())
			return nil, false, err
		}
	}
	return job, created, nil
}

// ProcessJob runs the completion pipeline for one queued turn. Known
// recoverable failures degrade; only infrastructure errors are returned so
// the queue can retry or dead-letter the delivery.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	unlock := s.turns.Lock(job.SessionID)
	defer unlock()

	pc, err := s.loadTurnContext(ctx, job)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		s.notifyHide(ctx, job)
		return err
	}

	// character regeneration is degraded-continue: a half-built persona
	// still beats no reply at all
	if !pc.character.Complete() && s.generator != nil {
		if regenerated, err := s.generator.Regenerate(ctx, pc.character); err != nil {
			log.Warn().Err(err).Uint64("character_id", pc.character.ID).
				Msg("character regeneration failed, continuing incomplete")
		} else {
			pc.character = regenerated
		}
	}

	s.maybeGenerateScenario(ctx, pc)

	imageAck := s.handleExplicitImageRequest(ctx, job, pc)

	goalContext := s.handleGoals(ctx, pc)

	upsellAddendum := s.detectUpsell(ctx, pc)

	system := s.buildSystemPrompt(pc, goalContext, imageAck, upsellAddendum)

	wire := append([]llm.Message{{Role: RoleSystem, Content: system}}, TransformMessages(pc.history)...)

	reply, err := s.completer.Complete(ctx, llm.CompleteRequest{
		Messages:       wire,
		PreferredModel: pc.resolved.ModelKey,
		Premium:        pc.user.IsPremium(),
	})
	if err != nil {
		// every provider failure degrades to "hide the pending bubble";
		// the ack response is long gone
		log.Warn().Err(err).Str("job_id", jobID).Msg("completion failed")
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		s.notifyHide(ctx, job)
		if isInfrastructureErr(err) {
			return err
		}
		return nil
	}

	assistantMsg := &Message{
		SessionID: job.SessionID,
		UserID:    job.UserID,
		Role:      RoleAssistant,
		Content:   reply,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		s.notifyHide(ctx, job)
		return err
	}
	if err := s.repo.TouchSession(ctx, job.SessionID, reply); err != nil {
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("session touch failed")
	}
	if err := s.repo.MarkJobSucceeded(ctx, jobID, assistantMsg.ID); err != nil {
		return err
	}

	if err := s.notifier.Send(ctx, job.UserID, notify.EventDisplayCompletion, map[string]any{
		"message":   reply,
		"messageId": assistantMsg.ID,
		"sessionId": job.SessionID,
		"uniqueId":  job.UniqueID,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", job.UserID).Msg("completion notification failed")
	}

	s.handleImplicitImageOffer(ctx, job, pc, reply)
	s.maybeInsertGalleryImage(ctx, pc)

	return nil
}

// pipelineContext is everything one turn loads up front.
type pipelineContext struct {
	job       *Job
	session   *Session
	character *character.Character
	user      *models.User
	resolved  settings.Resolved
	history   []Message
	balance   int64
}

func (s *Service) loadTurnContext(ctx context.Context, job *Job) (*pipelineContext, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, job.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	pc := &pipelineContext{job: job, session: sess}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.users.GetByID(gctx, job.UserID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		pc.user = u
		pc.balance = u.Points
		return nil
	})
	g.Go(func() error {
		c, err := s.characters.GetByID(gctx, sess.CharacterID)
		if err != nil {
			return fmt.Errorf("load character: %w", err)
		}
		pc.character = c
		return nil
	})
	g.Go(func() error {
		resolved, err := s.settings.Resolve(gctx, job.UserID, sess.CharacterID)
		if err != nil {
			return fmt.Errorf("resolve settings: %w", err)
		}
		pc.resolved = resolved
		return nil
	})
	g.Go(func() error {
		history, err := s.repo.ListRecentMessagesAsc(gctx, job.SessionID, s.contextWindowSize)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		pc.history = history
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pc, nil
}

func (s *Service) language(pc *pipelineContext) string {
	if pc.session.PreferredLanguage != "" {
		return pc.session.PreferredLanguage
	}
	return pc.resolved.PreferredLanguage
}

func (s *Service) buildSystemPrompt(pc *pipelineContext, goalContext, imageAck, upsellAddendum string) string {
	base := s.builder.SystemContent(prompt.SystemContentInput{
		Character:  pc.character,
		UserPoints: pc.balance,
		Language:   s.language(pc),
		Scenario:   pc.session.CurrentScenario,
		Goal:       goalContext,
	})

	full := s.builder.ApplyUserSettings(base, prompt.SettingsInput{
		RelationshipType:   pc.resolved.RelationshipType,
		Gender:             pc.character.Gender,
		Personality:        pc.character.Personality,
		Occupation:         pc.character.Occupation,
		Preferences:        pc.character.Preferences,
		CustomInstructions: pc.resolved.CustomInstructions,
		PersonaDescription: pc.user.PersonaDescription,
	})

	if imageAck != "" {
		full += "\n\n" + imageAck
	}
	if upsellAddendum != "" {
		full += "\n\n" + upsellAddendum
	}
	return full
}

func (s *Service) notifyHide(ctx context.Context, job *Job) {
	if err := s.notifier.Send(ctx, job.UserID, notify.EventHideCompletion, map[string]any{
		"uniqueId":  job.UniqueID,
		"sessionId": job.SessionID,
	}); err != nil {
		log.Warn().Err(err).Uint64("user_id", job.UserID).Msg("hide notification failed")
	}
}

// isInfrastructureErr separates retryable infrastructure failures from known
// terminal resolution failures.
func isInfrastructureErr(err error) bool {
	return !errors.Is(err, llm.ErrNoModel) &&
		!errors.Is(err, llm.ErrNoProvider) &&
		!errors.Is(err, llm.ErrNoAPIKey) &&
		!errors.Is(err, llm.ErrEmptyCompletion)
}

func (s *Service) chance(oneIn int) bool {
	return s.intn(oneIn) == 0
}

func (s *Service) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}
