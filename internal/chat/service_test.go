package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/character"
	"github.com/emberhq/companion/internal/imagen"
	"github.com/emberhq/companion/internal/llm"
	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/prompt"
	"github.com/emberhq/companion/internal/settings"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// a single connection keeps every goroutine on the same in-memory database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{}, &character.Character{}, &character.GalleryImage{},
		&Session{}, &Message{}, &Job{}, &UpsellEvent{},
		&settings.ChatToolSettings{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// scriptedCompleter routes classifier calls by their system prompt and answers
// everything else with Reply.
type scriptedCompleter struct {
	mu    sync.Mutex
	Reply string
	Err   error

	GoalGen       string
	GoalCheck     string
	Scenario      string
	Upsell        string
	ImageRequest  string
	ImplicitImage string

	calls []string
}

func (f *scriptedCompleter) Complete(_ context.Context, req llm.CompleteRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(req.Messages) == 0 {
		return "", errors.New("no messages")
	}
	system := req.Messages[0].Content
	f.calls = append(f.calls, system)

	switch {
	case strings.Contains(system, "design conversational goals"):
		return orDefault(f.GoalGen, `{"goal_type":"none","completion_condition":"","difficulty":"easy","estimated_messages":3,"reward_points":0}`), nil
	case strings.Contains(system, "judge whether a conversational goal"):
		return orDefault(f.GoalCheck, `{"completed": false, "confidence": 0}`), nil
	case strings.Contains(system, "roleplay scenarios"):
		return orDefault(f.Scenario, `{"scenarios": []}`), nil
	case strings.Contains(system, "premium tier"):
		return orDefault(f.Upsell, `{"opportunity": false, "kind": "none", "confidence": 0}`), nil
	case strings.Contains(system, "picture of herself"):
		return orDefault(f.ImageRequest, `{"wants_image": false}`), nil
	case strings.Contains(system, "promises or strongly implies"):
		return orDefault(f.ImplicitImage, `{"sends_image": false}`), nil
	}
	if f.Err != nil {
		return "", f.Err
	}
	return orDefault(f.Reply, "hey there"), nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Send(_ context.Context, _ uint64, event string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []string
	fail bool
}

func (p *fakePublisher) PublishCompletionJob(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.jobs = append(p.jobs, jobID)
	return nil
}

type fakeImages struct {
	mu   sync.Mutex
	reqs []imagen.Request
}

func (f *fakeImages) Generate(_ context.Context, req imagen.Request) (imagen.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return imagen.Result{CanAfford: true, Acknowledgment: "A picture is on its way.", TaskID: "t1", PlaceholderID: "p1"}, nil
}

type fixture struct {
	db        *gorm.DB
	svc       *Service
	completer *scriptedCompleter
	notifier  *recordingNotifier
	publisher *fakePublisher
	images    *fakeImages
	user      models.User
	char      character.Character
	sess      *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)

	f := &fixture{
		db:        db,
		completer: &scriptedCompleter{},
		notifier:  &recordingNotifier{},
		publisher: &fakePublisher{},
		images:    &fakeImages{},
	}

	f.user = models.User{Email: "t@e.st", Username: "tester", PasswordHash: "x", Points: 100}
	if err := db.Create(&f.user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	f.char = character.Character{
		Name: "Mira", Gender: "female", SystemPrompt: "You are Mira.",
		ReferenceCharacter: "mira-ref", Personality: "warm",
	}
	if err := db.Create(&f.char).Error; err != nil {
		t.Fatalf("create character: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	f.svc = NewService(ServiceConfig{
		Repo:              NewRepo(db),
		Characters:        character.NewRepo(db),
		Settings:          settings.NewRepo(db),
		Users:             models.NewUserRepo(db),
		Points:            points.NewRepo(db),
		Completer:         f.completer,
		Builder:           prompt.NewBuilder(rng),
		Notifier:          f.notifier,
		Publisher:         f.publisher,
		Images:            f.images,
		ContextWindowSize: 20,
		Rand:              rng,
	})

	sess, err := f.svc.CreateSession(context.Background(), f.user.ID, f.char.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	f.sess = sess
	return f
}

func (f *fixture) enqueue(t *testing.T, content string) *Job {
	t.Helper()
	job, created, err := f.svc.EnqueueTurn(context.Background(), EnqueueInput{
		UserID:    f.user.ID,
		SessionID: f.sess.SessionID,
		Content:   content,
		UniqueID:  fmt.Sprintf("u-%d", len(f.publisher.jobs)),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh job")
	}
	return job
}

func TestEnqueueAndProcessTurn(t *testing.T) {
	f := newFixture(t)
	f.completer.Reply = "Hello! Nice to meet you."

	job := f.enqueue(t, "hi")
	if len(f.publisher.jobs) != 1 || f.publisher.jobs[0] != job.ID {
		t.Fatalf("job not published: %v", f.publisher.jobs)
	}

	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, err := f.svc.repo.GetJobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if stored.Status != JobSucceeded {
		t.Fatalf("job status = %s, want succeeded", stored.Status)
	}
	if !f.notifier.has("displayCompletionMessage") {
		t.Fatalf("completion was not pushed: %v", f.notifier.events)
	}

	msgs, err := f.svc.repo.ListRecentMessagesAsc(context.Background(), f.sess.SessionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant rows, got %d", len(msgs))
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hello! Nice to meet you." {
		t.Fatalf("assistant row wrong: %+v", msgs[1])
	}

	var sess Session
	if err := f.db.Where("session_id = ?", f.sess.SessionID).First(&sess).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if sess.MessageCount != 1 || sess.LastMessage == "" {
		t.Fatalf("session cache not touched: count=%d last=%q", sess.MessageCount, sess.LastMessage)
	}
}

func TestProcessJobCompletionFailureHidesBubble(t *testing.T) {
	f := newFixture(t)
	f.completer.Err = llm.ErrEmptyCompletion

	job := f.enqueue(t, "hi")
	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("terminal resolution failures must not requeue: %v", err)
	}

	stored, _ := f.svc.repo.GetJobByID(context.Background(), job.ID)
	if stored.Status != JobFailed {
		t.Fatalf("job status = %s, want failed", stored.Status)
	}
	if !f.notifier.has("hideCompletionMessage") {
		t.Fatalf("pending bubble was not hidden: %v", f.notifier.events)
	}
	if f.notifier.has("displayCompletionMessage") {
		t.Fatalf("no completion should be displayed on failure")
	}
}

func TestEnqueueIdempotencyKeyReturnsExistingJob(t *testing.T) {
	f := newFixture(t)
	key := "turn-abc"

	first, created, err := f.svc.EnqueueTurn(context.Background(), EnqueueInput{
		UserID: f.user.ID, SessionID: f.sess.SessionID, Content: "hi", UniqueID: "u1", IdempotencyKey: &key,
	})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}

	second, created, err := f.svc.EnqueueTurn(context.Background(), EnqueueInput{
		UserID: f.user.ID, SessionID: f.sess.SessionID, Content: "hi", UniqueID: "u1", IdempotencyKey: &key,
	})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Fatalf("duplicate key must not create a second job")
	}
	if second.ID != first.ID {
		t.Fatalf("expected the original job back, got %s vs %s", second.ID, first.ID)
	}
	if len(f.publisher.jobs) != 1 {
		t.Fatalf("duplicate enqueue must not publish again, got %d publishes", len(f.publisher.jobs))
	}
}

func TestEnqueueIdempotencyKeyScopedPerUser(t *testing.T) {
	f := newFixture(t)
	key := "turn-abc"

	other := models.User{Email: "o@e.st", Username: "other", PasswordHash: "x", Points: 100}
	if err := f.db.Create(&other).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	otherSess, err := f.svc.CreateSession(context.Background(), other.ID, f.char.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	first, created, err := f.svc.EnqueueTurn(context.Background(), EnqueueInput{
		UserID: f.user.ID, SessionID: f.sess.SessionID, Content: "hi", UniqueID: "u1", IdempotencyKey: &key,
	})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}

	second, created, err := f.svc.EnqueueTurn(context.Background(), EnqueueInput{
		UserID: other.ID, SessionID: otherSess.SessionID, Content: "hi", UniqueID: "u2", IdempotencyKey: &key,
	})
	if err != nil {
		t.Fatalf("other user's enqueue: %v", err)
	}
	if !created {
		t.Fatalf("another user's key must not collide")
	}
	if second.ID == first.ID {
		t.Fatalf("each user must get their own job, both got %s", first.ID)
	}
	if len(f.publisher.jobs) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(f.publisher.jobs))
	}
}

func TestGoalCompletionConfidenceBoundary(t *testing.T) {
	run := func(t *testing.T, confidence int, wantCompleted bool) {
		f := newFixture(t)
		f.completer.GoalCheck = fmt.Sprintf(`{"completed": true, "confidence": %d}`, confidence)
		// replacement goal after completion
		f.completer.GoalGen = `{"goal_type":"learn-hobby","completion_condition":"user shares a hobby","difficulty":"easy","estimated_messages":4,"reward_points":20}`

		goal := &Goal{Type: "first-name", CompletionCondition: "user says their name", RewardPoints: 30}
		if err := f.svc.repo.SetCurrentGoal(context.Background(), f.sess.SessionID, goal); err != nil {
			t.Fatalf("seed goal: %v", err)
		}

		// enough visible turns that the goal is checked, not regenerated
		for i, content := range []string{"hey", "hi!", "how was your day?", "lovely, yours?"} {
			role := RoleUser
			if i%2 == 1 {
				role = RoleAssistant
			}
			if err := f.svc.repo.InsertMessage(context.Background(), &Message{
				SessionID: f.sess.SessionID, UserID: f.user.ID, Role: role, Content: content,
			}); err != nil {
				t.Fatalf("seed history: %v", err)
			}
		}

		job := f.enqueue(t, "call me Sam")
		if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
			t.Fatalf("process: %v", err)
		}

		var sess Session
		if err := f.db.Where("session_id = ?", f.sess.SessionID).First(&sess).Error; err != nil {
			t.Fatalf("reload: %v", err)
		}
		var user models.User
		if err := f.db.First(&user, f.user.ID).Error; err != nil {
			t.Fatalf("reload user: %v", err)
		}

		if wantCompleted {
			if sess.CompletedGoals != 1 {
				t.Fatalf("goal not completed at confidence %d", confidence)
			}
			if user.Points != 130 {
				t.Fatalf("reward not awarded: points=%d", user.Points)
			}
			if !f.notifier.has("goalCompleted") {
				t.Fatalf("goalCompleted not pushed: %v", f.notifier.events)
			}
			if sess.CurrentGoal == nil || sess.CurrentGoal.Type != "learn-hobby" {
				t.Fatalf("replacement goal missing: %+v", sess.CurrentGoal)
			}
		} else {
			if sess.CompletedGoals != 0 {
				t.Fatalf("goal completed at confidence %d, floor is strict", confidence)
			}
			if user.Points != 100 {
				t.Fatalf("points changed without completion: %d", user.Points)
			}
		}
	}

	t.Run("at floor stays open", func(t *testing.T) { run(t, 70, false) })
	t.Run("above floor completes", func(t *testing.T) { run(t, 71, true) })
}

func TestScenarioGeneratedOnceEvenOnFailure(t *testing.T) {
	f := newFixture(t)
	f.completer.Scenario = "not json at all"

	job := f.enqueue(t, "hi")
	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	var sess Session
	if err := f.db.Where("session_id = ?", f.sess.SessionID).First(&sess).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !sess.ScenarioGenerated {
		t.Fatalf("scenario flag must flip even when generation fails")
	}
	if sess.CurrentScenario != "" {
		t.Fatalf("no scenario should be stored on parse failure")
	}

	// a second turn must not call the scenario classifier again
	before := len(f.completer.calls)
	job2 := f.enqueue(t, "again")
	if err := f.svc.ProcessJob(context.Background(), job2.ID); err != nil {
		t.Fatalf("process 2: %v", err)
	}
	for _, call := range f.completer.calls[before:] {
		if strings.Contains(call, "roleplay scenarios") {
			t.Fatalf("scenario generation ran twice")
		}
	}
}

func TestExplicitImageRequestTriggersGeneration(t *testing.T) {
	f := newFixture(t)
	f.completer.ImageRequest = `{"wants_image": true, "image_prompt": "selfie at the beach", "count": 1}`
	f.completer.Reply = "Sending one now!"

	job := f.enqueue(t, "send me a pic")
	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.images.reqs) == 0 {
		t.Fatalf("no image generation triggered")
	}
	if f.images.reqs[0].Prompt != "selfie at the beach" {
		t.Fatalf("prompt = %q", f.images.reqs[0].Prompt)
	}
}

func TestImageAnalysisDisabledSkipsClassifiers(t *testing.T) {
	f := newFixture(t)
	f.completer.ImageRequest = `{"wants_image": true, "image_prompt": "selfie", "count": 1}`

	job, created, err := f.svc.EnqueueTurn(context.Background(), EnqueueInput{
		UserID: f.user.ID, SessionID: f.sess.SessionID, Content: "pic please",
		UniqueID: "u1", DisableImageAnalysis: true,
	})
	if err != nil || !created {
		t.Fatalf("enqueue: %v", err)
	}
	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.images.reqs) != 0 {
		t.Fatalf("image analysis ran despite being disabled")
	}
}

func TestImplicitImageSkippedBelowThreshold(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Model(&models.User{}).Where("id = ?", f.user.ID).Update("points", 10).Error; err != nil {
		t.Fatalf("set points: %v", err)
	}
	f.completer.ImplicitImage = `{"sends_image": true, "image_prompt": "wink"}`
	f.completer.Reply = "Let me send you something..."

	job := f.enqueue(t, "hi")
	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.images.reqs) != 0 {
		t.Fatalf("implicit image generated for a user who cannot afford one")
	}
}

func TestUpsellDetectionRecordsEventOnce(t *testing.T) {
	f := newFixture(t)
	f.completer.Upsell = `{"opportunity": true, "kind": "images", "confidence": 80}`

	job := f.enqueue(t, "why can't I get more pictures?")
	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	var count int64
	if err := f.db.Model(&UpsellEvent{}).Where("user_id = ?", f.user.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one upsell event, got %d", count)
	}

	// cooldown suppresses the second detection entirely
	job2 := f.enqueue(t, "still no pictures")
	if err := f.svc.ProcessJob(context.Background(), job2.ID); err != nil {
		t.Fatalf("process 2: %v", err)
	}
	if err := f.db.Model(&UpsellEvent{}).Where("user_id = ?", f.user.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("upsell fired inside the cooldown window: %d events", count)
	}
}

func TestUpsellSkippedForPremiumUsers(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Model(&models.User{}).Where("id = ?", f.user.ID).
		Update("subscription_status", "active").Error; err != nil {
		t.Fatalf("set premium: %v", err)
	}
	f.completer.Upsell = `{"opportunity": true, "kind": "images", "confidence": 95}`

	job := f.enqueue(t, "hello")
	if err := f.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, call := range f.completer.calls {
		if strings.Contains(call, "premium tier") {
			t.Fatalf("upsell classifier ran for a premium user")
		}
	}
}

func TestGalleryInsertDeduplicatesConcurrently(t *testing.T) {
	f := newFixture(t)
	img := character.GalleryImage{CharacterID: f.char.ID, ObjectKey: "chars/mira/1.png", Prompt: "sunset"}
	if err := f.db.Create(&img).Error; err != nil {
		t.Fatalf("seed gallery: %v", err)
	}

	imageID := fmt.Sprintf("gallery-%d", img.ID)
	repo := f.svc.repo

	var wg sync.WaitGroup
	inserted := make([]bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := imageID
			ok, err := repo.InsertMessageIfAbsent(context.Background(), &Message{
				SessionID: f.sess.SessionID,
				UserID:    f.user.ID,
				Role:      RoleAssistant,
				Name:      NameGift,
				Content:   img.ObjectKey,
				Type:      TypeImage,
				ImageID:   &id,
			})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			inserted[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range inserted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	var count int64
	if err := f.db.Model(&Message{}).
		Where("session_id = ? AND image_id = ?", f.sess.SessionID, imageID).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("duplicate gallery rows: %d", count)
	}
}

func TestSuggestFollowsSessionLanguage(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.SetPreferredLanguage(context.Background(), f.user.ID, f.sess.SessionID, "Icelandic"); err != nil {
		t.Fatalf("set language: %v", err)
	}
	if err := f.svc.repo.InsertMessage(context.Background(), &Message{
		SessionID: f.sess.SessionID, UserID: f.user.ID, Role: RoleUser, Content: "hi",
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	f.completer.Reply = `{"suggestions": ["a", "b", "c"]}`
	got, err := f.svc.Suggest(context.Background(), f.user.ID, f.sess.SessionID)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("suggestions = %v", got)
	}

	found := false
	for _, call := range f.completer.calls {
		if strings.Contains(call, "reply suggestions") && strings.Contains(call, "Icelandic") {
			found = true
		}
	}
	if !found {
		t.Fatalf("suggestion prompt did not carry the session language")
	}
}

func TestValidateSessionOwnerRejectsForeignSession(t *testing.T) {
	f := newFixture(t)

	other := models.User{Email: "x@y.z", Username: "other", PasswordHash: "x"}
	if err := f.db.Create(&other).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := f.svc.ValidateSessionOwner(context.Background(), other.ID, f.sess.SessionID)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign session must look like a missing session, got %v", err)
	}
}
