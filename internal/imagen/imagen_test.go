package imagen

import (
	"context"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/store/rabbitmq"
)

type fakePublisher struct {
	jobs []rabbitmq.ImageJobMessage
}

func (p *fakePublisher) PublishImageJob(ctx context.Context, msg rabbitmq.ImageJobMessage) error {
	p.jobs = append(p.jobs, msg)
	return nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) Send(ctx context.Context, userID uint64, event string, payload any) error {
	n.events = append(n.events, event)
	return nil
}

func setup(t *testing.T, balance int64) (*Trigger, *fakePublisher, *fakeNotifier, uint64) {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	u := models.User{Email: "a@b.c", Username: "u1", PasswordHash: "x", Points: balance}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	pub := &fakePublisher{}
	ntf := &fakeNotifier{}
	trig := NewTrigger(points.NewRepo(db), pub, ntf, 50)
	return trig, pub, ntf, u.ID
}

func TestGenerateInsufficientPoints(t *testing.T) {
	trig, pub, ntf, uid := setup(t, 0)

	res, err := trig.Generate(context.Background(), Request{UserID: uid, SessionID: "s", Count: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.CanAfford {
		t.Fatalf("free user with 0 points must not afford an image")
	}
	if !strings.Contains(res.Acknowledgment, InsufficientPointsKey) {
		t.Fatalf("acknowledgment must carry the translation key: %q", res.Acknowledgment)
	}
	if len(pub.jobs) != 0 {
		t.Fatalf("no job may be enqueued on insufficient funds")
	}
	found := false
	for _, e := range ntf.events {
		if e == "openBuyPointsModal" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected openBuyPointsModal notification, got %v", ntf.events)
	}
}

func TestGenerateChargesAndEnqueues(t *testing.T) {
	trig, pub, _, uid := setup(t, 200)

	res, err := trig.Generate(context.Background(), Request{UserID: uid, SessionID: "s", CharacterID: 7, Prompt: "sunset", Count: 3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.CanAfford {
		t.Fatalf("200 points should afford 3 images at 50 each")
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(pub.jobs))
	}
	job := pub.jobs[0]
	if job.Count != 3 || job.CharacterID != 7 || job.PlaceholderID == "" || job.TaskID == "" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestGenerateCapsCount(t *testing.T) {
	trig, pub, _, uid := setup(t, 10_000)

	if _, err := trig.Generate(context.Background(), Request{UserID: uid, SessionID: "s", Count: 12}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pub.jobs[0].Count != 5 {
		t.Fatalf("count must cap at 5, got %d", pub.jobs[0].Count)
	}

	if _, err := trig.Generate(context.Background(), Request{UserID: uid, SessionID: "s", Count: 0}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pub.jobs[1].Count != 1 {
		t.Fatalf("count must floor at 1, got %d", pub.jobs[1].Count)
	}
}
