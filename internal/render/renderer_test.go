package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/chat"
	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/store/rabbitmq"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
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

func setup(t *testing.T, providerStatus int, image []byte) (*Renderer, *gorm.DB, *memStore, *recordingNotifier, models.User) {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &chat.Session{}, &chat.Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	u := models.User{Email: "r@e.st", Username: "render", PasswordHash: "x", Points: 0}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(providerStatus)
		_, _ = w.Write(image)
	}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	notifier := &recordingNotifier{}
	r := NewRenderer(store, chat.NewRepo(db), points.NewRepo(db), notifier, 50)
	r.endpoint = srv.URL
	r.lookupEnv = func(string) (string, bool) { return "test-key", true }
	return r, db, store, notifier, u
}

func job(userID uint64) rabbitmq.ImageJobMessage {
	return rabbitmq.ImageJobMessage{
		TaskID:        "01TESTTASK",
		UserID:        userID,
		SessionID:     "01TESTSESSION",
		CharacterID:   1,
		Prompt:        "sunset selfie",
		Count:         2,
		PlaceholderID: "ph-1",
	}
}

func TestProcessStoresAndAttachesEveryImage(t *testing.T) {
	r, db, store, notifier, u := setup(t, http.StatusOK, []byte("png-bytes"))

	if err := r.Process(context.Background(), job(u.ID)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(store.objects) != 2 {
		t.Fatalf("stored %d objects, want 2", len(store.objects))
	}

	var count int64
	if err := db.Model(&chat.Message{}).Where("session_id = ?", "01TESTSESSION").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("attached %d messages, want 2", count)
	}

	ready := 0
	for _, e := range notifier.events {
		if e == "imageReady" {
			ready++
		}
	}
	if ready != 2 {
		t.Fatalf("imageReady sent %d times, want 2", ready)
	}
}

func TestProcessRedeliveryDoesNotDuplicateImages(t *testing.T) {
	r, db, _, _, u := setup(t, http.StatusOK, []byte("png-bytes"))

	if err := r.Process(context.Background(), job(u.ID)); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := r.Process(context.Background(), job(u.ID)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	var count int64
	if err := db.Model(&chat.Message{}).Where("session_id = ?", "01TESTSESSION").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("redelivery duplicated images: %d rows", count)
	}
}

func TestProcessProviderFailureRefunds(t *testing.T) {
	r, db, _, notifier, u := setup(t, http.StatusInternalServerError, []byte("boom"))

	if err := r.Process(context.Background(), job(u.ID)); err != nil {
		t.Fatalf("terminal provider failure must not requeue: %v", err)
	}

	var user models.User
	if err := db.First(&user, u.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if user.Points != 100 { // 2 images at 50 each, charged at enqueue time
		t.Fatalf("refund missing, points=%d", user.Points)
	}

	failed := false
	for _, e := range notifier.events {
		if e == "imageFailed" {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("imageFailed not sent: %v", notifier.events)
	}
}

func TestProcessMissingAPIKeyFailsJob(t *testing.T) {
	r, _, store, notifier, u := setup(t, http.StatusOK, []byte("png"))
	r.lookupEnv = func(string) (string, bool) { return "", false }

	if err := r.Process(context.Background(), job(u.ID)); err != nil {
		t.Fatalf("missing key is terminal, not retryable: %v", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("nothing should be stored without a key")
	}

	failed := false
	for _, e := range notifier.events {
		if e == "imageFailed" {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("imageFailed not sent")
	}
}
