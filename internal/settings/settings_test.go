package settings

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ChatToolSettings{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func boolPtr(b bool) *bool { return &b }

func TestResolveDefaultsWhenEmpty(t *testing.T) {
	repo := NewRepo(openTestDB(t))

	got, err := repo.Resolve(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Defaults()
	if got != want {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestResolveChatOverridesUserOverridesDefault(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	// user-level record
	if err := repo.Upsert(ctx, &ChatToolSettings{
		UserID:            1,
		RelationshipType:  "friend",
		PreferredLanguage: "Spanish",
		GoalsEnabled:      boolPtr(false),
	}); err != nil {
		t.Fatalf("upsert user-level: %v", err)
	}

	// chat-specific record overrides only the relationship
	chatID := uint64(10)
	if err := repo.Upsert(ctx, &ChatToolSettings{
		UserID:           1,
		CharacterID:      &chatID,
		RelationshipType: "lover",
	}); err != nil {
		t.Fatalf("upsert chat-level: %v", err)
	}

	got, err := repo.Resolve(ctx, 1, 10)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.RelationshipType != "lover" {
		t.Fatalf("chat-level should win: %+v", got)
	}
	if got.PreferredLanguage != "Spanish" {
		t.Fatalf("user-level language should survive: %+v", got)
	}
	if got.GoalsEnabled {
		t.Fatalf("user-level goals toggle should survive: %+v", got)
	}
	if got.Voice != "default" {
		t.Fatalf("default voice should fill the gap: %+v", got)
	}

	// other characters see only the user-level record
	other, err := repo.Resolve(ctx, 1, 11)
	if err != nil {
		t.Fatalf("resolve other: %v", err)
	}
	if other.RelationshipType != "friend" {
		t.Fatalf("other chat should fall back to user-level: %+v", other)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, &ChatToolSettings{UserID: 2, RelationshipType: "friend"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := repo.Upsert(ctx, &ChatToolSettings{UserID: 2, RelationshipType: "mentor"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.Resolve(ctx, 2, 99)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.RelationshipType != "mentor" {
		t.Fatalf("expected replacement, got %+v", got)
	}
}
