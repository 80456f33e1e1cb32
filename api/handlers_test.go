package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nihanth-yadalam/IAP---backend/engine"
	"github.com/nihanth-yadalam/IAP---backend/integrations"
	"github.com/nihanth-yadalam/IAP---backend/internal/models"
	"github.com/nihanth-yadalam/IAP---backend/schedule"
)

const testSecret = "test-secret"

// stubCalendar satisfies integrations.Calendar with canned responses; the
// handler tests only care that the engine was (or was not) driven.
type stubCalendar struct {
	mu    sync.Mutex
	lists int
}

func (s *stubCalendar) listCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func (s *stubCalendar) CreateEvent(ctx context.Context, token, calID string, ev integrations.Event) (string, error) {
	return "ev-1", nil
}

func (s *stubCalendar) UpdateEvent(ctx context.Context, token, calID, eventID string, ev integrations.Event) error {
	return nil
}

func (s *stubCalendar) DeleteEvent(ctx context.Context, token, calID, eventID string) error {
	return nil
}

func (s *stubCalendar) ListEvents(ctx context.Context, token, calID, syncToken string, window time.Duration) (integrations.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	return integrations.Delta{NextSyncToken: "cursor-1"}, nil
}

func (s *stubCalendar) Watch(ctx context.Context, token, calID, channelID, address string, ttl time.Duration) (integrations.Channel, error) {
	exp := time.Now().Add(ttl)
	return integrations.Channel{ID: channelID, ResourceID: "res-1", ExpiresAt: &exp}, nil
}

func (s *stubCalendar) StopChannel(ctx context.Context, token, channelID, resourceID string) error {
	return nil
}

func setupRouter(t *testing.T) (*gin.Engine, *stubCalendar, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Slot{}, &models.Task{}, &models.SyncState{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	cal := &stubCalendar{}
	eng := engine.New(db, cal, engine.Config{
		ResyncWindow:   30 * 24 * time.Hour,
		MatchTolerance: 5 * time.Second,
		ChannelTTL:     7 * 24 * time.Hour,
		RenewLead:      24 * time.Hour,
	}, zap.NewNop())

	h := &Handler{
		DB:         db,
		Engine:     eng,
		Collisions: schedule.NewCollisionChecker(db),
		Workers:    make(chan struct{}, 2),
	}

	router := gin.New()
	apiGroup := router.Group("/api")
	apiGroup.POST("/webhooks/google-calendar", h.GoogleWebhookHandler)
	apiGroup.HEAD("/webhooks/google-calendar", h.GoogleWebhookHandler)

	authed := apiGroup.Group("", AuthRequired(testSecret))
	authed.GET("/sync/status", h.SyncStatusHandler)
	authed.POST("/sync/trigger", h.TriggerSyncHandler)
	authed.POST("/schedule/check-collision", h.CheckCollisionHandler)

	return router, cal, db
}

func seedLinkedUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	token := "refresh-token"
	user := &models.User{Email: uuid.NewString() + "@example.com", GoogleRefreshToken: &token}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user
}

func bearerToken(t *testing.T, userID uint) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": float64(userID),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return "Bearer " + signed
}

func TestWebhookHandshakeAcknowledged(t *testing.T) {
	router, cal, db := setupRouter(t)
	user := seedLinkedUser(t, db)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/google-calendar", nil)
	req.Header.Set("X-Goog-Channel-ID", models.NewChannelID(user.ID))
	req.Header.Set("X-Goog-Resource-State", models.ResourceStateSync)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	time.Sleep(50 * time.Millisecond)
	if cal.listCount() != 0 {
		t.Fatalf("handshake triggered a sync")
	}
}

func TestWebhookMalformedChannelIDAcknowledged(t *testing.T) {
	router, cal, _ := setupRouter(t)

	for _, channelID := range []string{"", "garbage", "channel-notanumber-x", "other-12-y"} {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/google-calendar", nil)
		if channelID != "" {
			req.Header.Set("X-Goog-Channel-ID", channelID)
		}
		req.Header.Set("X-Goog-Resource-State", models.ResourceStateExists)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("channel id %q: status = %d, want 200 (provider controls retries)", channelID, w.Code)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if cal.listCount() != 0 {
		t.Fatalf("malformed notification triggered a sync")
	}
}

func TestWebhookChangeTriggersPull(t *testing.T) {
	router, cal, db := setupRouter(t)
	user := seedLinkedUser(t, db)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/google-calendar", nil)
	req.Header.Set("X-Goog-Channel-ID", models.NewChannelID(user.ID))
	req.Header.Set("X-Goog-Resource-State", models.ResourceStateExists)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	// The pull runs on the worker pool; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for cal.listCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cal.listCount() == 0 {
		t.Fatalf("change notification did not trigger a pull")
	}
}

func TestWebhookHeadRequestAcknowledged(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodHead, "/api/webhooks/google-calendar", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	router, _, db := setupRouter(t)
	user := seedLinkedUser(t, db)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	req.Header.Set("Authorization", bearerToken(t, user.ID))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", w.Code)
	}
}

func TestTriggerSyncNotLinked(t *testing.T) {
	router, _, db := setupRouter(t)
	user := &models.User{Email: "unlinked@example.com"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	req.Header.Set("Authorization", bearerToken(t, user.ID))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unlinked user", w.Code)
	}
}

func TestCheckCollisionEndpoint(t *testing.T) {
	router, _, db := setupRouter(t)
	user := seedLinkedUser(t, db)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	if err := db.Create(&models.Task{
		UserID:           user.ID,
		Title:            "Essay",
		ScheduledStartAt: &start,
		ScheduledEndAt:   &end,
	}).Error; err != nil {
		t.Fatalf("seeding task: %v", err)
	}

	check := func(body map[string]interface{}) int {
		payload, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/schedule/check-collision", bytes.NewReader(payload))
		req.Header.Set("Authorization", bearerToken(t, user.ID))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	overlapping := map[string]interface{}{
		"start": start.Add(30 * time.Minute).Format(time.RFC3339),
		"end":   start.Add(90 * time.Minute).Format(time.RFC3339),
	}
	if code := check(overlapping); code != http.StatusConflict {
		t.Fatalf("overlapping interval: status = %d, want 409", code)
	}

	adjacent := map[string]interface{}{
		"start": end.Format(time.RFC3339),
		"end":   end.Add(time.Hour).Format(time.RFC3339),
	}
	if code := check(adjacent); code != http.StatusOK {
		t.Fatalf("adjacent interval: status = %d, want 200", code)
	}
}
