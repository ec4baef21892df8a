package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"airsense-backend/config"
	"airsense-backend/internal/db"
	"airsense-backend/internal/model"
	"airsense-backend/internal/qingping"
	"airsense-backend/internal/store"
	"airsense-backend/internal/syncer"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	return testDB
}

// nullClient satisfies syncer.ProviderClient for handler tests that
// never reach the provider.
type nullClient struct {
	unbound []string
}

func (n *nullClient) GetAccessToken(_ context.Context, _, _ string) (*qingping.Token, error) {
	return &qingping.Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (n *nullClient) ListDevices(_ context.Context, _ string) ([]qingping.RawDevice, error) {
	return nil, nil
}

func (n *nullClient) UpdateDeviceSettings(_ context.Context, _, _ string, _, _ int) error {
	return nil
}

func (n *nullClient) UnbindDevice(_ context.Context, _, mac string) error {
	n.unbound = append(n.unbound, mac)
	return nil
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	testDB := newTestDB(t)
	s := store.NewGormStore(testDB)

	cfg := &config.Config{}
	svc := syncer.NewService(cfg, s, &nullClient{}, nil)
	return NewRouter(s, svc, &webpush.Options{VAPIDPublicKey: "pub"}), testDB, s
}

func signWebhook(timestamp, token, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, mac, secret string, data []qingping.DeviceData) []byte {
	t.Helper()
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	body := qingping.WebhookBody{
		Signature: qingping.WebhookSignature{
			Timestamp: json.Number(timestamp),
			Token:     "tok-1",
			Signature: signWebhook(timestamp, "tok-1", secret),
		},
	}
	body.Payload.Info.MAC = mac
	body.Payload.Data = data
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func postWebhook(router *gin.Engine, tenantID string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/qingping/"+tenantID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestPostWebhook(t *testing.T) {
	router, testDB, s := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProviderConfig(ctx, &model.ProviderConfig{
		TenantID: 1, Provider: model.ProviderQingping, WebhookSecret: "hook-secret",
	}))
	device := model.Device{TenantID: 1, Provider: model.ProviderQingping, ProviderDeviceID: "CCB5D132368B", DisplayName: "Office"}
	require.NoError(t, testDB.Create(&device).Error)

	sample := []qingping.DeviceData{{
		"timestamp": {Value: 1_700_000_000},
		"pm25":      {Value: 12.5},
	}}

	t.Run("accepts a correctly signed push", func(t *testing.T) {
		w := postWebhook(router, "1", webhookBody(t, "CC:B5:D1:32:36:8B", "hook-secret", sample))
		assert.Equal(t, http.StatusOK, w.Code)

		var readings int64
		testDB.Model(&model.Reading{}).Where("device_id = ?", device.ID).Count(&readings)
		assert.Equal(t, int64(1), readings)
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		w := postWebhook(router, "1", webhookBody(t, "CCB5D132368B", "wrong-secret", sample))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a tenant with no webhook secret", func(t *testing.T) {
		w := postWebhook(router, "2", webhookBody(t, "CCB5D132368B", "hook-secret", sample))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects an unknown device", func(t *testing.T) {
		w := postWebhook(router, "1", webhookBody(t, "AABBCCDDEEFF", "hook-secret", sample))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		w := postWebhook(router, "1", []byte("not json"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a non-numeric tenant id", func(t *testing.T) {
		w := postWebhook(router, "abc", webhookBody(t, "CCB5D132368B", "hook-secret", sample))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a missing tenant segment", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/webhooks/qingping",
			bytes.NewReader(webhookBody(t, "CCB5D132368B", "hook-secret", sample)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPostWebhook_DuplicateDelivery(t *testing.T) {
	router, testDB, s := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProviderConfig(ctx, &model.ProviderConfig{
		TenantID: 1, Provider: model.ProviderQingping, WebhookSecret: "hook-secret",
	}))
	device := model.Device{TenantID: 1, Provider: model.ProviderQingping, ProviderDeviceID: "CCB5D132368B", DisplayName: "Office"}
	require.NoError(t, testDB.Create(&device).Error)

	sample := []qingping.DeviceData{{
		"timestamp": {Value: 1_700_000_000},
		"pm25":      {Value: 12.5},
	}}

	// Provider retries deliver the same sample twice.
	body := webhookBody(t, "CCB5D132368B", "hook-secret", sample)
	assert.Equal(t, http.StatusOK, postWebhook(router, "1", body).Code)
	assert.Equal(t, http.StatusOK, postWebhook(router, "1", body).Code)

	var readings int64
	testDB.Model(&model.Reading{}).Where("device_id = ?", device.ID).Count(&readings)
	assert.Equal(t, int64(1), readings)
}
