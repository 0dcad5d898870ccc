package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	appdb "courtside-backend/internal/db"
	"courtside-backend/internal/model"
)

func newSubscriptionDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, testDB.AutoMigrate(appdb.Models()...))
	require.NoError(t, testDB.Create(&[]model.Venue{
		{ID: "rucker", Name: "Rucker Park"},
		{ID: "west4", Name: "West 4th Street"},
	}).Error)
	return testDB
}

func TestPutSubscription_InvalidBody(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(http.MethodPut, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPut, "/api/subscriptions", gin.H{"endpoint": "https://push.example/a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptions_WithoutDatabase(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint": "https://push.example/a", "p256dh": "k", "auth": "a",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint=https://push.example/a", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubscriptions_Lifecycle(t *testing.T) {
	env := newTestEnv(t, newSubscriptionDB(t), nil)
	const endpoint = "https://push.example/send/abc"

	w := env.do(http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint":          endpoint,
		"p256dh":            "key-1",
		"auth":              "auth-1",
		"subscribed_venues": []string{"rucker", "atlantis"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed_venues":["rucker"]}`, w.Body.String())

	w = env.do(http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint":          endpoint,
		"p256dh":            "key-2",
		"auth":              "auth-2",
		"subscribed_venues": []string{"west4"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	assert.JSONEq(t, `{"subscribed_venues":["west4"]}`, w.Body.String())

	w = env.do(http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
