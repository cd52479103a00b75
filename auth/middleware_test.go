package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kritika/models"
)

func setupGatedRouter(a *AuthModule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/private", a.Authenticate(), RequireAuth(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/admin-only", a.Authenticate(), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func createUser(t *testing.T, db *gorm.DB, username, role string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func getWithToken(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	db := setupTestDB()
	a := newTestModule(db, &fakeSender{})
	router := setupGatedRouter(a)

	w := getWithToken(router, "/private", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	user := createUser(t, db, "alice", models.RoleUser)
	token, err := a.AccessToken(user)
	require.NoError(t, err)

	w = getWithToken(router, "/private", token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	db := setupTestDB()
	a := newTestModule(db, &fakeSender{})
	router := setupGatedRouter(a)

	w := getWithToken(router, "/private", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Token signed with a different secret.
	other := NewAuthModule(db, &fakeSender{}, "other-secret")
	user := createUser(t, db, "alice", models.RoleUser)
	token, err := other.AccessToken(user)
	require.NoError(t, err)

	w = getWithToken(router, "/private", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_DeletedUser(t *testing.T) {
	db := setupTestDB()
	a := newTestModule(db, &fakeSender{})
	router := setupGatedRouter(a)

	user := createUser(t, db, "alice", models.RoleUser)
	token, err := a.AccessToken(user)
	require.NoError(t, err)
	require.NoError(t, db.Delete(user).Error)

	w := getWithToken(router, "/private", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	db := setupTestDB()
	a := newTestModule(db, &fakeSender{})
	router := setupGatedRouter(a)

	tests := []struct {
		name     string
		user     *models.User
		expected int
	}{
		{"plain user", createUser(t, db, "user", models.RoleUser), http.StatusForbidden},
		{"moderator", createUser(t, db, "mod", models.RoleModerator), http.StatusForbidden},
		{"admin role", createUser(t, db, "admin", models.RoleAdmin), http.StatusOK},
	}

	staff := createUser(t, db, "staff", models.RoleUser)
	staff.IsStaff = true
	require.NoError(t, db.Save(staff).Error)
	tests = append(tests, struct {
		name     string
		user     *models.User
		expected int
	}{"staff flag", staff, http.StatusOK})

	super := createUser(t, db, "super", models.RoleUser)
	super.IsSuperuser = true
	require.NoError(t, db.Save(super).Error)
	tests = append(tests, struct {
		name     string
		user     *models.User
		expected int
	}{"superuser flag", super, http.StatusOK})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := a.AccessToken(tt.user)
			require.NoError(t, err)
			w := getWithToken(router, "/admin-only", token)
			assert.Equal(t, tt.expected, w.Code)
		})
	}

	w := getWithToken(router, "/admin-only", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCanModerate(t *testing.T) {
	author := &models.User{ID: 1, Role: models.RoleUser}
	other := &models.User{ID: 2, Role: models.RoleUser}
	moderator := &models.User{ID: 3, Role: models.RoleModerator}
	admin := &models.User{ID: 4, Role: models.RoleAdmin}

	assert.True(t, CanModerate(author, 1))
	assert.False(t, CanModerate(other, 1))
	assert.True(t, CanModerate(moderator, 1))
	assert.True(t, CanModerate(admin, 1))
}
