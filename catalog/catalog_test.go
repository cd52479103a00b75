package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"kritika/auth"
	"kritika/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.User{}, &models.Category{}, &models.Genre{},
		&models.Title{}, &models.Review{}, &models.Comment{})
	return db
}

func setupTest(t *testing.T) (*gorm.DB, *auth.AuthModule, *gin.Engine) {
	t.Helper()
	t.Setenv("READ_CACHE_TTL_SECONDS", "0")

	db := setupTestDB()
	authModule := auth.NewAuthModule(db, nil, "test-secret")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewCatalogModule(db, authModule, nil).RegisterRoutes(router)
	return db, authModule, router
}

func adminToken(t *testing.T, db *gorm.DB, a *auth.AuthModule) string {
	t.Helper()
	admin := &models.User{Username: "admin", Email: "admin@example.com", Role: models.RoleAdmin}
	require.NoError(t, db.Create(admin).Error)
	token, err := a.AccessToken(admin)
	require.NoError(t, err)
	return token
}

func doJSON(router *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createCategory(t *testing.T, db *gorm.DB, name, slug string) *models.Category {
	t.Helper()
	category := &models.Category{Name: name, Slug: slug}
	require.NoError(t, db.Create(category).Error)
	return category
}

func createGenre(t *testing.T, db *gorm.DB, name, slug string) *models.Genre {
	t.Helper()
	genre := &models.Genre{Name: name, Slug: slug}
	require.NoError(t, db.Create(genre).Error)
	return genre
}

func TestCategories_CRUD(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)

	// Anonymous writes are rejected, reads are open.
	w := doJSON(router, "POST", "/api/v1/categories", `{"name": "Books", "slug": "books"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, "POST", "/api/v1/categories", `{"name": "Books", "slug": "books"}`, token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, "POST", "/api/v1/categories", `{"name": "Other books", "slug": "books"}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "slug already taken")

	w = doJSON(router, "POST", "/api/v1/categories", `{"name": "Bad", "slug": "no spaces!"}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "GET", "/api/v1/categories", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"slug":"books"`)

	w = doJSON(router, "DELETE", "/api/v1/categories/books", "", token)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, "DELETE", "/api/v1/categories/books", "", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteCategory_KeepsTitles(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)

	category := createCategory(t, db, "Movies", "movies")
	title := models.Title{Name: "Alien", Year: 1979, CategoryID: &category.ID}
	require.NoError(t, db.Create(&title).Error)

	w := doJSON(router, "DELETE", "/api/v1/categories/movies", "", token)
	require.Equal(t, http.StatusNoContent, w.Code)

	var stored models.Title
	require.NoError(t, db.First(&stored, title.ID).Error)
	assert.Nil(t, stored.CategoryID)
}

func TestDeleteGenre_DetachesTitles(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)

	genre := createGenre(t, db, "Horror", "horror")
	title := models.Title{Name: "Alien", Year: 1979, Genres: []models.Genre{*genre}}
	require.NoError(t, db.Create(&title).Error)

	w := doJSON(router, "DELETE", "/api/v1/genres/horror", "", token)
	require.Equal(t, http.StatusNoContent, w.Code)

	var stored models.Title
	require.NoError(t, db.Preload("Genres").First(&stored, title.ID).Error)
	assert.Empty(t, stored.Genres)
}

func TestCreateTitle(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)
	createCategory(t, db, "Movies", "movies")
	createGenre(t, db, "Sci-Fi", "sci-fi")

	w := doJSON(router, "POST", "/api/v1/titles",
		`{"name": "Alien", "year": 1979, "description": "In space", "genre": ["sci-fi"], "category": "movies"}`,
		token)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ID       int              `json:"id"`
		Rating   *int             `json:"rating"`
		Genre    []models.Genre   `json:"genre"`
		Category *models.Category `json:"category"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Rating)
	require.Len(t, resp.Genre, 1)
	assert.Equal(t, "sci-fi", resp.Genre[0].Slug)
	require.NotNil(t, resp.Category)
	assert.Equal(t, "movies", resp.Category.Slug)

	// Unknown slugs are rejected up front.
	w = doJSON(router, "POST", "/api/v1/titles",
		`{"name": "Ghost", "year": 1990, "genre": ["opera"]}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/api/v1/titles",
		`{"name": "Ghost", "year": 1990, "category": "plays"}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTitleYearValidation(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)

	current := time.Now().Year()

	w := doJSON(router, "POST", "/api/v1/titles",
		fmt.Sprintf(`{"name": "From the future", "year": %d}`, current+1), token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/api/v1/titles", `{"name": "Before time", "year": -44}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Year zero and the current year are both fine.
	w = doJSON(router, "POST", "/api/v1/titles", `{"name": "Ancient", "year": 0}`, token)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, "POST", "/api/v1/titles",
		fmt.Sprintf(`{"name": "Fresh", "year": %d}`, current), token)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTitleRating(t *testing.T) {
	db, authModule, router := setupTest(t)
	adminToken(t, db, authModule)

	title := models.Title{Name: "Alien", Year: 1979}
	require.NoError(t, db.Create(&title).Error)

	for i, score := range []int{5, 8} {
		author := models.User{
			Username: fmt.Sprintf("reviewer%d", i),
			Email:    fmt.Sprintf("reviewer%d@example.com", i),
			Role:     models.RoleUser,
		}
		require.NoError(t, db.Create(&author).Error)
		require.NoError(t, db.Create(&models.Review{
			AuthorID: author.ID, TitleID: title.ID,
			Text: "ok", Score: score, PubDate: time.Now(),
		}).Error)
	}

	// (5+8)/2 = 6.5, truncated to 6.
	w := doJSON(router, "GET", fmt.Sprintf("/api/v1/titles/%d", title.ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rating":6`)

	unrated := models.Title{Name: "Nobody saw it", Year: 2001}
	require.NoError(t, db.Create(&unrated).Error)

	w = doJSON(router, "GET", fmt.Sprintf("/api/v1/titles/%d", unrated.ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rating":null`)
}

func TestListTitles_Filters(t *testing.T) {
	db, authModule, router := setupTest(t)
	adminToken(t, db, authModule)

	movies := createCategory(t, db, "Movies", "movies")
	books := createCategory(t, db, "Books", "books")
	horror := createGenre(t, db, "Horror", "horror")

	require.NoError(t, db.Create(&models.Title{
		Name: "Alien", Year: 1979, CategoryID: &movies.ID,
		Genres: []models.Genre{*horror},
	}).Error)
	require.NoError(t, db.Create(&models.Title{
		Name: "Dune", Year: 1965, CategoryID: &books.ID,
	}).Error)

	cases := []struct {
		query    string
		wantName string
		count    int
	}{
		{"?category=movies", "Alien", 1},
		{"?genre=horror", "Alien", 1},
		{"?name=Dun", "Dune", 1},
		{"?year=1965", "Dune", 1},
		{"", "", 2},
	}
	for _, tc := range cases {
		w := doJSON(router, "GET", "/api/v1/titles"+tc.query, "", "")
		require.Equal(t, http.StatusOK, w.Code, tc.query)
		assert.Contains(t, w.Body.String(), fmt.Sprintf(`"count":%d`, tc.count), tc.query)
		if tc.wantName != "" {
			assert.Contains(t, w.Body.String(), tc.wantName, tc.query)
		}
	}

	w := doJSON(router, "GET", "/api/v1/titles?year=nineteen", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateTitle(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)

	movies := createCategory(t, db, "Movies", "movies")
	createGenre(t, db, "Horror", "horror")

	title := models.Title{Name: "Alien", Year: 1979, CategoryID: &movies.ID}
	require.NoError(t, db.Create(&title).Error)

	w := doJSON(router, "PATCH", fmt.Sprintf("/api/v1/titles/%d", title.ID),
		`{"description": "In space no one can hear you scream", "genre": ["horror"]}`, token)
	require.Equal(t, http.StatusOK, w.Code)

	var stored models.Title
	require.NoError(t, db.Preload("Genres").First(&stored, title.ID).Error)
	assert.Equal(t, "In space no one can hear you scream", stored.Description)
	require.Len(t, stored.Genres, 1)
	assert.Equal(t, "horror", stored.Genres[0].Slug)
	// Untouched fields survive a partial update.
	assert.Equal(t, 1979, stored.Year)
	require.NotNil(t, stored.CategoryID)

	// Clearing the category with an empty slug.
	w = doJSON(router, "PATCH", fmt.Sprintf("/api/v1/titles/%d", title.ID),
		`{"category": ""}`, token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, db.First(&stored, title.ID).Error)
	assert.Nil(t, stored.CategoryID)
}

func TestDeleteTitle_Cascades(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)

	genre := createGenre(t, db, "Horror", "horror")
	title := models.Title{Name: "Alien", Year: 1979, Genres: []models.Genre{*genre}}
	require.NoError(t, db.Create(&title).Error)

	author := models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleUser}
	require.NoError(t, db.Create(&author).Error)
	review := models.Review{AuthorID: author.ID, TitleID: title.ID, Text: "great", Score: 10, PubDate: time.Now()}
	require.NoError(t, db.Create(&review).Error)
	require.NoError(t, db.Create(&models.Comment{
		AuthorID: author.ID, ReviewID: review.ID, Text: "ps", PubDate: time.Now(),
	}).Error)

	w := doJSON(router, "DELETE", fmt.Sprintf("/api/v1/titles/%d", title.ID), "", token)
	require.Equal(t, http.StatusNoContent, w.Code)

	var reviewCount, commentCount, joinCount int64
	db.Model(&models.Review{}).Count(&reviewCount)
	db.Model(&models.Comment{}).Count(&commentCount)
	db.Table("title_genres").Count(&joinCount)
	assert.Equal(t, int64(0), reviewCount)
	assert.Equal(t, int64(0), commentCount)
	assert.Equal(t, int64(0), joinCount)

	// The genre itself is untouched.
	var genreCount int64
	db.Model(&models.Genre{}).Count(&genreCount)
	assert.Equal(t, int64(1), genreCount)
}

func TestTitle_NotFound(t *testing.T) {
	db, authModule, router := setupTest(t)
	token := adminToken(t, db, authModule)

	w := doJSON(router, "GET", "/api/v1/titles/999", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, "GET", "/api/v1/titles/abc", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, "PATCH", "/api/v1/titles/999", `{"name": "x"}`, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
