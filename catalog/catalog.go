package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"kritika/analytics"
	"kritika/auth"
	"kritika/cache"
	"kritika/common"
	"kritika/models"
)

type CatalogModule struct {
	db        *gorm.DB
	auth      *auth.AuthModule
	analytics *analytics.AnalyticsModule
	cacheTTL  time.Duration
}

func NewCatalogModule(db *gorm.DB, authModule *auth.AuthModule, analyticsModule *analytics.AnalyticsModule) *CatalogModule {
	ttl, err := strconv.Atoi(common.GetEnv("READ_CACHE_TTL_SECONDS", "60"))
	if err != nil || ttl < 0 {
		ttl = 60
	}

	return &CatalogModule{
		db:        db,
		auth:      authModule,
		analytics: analyticsModule,
		cacheTTL:  time.Duration(ttl) * time.Second,
	}
}

// readCache caches anonymous reads; a TTL of zero disables caching.
func (m *CatalogModule) readCache() gin.HandlerFunc {
	if m.cacheTTL > 0 {
		return cache.Middleware(m.cacheTTL)
	}
	return func(c *gin.Context) { c.Next() }
}

func (m *CatalogModule) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1", m.auth.Authenticate())

	categories := api.Group("/categories")
	{
		categories.GET("", m.readCache(), m.listCategories)
		categories.POST("", auth.RequireAdmin(), m.createCategory)
		categories.DELETE("/:slug", auth.RequireAdmin(), m.deleteCategory)
	}

	genres := api.Group("/genres")
	{
		genres.GET("", m.readCache(), m.listGenres)
		genres.POST("", auth.RequireAdmin(), m.createGenre)
		genres.DELETE("/:slug", auth.RequireAdmin(), m.deleteGenre)
	}

	titles := api.Group("/titles")
	{
		titles.GET("", m.readCache(), m.listTitles)
		titles.GET("/:titleID", m.readCache(), m.retrieveTitle)
		titles.POST("", auth.RequireAdmin(), m.createTitle)
		titles.PATCH("/:titleID", auth.RequireAdmin(), m.updateTitle)
		titles.DELETE("/:titleID", auth.RequireAdmin(), m.deleteTitle)
	}
}

func (m *CatalogModule) listCategories(c *gin.Context) {
	m.listSlugged(c, &models.Category{}, func(limit, offset int, query *gorm.DB) (interface{}, error) {
		var categories []models.Category
		err := query.Order("slug").Limit(limit).Offset(offset).Find(&categories).Error
		return categories, err
	})
}

func (m *CatalogModule) listGenres(c *gin.Context) {
	m.listSlugged(c, &models.Genre{}, func(limit, offset int, query *gorm.DB) (interface{}, error) {
		var genres []models.Genre
		err := query.Order("slug").Limit(limit).Offset(offset).Find(&genres).Error
		return genres, err
	})
}

// listSlugged implements the shared list behavior of categories and
// genres: optional name substring search plus pagination.
func (m *CatalogModule) listSlugged(c *gin.Context, model interface{},
	fetch func(limit, offset int, query *gorm.DB) (interface{}, error)) {

	query := m.db.Model(model)
	if search := c.Query("search"); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load list"})
		return
	}

	limit, offset := common.PageParams(c)
	results, err := fetch(limit, offset, query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load list"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "results": results})
}

type sluggedRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (r *sluggedRequest) validate() (string, error) {
	if r.Name == "" {
		return "name", errors.New("name is required")
	}
	if len(r.Name) > 256 {
		return "name", errors.New("name must be at most 256 characters")
	}
	if err := common.ValidateSlug(r.Slug); err != nil {
		return "slug", err
	}
	return "", nil
}

func (m *CatalogModule) createCategory(c *gin.Context) {
	var req sluggedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if field, err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{field: err.Error()})
		return
	}

	category := models.Category{Name: req.Name, Slug: req.Slug}
	if err := m.db.Create(&category).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"slug": "slug already taken"})
		return
	}

	cache.Clear()
	c.JSON(http.StatusCreated, category)
}

func (m *CatalogModule) createGenre(c *gin.Context) {
	var req sluggedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if field, err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{field: err.Error()})
		return
	}

	genre := models.Genre{Name: req.Name, Slug: req.Slug}
	if err := m.db.Create(&genre).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"slug": "slug already taken"})
		return
	}

	cache.Clear()
	c.JSON(http.StatusCreated, genre)
}

func (m *CatalogModule) deleteCategory(c *gin.Context) {
	var category models.Category
	if err := m.db.Where("slug = ?", c.Param("slug")).First(&category).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}

	// Titles keep living when their category goes away.
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Title{}).
			Where("category_id = ?", category.ID).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&category).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete category"})
		return
	}

	cache.Clear()
	c.Status(http.StatusNoContent)
}

func (m *CatalogModule) deleteGenre(c *gin.Context) {
	var genre models.Genre
	if err := m.db.Where("slug = ?", c.Param("slug")).First(&genre).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "genre not found"})
		return
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM title_genres WHERE genre_id = ?", genre.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&genre).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete genre"})
		return
	}

	cache.Clear()
	c.Status(http.StatusNoContent)
}

type titleResponse struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Year        int              `json:"year"`
	Rating      *int             `json:"rating"`
	Description string           `json:"description"`
	Genre       []models.Genre   `json:"genre"`
	Category    *models.Category `json:"category"`
}

func (m *CatalogModule) buildTitleResponse(title *models.Title) titleResponse {
	genres := title.Genres
	if genres == nil {
		genres = []models.Genre{}
	}
	return titleResponse{
		ID:          title.ID,
		Name:        title.Name,
		Year:        title.Year,
		Rating:      m.titleRating(title.ID),
		Description: title.Description,
		Genre:       genres,
		Category:    title.Category,
	}
}

// titleRating returns the integer-truncated average review score, or
// nil when the title has no reviews yet.
func (m *CatalogModule) titleRating(titleID int) *int {
	var avg sql.NullFloat64
	err := m.db.Model(&models.Review{}).
		Where("title_id = ?", titleID).
		Select("AVG(score)").
		Scan(&avg).Error
	if err != nil || !avg.Valid {
		return nil
	}
	rating := int(avg.Float64)
	return &rating
}

func (m *CatalogModule) listTitles(c *gin.Context) {
	query := m.db.Model(&models.Title{}).Select("titles.*")

	if slug := c.Query("category"); slug != "" {
		query = query.
			Joins("JOIN categories ON categories.id = titles.category_id").
			Where("categories.slug = ?", slug)
	}
	if slug := c.Query("genre"); slug != "" {
		query = query.
			Joins("JOIN title_genres ON title_genres.title_id = titles.id").
			Joins("JOIN genres ON genres.id = title_genres.genre_id").
			Where("genres.slug = ?", slug)
	}
	if name := c.Query("name"); name != "" {
		query = query.Where("titles.name LIKE ?", "%"+name+"%")
	}
	if yearStr := c.Query("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"year": "year must be an integer"})
			return
		}
		query = query.Where("titles.year = ?", year)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load titles"})
		return
	}

	limit, offset := common.PageParams(c)

	var titles []models.Title
	if err := query.Preload("Category").Preload("Genres").
		Order("titles.id").Limit(limit).Offset(offset).
		Find(&titles).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load titles"})
		return
	}

	results := make([]titleResponse, len(titles))
	for i := range titles {
		results[i] = m.buildTitleResponse(&titles[i])
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "results": results})
}

func (m *CatalogModule) retrieveTitle(c *gin.Context) {
	title, ok := m.findTitle(c)
	if !ok {
		return
	}

	m.analytics.TrackVisit(c, title.ID)
	c.JSON(http.StatusOK, m.buildTitleResponse(title))
}

type titleRequest struct {
	Name        *string  `json:"name"`
	Year        *int     `json:"year"`
	Description *string  `json:"description"`
	Genre       []string `json:"genre"`
	Category    *string  `json:"category"`
}

func validateYear(year int) error {
	if year < 0 {
		return errors.New("year must not be negative")
	}
	if current := time.Now().Year(); year > current {
		return fmt.Errorf("year must not be later than %d", current)
	}
	return nil
}

func (m *CatalogModule) resolveGenres(c *gin.Context, slugs []string) ([]models.Genre, bool) {
	genres := make([]models.Genre, 0, len(slugs))
	for _, slug := range slugs {
		var genre models.Genre
		if err := m.db.Where("slug = ?", slug).First(&genre).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"genre": "unknown genre slug: " + slug})
			return nil, false
		}
		genres = append(genres, genre)
	}
	return genres, true
}

func (m *CatalogModule) resolveCategory(c *gin.Context, slug string) (*models.Category, bool) {
	var category models.Category
	if err := m.db.Where("slug = ?", slug).First(&category).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"category": "unknown category slug: " + slug})
		return nil, false
	}
	return &category, true
}

func (m *CatalogModule) createTitle(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Name == nil || *req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"name": "name is required"})
		return
	}
	if len(*req.Name) > 256 {
		c.JSON(http.StatusBadRequest, gin.H{"name": "name must be at most 256 characters"})
		return
	}
	if req.Year == nil {
		c.JSON(http.StatusBadRequest, gin.H{"year": "year is required"})
		return
	}
	if err := validateYear(*req.Year); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"year": err.Error()})
		return
	}

	title := models.Title{Name: *req.Name, Year: *req.Year}
	if req.Description != nil {
		title.Description = *req.Description
	}

	if req.Category != nil && *req.Category != "" {
		category, ok := m.resolveCategory(c, *req.Category)
		if !ok {
			return
		}
		title.CategoryID = &category.ID
		title.Category = category
	}

	genres, ok := m.resolveGenres(c, req.Genre)
	if !ok {
		return
	}
	title.Genres = genres

	if err := m.db.Create(&title).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create title"})
		return
	}

	cache.Clear()
	c.JSON(http.StatusCreated, m.buildTitleResponse(&title))
}

func (m *CatalogModule) updateTitle(c *gin.Context) {
	title, ok := m.findTitle(c)
	if !ok {
		return
	}

	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"name": "name must not be empty"})
			return
		}
		if len(*req.Name) > 256 {
			c.JSON(http.StatusBadRequest, gin.H{"name": "name must be at most 256 characters"})
			return
		}
		title.Name = *req.Name
	}
	if req.Year != nil {
		if err := validateYear(*req.Year); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"year": err.Error()})
			return
		}
		title.Year = *req.Year
	}
	if req.Description != nil {
		title.Description = *req.Description
	}
	if req.Category != nil {
		if *req.Category == "" {
			title.CategoryID = nil
			title.Category = nil
		} else {
			category, ok := m.resolveCategory(c, *req.Category)
			if !ok {
				return
			}
			title.CategoryID = &category.ID
			title.Category = category
		}
	}

	if err := m.db.Omit("Genres", "Category").Save(title).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update title"})
		return
	}

	if req.Genre != nil {
		genres, ok := m.resolveGenres(c, req.Genre)
		if !ok {
			return
		}
		if err := m.db.Model(title).Association("Genres").Replace(genres); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update title"})
			return
		}
		title.Genres = genres
	}

	cache.Clear()
	c.JSON(http.StatusOK, m.buildTitleResponse(title))
}

func (m *CatalogModule) deleteTitle(c *gin.Context) {
	title, ok := m.findTitle(c)
	if !ok {
		return
	}

	// Reviews, their comments and the genre join rows all belong to the
	// title's lifecycle.
	err := m.db.Transaction(func(tx *gorm.DB) error {
		reviewIDs := tx.Model(&models.Review{}).Select("id").Where("title_id = ?", title.ID)
		if err := tx.Where("review_id IN (?)", reviewIDs).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("title_id = ?", title.ID).Delete(&models.Review{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM title_genres WHERE title_id = ?", title.ID).Error; err != nil {
			return err
		}
		return tx.Delete(title).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete title"})
		return
	}

	cache.Clear()
	c.Status(http.StatusNoContent)
}

func (m *CatalogModule) findTitle(c *gin.Context) (*models.Title, bool) {
	titleID, err := strconv.Atoi(c.Param("titleID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return nil, false
	}

	var title models.Title
	if err := m.db.Preload("Category").Preload("Genres").First(&title, titleID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return nil, false
	}
	return &title, true
}
