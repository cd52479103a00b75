package reviews

import (
	"bytes"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gorm.io/gorm"

	"kritika/auth"
	"kritika/cache"
	"kritika/common"
	"kritika/models"
)

type ReviewsModule struct {
	db   *gorm.DB
	auth *auth.AuthModule
}

// markdown renderer for review and comment text. Raw HTML in the input
// is escaped, not passed through: the text comes from arbitrary users.
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
)

func NewReviewsModule(db *gorm.DB, authModule *auth.AuthModule) *ReviewsModule {
	return &ReviewsModule{db: db, auth: authModule}
}

func (m *ReviewsModule) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1", m.auth.Authenticate())

	reviews := api.Group("/titles/:titleID/reviews")
	{
		reviews.GET("", m.listReviews)
		reviews.POST("", auth.RequireAuth(), m.createReview)
		reviews.GET("/:reviewID", m.retrieveReview)
		reviews.PATCH("/:reviewID", auth.RequireAuth(), m.updateReview)
		reviews.DELETE("/:reviewID", auth.RequireAuth(), m.deleteReview)

		comments := reviews.Group("/:reviewID/comments")
		{
			comments.GET("", m.listComments)
			comments.POST("", auth.RequireAuth(), m.createComment)
			comments.GET("/:commentID", m.retrieveComment)
			comments.PATCH("/:commentID", auth.RequireAuth(), m.updateComment)
			comments.DELETE("/:commentID", auth.RequireAuth(), m.deleteComment)
		}
	}
}

type reviewResponse struct {
	ID       int       `json:"id"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
	TextHTML string    `json:"text_html,omitempty"`
	Author   string    `json:"author"`
	Score    int       `json:"score"`
	PubDate  time.Time `json:"pub_date"`
}

type commentResponse struct {
	ID       int       `json:"id"`
	Review   int       `json:"review"`
	Text     string    `json:"text"`
	TextHTML string    `json:"text_html,omitempty"`
	Author   string    `json:"author"`
	PubDate  time.Time `json:"pub_date"`
}

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return buf.String()
}

// usernames resolves author ids to usernames in one query.
func (m *ReviewsModule) usernames(ids []int) map[int]string {
	names := make(map[int]string, len(ids))
	if len(ids) == 0 {
		return names
	}

	var users []models.User
	if err := m.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		log.Printf("Error loading authors for ids %v: %v", ids, err)
		return names
	}
	for _, user := range users {
		names[user.ID] = user.Username
	}
	return names
}

func (m *ReviewsModule) listReviews(c *gin.Context) {
	title, ok := m.findTitle(c)
	if !ok {
		return
	}

	query := m.db.Model(&models.Review{}).Where("title_id = ?", title.ID)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reviews"})
		return
	}

	limit, offset := common.PageParams(c)

	var reviews []models.Review
	if err := query.Order("id").Limit(limit).Offset(offset).Find(&reviews).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reviews"})
		return
	}

	authorIDs := make([]int, len(reviews))
	for i, review := range reviews {
		authorIDs[i] = review.AuthorID
	}
	names := m.usernames(authorIDs)

	results := make([]reviewResponse, len(reviews))
	for i, review := range reviews {
		results[i] = reviewResponse{
			ID:      review.ID,
			Title:   title.Name,
			Text:    review.Text,
			Author:  names[review.AuthorID],
			Score:   review.Score,
			PubDate: review.PubDate,
		}
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "results": results})
}

func (m *ReviewsModule) createReview(c *gin.Context) {
	title, ok := m.findTitle(c)
	if !ok {
		return
	}
	user, _ := auth.CurrentUser(c)

	var req struct {
		Text  string `json:"text"`
		Score *int   `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"text": "text is required"})
		return
	}
	if req.Score == nil {
		c.JSON(http.StatusBadRequest, gin.H{"score": "score is required"})
		return
	}
	if *req.Score < 1 || *req.Score > 10 {
		c.JSON(http.StatusBadRequest, gin.H{"score": "score must be between 1 and 10"})
		return
	}

	var existing int64
	if err := m.db.Model(&models.Review{}).
		Where("title_id = ? AND author_id = ?", title.ID, user.ID).
		Count(&existing).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create review"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you have already reviewed this title"})
		return
	}

	review := models.Review{
		AuthorID: user.ID,
		TitleID:  title.ID,
		Text:     req.Text,
		Score:    *req.Score,
		PubDate:  time.Now().UTC(),
	}
	// The composite unique index backstops the check above against
	// concurrent submissions.
	if err := m.db.Create(&review).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you have already reviewed this title"})
		return
	}

	cache.Clear()
	c.JSON(http.StatusCreated, reviewResponse{
		ID:      review.ID,
		Title:   title.Name,
		Text:    review.Text,
		Author:  user.Username,
		Score:   review.Score,
		PubDate: review.PubDate,
	})
}

func (m *ReviewsModule) retrieveReview(c *gin.Context) {
	title, review, ok := m.findReview(c)
	if !ok {
		return
	}

	names := m.usernames([]int{review.AuthorID})
	c.JSON(http.StatusOK, reviewResponse{
		ID:       review.ID,
		Title:    title.Name,
		Text:     review.Text,
		TextHTML: renderMarkdown(review.Text),
		Author:   names[review.AuthorID],
		Score:    review.Score,
		PubDate:  review.PubDate,
	})
}

func (m *ReviewsModule) updateReview(c *gin.Context) {
	title, review, ok := m.findReview(c)
	if !ok {
		return
	}
	user, _ := auth.CurrentUser(c)
	if !auth.CanModerate(user, review.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var req struct {
		Text  *string `json:"text"`
		Score *int    `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Text != nil {
		if *req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"text": "text must not be empty"})
			return
		}
		review.Text = *req.Text
	}
	if req.Score != nil {
		if *req.Score < 1 || *req.Score > 10 {
			c.JSON(http.StatusBadRequest, gin.H{"score": "score must be between 1 and 10"})
			return
		}
		review.Score = *req.Score
	}

	if err := m.db.Save(review).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update review"})
		return
	}

	names := m.usernames([]int{review.AuthorID})
	cache.Clear()
	c.JSON(http.StatusOK, reviewResponse{
		ID:      review.ID,
		Title:   title.Name,
		Text:    review.Text,
		Author:  names[review.AuthorID],
		Score:   review.Score,
		PubDate: review.PubDate,
	})
}

func (m *ReviewsModule) deleteReview(c *gin.Context) {
	_, review, ok := m.findReview(c)
	if !ok {
		return
	}
	user, _ := auth.CurrentUser(c)
	if !auth.CanModerate(user, review.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id = ?", review.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(review).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete review"})
		return
	}

	cache.Clear()
	c.Status(http.StatusNoContent)
}

func (m *ReviewsModule) listComments(c *gin.Context) {
	_, review, ok := m.findReview(c)
	if !ok {
		return
	}

	query := m.db.Model(&models.Comment{}).Where("review_id = ?", review.ID)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load comments"})
		return
	}

	limit, offset := common.PageParams(c)

	var comments []models.Comment
	if err := query.Order("id").Limit(limit).Offset(offset).Find(&comments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load comments"})
		return
	}

	authorIDs := make([]int, len(comments))
	for i, comment := range comments {
		authorIDs[i] = comment.AuthorID
	}
	names := m.usernames(authorIDs)

	results := make([]commentResponse, len(comments))
	for i, comment := range comments {
		results[i] = commentResponse{
			ID:      comment.ID,
			Review:  comment.ReviewID,
			Text:    comment.Text,
			Author:  names[comment.AuthorID],
			PubDate: comment.PubDate,
		}
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "results": results})
}

func (m *ReviewsModule) createComment(c *gin.Context) {
	_, review, ok := m.findReview(c)
	if !ok {
		return
	}
	user, _ := auth.CurrentUser(c)

	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"text": "text is required"})
		return
	}

	comment := models.Comment{
		AuthorID: user.ID,
		ReviewID: review.ID,
		Text:     req.Text,
		PubDate:  time.Now().UTC(),
	}
	if err := m.db.Create(&comment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create comment"})
		return
	}

	c.JSON(http.StatusCreated, commentResponse{
		ID:      comment.ID,
		Review:  comment.ReviewID,
		Text:    comment.Text,
		Author:  user.Username,
		PubDate: comment.PubDate,
	})
}

func (m *ReviewsModule) retrieveComment(c *gin.Context) {
	comment, ok := m.findComment(c)
	if !ok {
		return
	}

	names := m.usernames([]int{comment.AuthorID})
	c.JSON(http.StatusOK, commentResponse{
		ID:       comment.ID,
		Review:   comment.ReviewID,
		Text:     comment.Text,
		TextHTML: renderMarkdown(comment.Text),
		Author:   names[comment.AuthorID],
		PubDate:  comment.PubDate,
	})
}

func (m *ReviewsModule) updateComment(c *gin.Context) {
	comment, ok := m.findComment(c)
	if !ok {
		return
	}
	user, _ := auth.CurrentUser(c)
	if !auth.CanModerate(user, comment.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	// Only the text is mutable; the parent review is fixed at creation.
	var req struct {
		Text *string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Text != nil {
		if *req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"text": "text must not be empty"})
			return
		}
		comment.Text = *req.Text
	}

	if err := m.db.Save(comment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update comment"})
		return
	}

	names := m.usernames([]int{comment.AuthorID})
	c.JSON(http.StatusOK, commentResponse{
		ID:      comment.ID,
		Review:  comment.ReviewID,
		Text:    comment.Text,
		Author:  names[comment.AuthorID],
		PubDate: comment.PubDate,
	})
}

func (m *ReviewsModule) deleteComment(c *gin.Context) {
	comment, ok := m.findComment(c)
	if !ok {
		return
	}
	user, _ := auth.CurrentUser(c)
	if !auth.CanModerate(user, comment.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if err := m.db.Delete(comment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete comment"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (m *ReviewsModule) findTitle(c *gin.Context) (*models.Title, bool) {
	titleID, err := strconv.Atoi(c.Param("titleID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return nil, false
	}

	var title models.Title
	if err := m.db.First(&title, titleID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return nil, false
	}
	return &title, true
}

func (m *ReviewsModule) findReview(c *gin.Context) (*models.Title, *models.Review, bool) {
	title, ok := m.findTitle(c)
	if !ok {
		return nil, nil, false
	}

	reviewID, err := strconv.Atoi(c.Param("reviewID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return nil, nil, false
	}

	var review models.Review
	if err := m.db.Where("id = ? AND title_id = ?", reviewID, title.ID).First(&review).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return nil, nil, false
	}
	return title, &review, true
}

func (m *ReviewsModule) findComment(c *gin.Context) (*models.Comment, bool) {
	_, review, ok := m.findReview(c)
	if !ok {
		return nil, false
	}

	commentID, err := strconv.Atoi(c.Param("commentID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		return nil, false
	}

	var comment models.Comment
	if err := m.db.Where("id = ? AND review_id = ?", commentID, review.ID).First(&comment).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		return nil, false
	}
	return &comment, true
}
