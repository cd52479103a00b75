package analytics

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"kritika/auth"
)

// TitleEvent records a visit to a title detail page.
type TitleEvent struct {
	ID        uint   `gorm:"primary_key;autoIncrement"`
	TitleID   int    `gorm:"not null;index"`
	CookieID  string `gorm:"not null;index"`
	IP        string `gorm:"not null"`
	Language  *string
	Browser   *string
	CreatedAt time.Time `gorm:"index"`
}

// throttleWindow keeps refreshes from counting as fresh visits.
const throttleWindow = 30 * time.Minute

const visitorCookie = "kritika_visitor_id"

type AnalyticsModule struct {
	db   *gorm.DB
	auth *auth.AuthModule
}

func NewAnalyticsModule(db *gorm.DB, authModule *auth.AuthModule) *AnalyticsModule {
	if db == nil {
		log.Println("Analytics DB is nil, analytics will be disabled")
		return nil
	}

	if err := db.AutoMigrate(&TitleEvent{}); err != nil {
		log.Printf("Error migrating title_events table: %v", err)
		return nil
	}

	return &AnalyticsModule{db: db, auth: authModule}
}

func (a *AnalyticsModule) RegisterRoutes(router *gin.Engine) {
	if a == nil {
		return
	}

	group := router.Group("/api/v1/analytics", a.auth.Authenticate(), auth.RequireAdmin())
	{
		group.GET("/visits", a.visitsByDay)
		group.GET("/top-titles", a.topTitles)
	}
}

// TrackVisit records a title detail view. A nil module is a no-op so
// callers never have to guard the call.
func (a *AnalyticsModule) TrackVisit(c *gin.Context, titleID int) {
	if a == nil || a.db == nil {
		return
	}

	cookieID := a.getOrCreateCookieID(c)

	var recent TitleEvent
	err := a.db.Where("cookie_id = ? AND title_id = ? AND created_at > ?",
		cookieID, titleID, time.Now().Add(-throttleWindow)).
		First(&recent).Error
	if err == nil {
		return
	}

	event := TitleEvent{
		TitleID:   titleID,
		CookieID:  cookieID,
		IP:        a.clientIP(c),
		Language:  a.extractLanguage(c),
		Browser:   extractBrowser(c.Request.UserAgent()),
		CreatedAt: time.Now(),
	}

	// Saved asynchronously so reads never wait on analytics.
	go func() {
		if err := a.db.Create(&event).Error; err != nil {
			log.Printf("Error saving analytics event: %v", err)
		}
	}()
}

func (a *AnalyticsModule) getOrCreateCookieID(c *gin.Context) string {
	if cookie, err := c.Cookie(visitorCookie); err == nil && cookie != "" {
		return cookie
	}

	raw := make([]byte, 16)
	rand.Read(raw)
	cookieID := hex.EncodeToString(raw)

	c.SetCookie(
		visitorCookie,
		cookieID,
		60*60*24*365*2, // 2 years
		"/",
		"",
		false,
		true,
	)

	return cookieID
}

// clientIP prefers common proxy headers over the peer address.
func (a *AnalyticsModule) clientIP(c *gin.Context) string {
	if ip := c.GetHeader("X-Forwarded-For"); ip != "" {
		ips := strings.Split(ip, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}

	return c.ClientIP()
}

func extractBrowser(userAgent string) *string {
	if userAgent == "" {
		return nil
	}

	ua := strings.ToLower(userAgent)
	var browser string

	// Order matters, the more specific tokens come first.
	switch {
	case strings.Contains(ua, "edg"):
		browser = "Edge"
	case strings.Contains(ua, "chrome"):
		browser = "Chrome"
	case strings.Contains(ua, "safari"):
		browser = "Safari"
	case strings.Contains(ua, "firefox"):
		browser = "Firefox"
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr"):
		browser = "Opera"
	default:
		browser = "Other"
	}

	return &browser
}

func (a *AnalyticsModule) extractLanguage(c *gin.Context) *string {
	acceptLang := c.GetHeader("Accept-Language")
	if acceptLang == "" {
		return nil
	}

	// "en-US,en;q=0.9" keeps only the preferred language.
	parts := strings.Split(acceptLang, ",")
	lang := strings.Split(strings.TrimSpace(parts[0]), ";")[0]
	return &lang
}

type DayVisits struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type TitleVisits struct {
	TitleID int    `json:"title_id"`
	Name    string `json:"name"`
	Count   int64  `json:"count"`
}

// visitsByDay returns a day-by-day visit count over the requested
// window (default 30 days), with zero-filled gaps.
func (a *AnalyticsModule) visitsByDay(c *gin.Context) {
	days := queryDays(c, 30)

	var rows []struct {
		Date  string
		Count int64
	}
	err := a.db.Model(&TitleEvent{}).
		Select("DATE(created_at) as date, COUNT(*) as count").
		Where("created_at >= ?", time.Now().AddDate(0, 0, -days)).
		Group("DATE(created_at)").
		Order("date ASC").
		Scan(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load visits"})
		return
	}

	results := make([]DayVisits, days)
	for i := 0; i < days; i++ {
		date := time.Now().AddDate(0, 0, -(days - 1 - i))
		results[i] = DayVisits{Date: date.Format("2006-01-02")}
	}
	for _, row := range rows {
		for i := range results {
			if results[i].Date == row.Date {
				results[i].Count = row.Count
				break
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// topTitles returns the ten most visited titles over the window.
func (a *AnalyticsModule) topTitles(c *gin.Context) {
	days := queryDays(c, 30)

	var results []TitleVisits
	err := a.db.Model(&TitleEvent{}).
		Select("title_events.title_id as title_id, titles.name as name, COUNT(*) as count").
		Joins("JOIN titles ON titles.id = title_events.title_id").
		Where("title_events.created_at >= ?", time.Now().AddDate(0, 0, -days)).
		Group("title_events.title_id, titles.name").
		Order("count DESC").
		Limit(10).
		Scan(&results).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load top titles"})
		return
	}
	if results == nil {
		results = []TitleVisits{}
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func queryDays(c *gin.Context, fallback int) int {
	days, err := strconv.Atoi(c.Query("days"))
	if err != nil || days < 1 || days > 365 {
		return fallback
	}
	return days
}
