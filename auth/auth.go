package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"kritika/common"
	"kritika/email"
	"kritika/models"
)

var (
	ErrIdentityTaken = errors.New("username or email already taken")
	ErrCodeMismatch  = errors.New("invalid confirmation code")
	ErrCodeExpired   = errors.New("confirmation code expired")
	ErrDelivery      = errors.New("failed to send confirmation email")
)

type AuthModule struct {
	db       *gorm.DB
	sender   email.Sender
	secret   []byte
	codeTTL  time.Duration
	tokenTTL time.Duration
}

func NewAuthModule(db *gorm.DB, sender email.Sender, secret string) *AuthModule {
	return &AuthModule{
		db:       db,
		sender:   sender,
		secret:   []byte(secret),
		codeTTL:  envHours("CONFIRMATION_CODE_TTL_HOURS", 24),
		tokenTTL: envHours("ACCESS_TOKEN_TTL_HOURS", 24),
	}
}

func envHours(key string, defaultHours int) time.Duration {
	raw := common.GetEnv(key, strconv.Itoa(defaultHours))
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 0 {
		hours = defaultHours
	}
	return time.Duration(hours) * time.Hour
}

func (a *AuthModule) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/api/v1/auth")
	{
		authGroup.POST("/signup", a.signup)
		authGroup.POST("/token", a.token)
	}
}

func (a *AuthModule) signup(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := common.ValidateUsername(req.Username); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"username": err.Error()})
		return
	}
	if err := common.ValidateEmail(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"email": err.Error()})
		return
	}

	// The user row and the email send succeed or fail together: a
	// delivery failure must not leave behind an account nobody can
	// ever confirm.
	err := a.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Where("username = ? AND email = ?", req.Username, req.Email).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			var count int64
			if err := tx.Model(&models.User{}).
				Where("username = ? OR email = ?", req.Username, req.Email).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrIdentityTaken
			}

			user = models.User{
				Username:        req.Username,
				Email:           req.Email,
				Role:            models.RoleUser,
				CodeRequestedAt: time.Now().UTC(),
			}
			if err := tx.Create(&user).Error; err != nil {
				// A concurrent signup may have claimed the identity
				// between the count and the insert.
				return ErrIdentityTaken
			}
			log.Printf("New user registered: %s", user.Username)
		} else if err != nil {
			return err
		}

		// Restamp when no code is outstanding or the old one has aged
		// past the TTL, so a resend always delivers a redeemable code.
		if user.CodeRequestedAt.IsZero() ||
			(a.codeTTL > 0 && time.Since(user.CodeRequestedAt) > a.codeTTL) {
			user.CodeRequestedAt = time.Now().UTC()
			if err := tx.Save(&user).Error; err != nil {
				return err
			}
		}

		code := a.ConfirmationCode(&user)
		if err := a.sender.Send(user.Email, "Kritika confirmation code",
			email.ConfirmationBody(user.Username, code)); err != nil {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}

		return nil
	})

	switch {
	case errors.Is(err, ErrIdentityTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrIdentityTaken.Error()})
	case errors.Is(err, ErrDelivery):
		log.Printf("Error sending confirmation code to %s: %v", req.Email, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": ErrDelivery.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process signup"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"username": req.Username,
			"email":    req.Email,
		})
	}
}

func (a *AuthModule) token(c *gin.Context) {
	var req struct {
		Username         string `json:"username"`
		ConfirmationCode string `json:"confirmation_code"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"username": "username is required"})
		return
	}
	if req.ConfirmationCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"confirmation_code": "confirmation code is required"})
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := a.CheckConfirmationCode(&user, req.ConfirmationCode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"confirmation_code": err.Error()})
		return
	}

	// Consuming the code changes the state it was derived from, so
	// every previously issued copy stops verifying.
	user.CodeRequestedAt = time.Time{}
	user.LastLogin = time.Now().UTC()
	if err := a.db.Save(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	accessToken, err := a.AccessToken(&user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": accessToken})
}

// ConfirmationCode derives the one-time code for the user's current
// state: a keyed hash over the server secret, the user id and the
// code-request timestamp. Re-deriving for unchanged state yields the
// same code, so resends are idempotent; consuming the code clears the
// timestamp and invalidates it.
func (a *AuthModule) ConfirmationCode(user *models.User) string {
	mac := hmac.New(sha256.New, a.secret)
	fmt.Fprintf(mac, "%d|%s|%d", user.ID, user.Email, user.CodeRequestedAt.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthModule) CheckConfirmationCode(user *models.User, code string) error {
	if user.CodeRequestedAt.IsZero() {
		return ErrCodeMismatch
	}
	if a.codeTTL > 0 && time.Since(user.CodeRequestedAt) > a.codeTTL {
		return ErrCodeExpired
	}
	expected := a.ConfirmationCode(user)
	if !hmac.Equal([]byte(code), []byte(expected)) {
		return ErrCodeMismatch
	}
	return nil
}

type Claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// AccessToken mints a signed stateless bearer token for the user. There
// is no server-side revocation; the token is valid until it expires.
func (a *AuthModule) AccessToken(user *models.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
