package users

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"kritika/auth"
	"kritika/common"
	"kritika/models"
)

type UsersModule struct {
	db   *gorm.DB
	auth *auth.AuthModule
}

func NewUsersModule(db *gorm.DB, authModule *auth.AuthModule) *UsersModule {
	return &UsersModule{db: db, auth: authModule}
}

func (u *UsersModule) RegisterRoutes(router *gin.Engine) {
	usersGroup := router.Group("/api/v1/users", u.auth.Authenticate())
	{
		usersGroup.GET("/me", auth.RequireAuth(), u.me)
		usersGroup.PATCH("/me", auth.RequireAuth(), u.updateMe)

		usersGroup.GET("", auth.RequireAdmin(), u.list)
		usersGroup.POST("", auth.RequireAdmin(), u.create)
		usersGroup.GET("/:username", auth.RequireAdmin(), u.retrieve)
		usersGroup.PATCH("/:username", auth.RequireAdmin(), u.update)
		usersGroup.DELETE("/:username", auth.RequireAdmin(), u.delete)
	}
}

func (u *UsersModule) list(c *gin.Context) {
	query := u.db.Model(&models.User{})
	if search := c.Query("search"); search != "" {
		query = query.Where("username LIKE ?", "%"+search+"%")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	limit, offset := common.PageParams(c)

	var users []models.User
	if err := query.Order("username").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "results": users})
}

func (u *UsersModule) create(c *gin.Context) {
	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Bio       string `json:"bio"`
		Role      string `json:"role"`
		Password  string `json:"password"`
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
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if !validRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"role": "role must be one of user, moderator, admin"})
		return
	}

	var count int64
	if err := u.db.Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, req.Email).
		Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username or email already taken"})
		return
	}

	user := models.User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
		Role:      req.Role,
	}

	if req.Password != "" {
		passwordHash, err := hashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}
		user.PasswordHash = passwordHash
	}

	if err := u.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username or email already taken"})
		return
	}

	log.Printf("Admin created user %s with role %s", user.Username, user.Role)
	c.JSON(http.StatusCreated, user)
}

func (u *UsersModule) retrieve(c *gin.Context) {
	user, ok := u.findByUsername(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

func (u *UsersModule) update(c *gin.Context) {
	user, ok := u.findByUsername(c)
	if !ok {
		return
	}
	u.applyUpdate(c, user, true)
}

func (u *UsersModule) delete(c *gin.Context) {
	user, ok := u.findByUsername(c)
	if !ok {
		return
	}

	// Reviews and comments die with their author, including comments
	// other users left under the author's reviews.
	err := u.db.Transaction(func(tx *gorm.DB) error {
		reviewIDs := tx.Model(&models.Review{}).Select("id").Where("author_id = ?", user.ID)
		if err := tx.Where("review_id IN (?)", reviewIDs).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("author_id = ?", user.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("author_id = ?", user.ID).Delete(&models.Review{}).Error; err != nil {
			return err
		}
		return tx.Delete(user).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (u *UsersModule) me(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	c.JSON(http.StatusOK, user)
}

func (u *UsersModule) updateMe(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	u.applyUpdate(c, user, false)
}

// applyUpdate handles the shared PATCH logic. Only admins may touch the
// role field; on the self endpoint a submitted role is ignored.
func (u *UsersModule) applyUpdate(c *gin.Context, user *models.User, allowRole bool) {
	var req struct {
		Username  *string `json:"username"`
		Email     *string `json:"email"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Bio       *string `json:"bio"`
		Role      *string `json:"role"`
		Password  *string `json:"password"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Username != nil && *req.Username != user.Username {
		if err := common.ValidateUsername(*req.Username); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"username": err.Error()})
			return
		}
		if u.identityTaken(c, "username", *req.Username, user.ID) {
			return
		}
		user.Username = *req.Username
	}
	if req.Email != nil && *req.Email != user.Email {
		if err := common.ValidateEmail(*req.Email); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"email": err.Error()})
			return
		}
		if u.identityTaken(c, "email", *req.Email, user.ID) {
			return
		}
		user.Email = *req.Email
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}
	if req.Role != nil && allowRole {
		if !validRole(*req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"role": "role must be one of user, moderator, admin"})
			return
		}
		user.Role = *req.Role
	}
	if req.Password != nil && *req.Password != "" {
		passwordHash, err := hashPassword(*req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
		user.PasswordHash = passwordHash
	}

	if err := u.db.Save(user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (u *UsersModule) identityTaken(c *gin.Context, column, value string, selfID int) bool {
	var count int64
	if err := u.db.Model(&models.User{}).
		Where(column+" = ? AND id != ?", value, selfID).
		Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return true
	}
	if count > 0 {
		c.JSON(http.StatusBadRequest, gin.H{column: column + " already taken"})
		return true
	}
	return false
}

func (u *UsersModule) findByUsername(c *gin.Context) (*models.User, bool) {
	var user models.User
	if err := u.db.Where("username = ?", c.Param("username")).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return nil, false
	}
	return &user, true
}

func validRole(role string) bool {
	switch role {
	case models.RoleUser, models.RoleModerator, models.RoleAdmin:
		return true
	}
	return false
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}
