package models

import "time"

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

type User struct {
	ID              int       `gorm:"primary_key;autoIncrement" json:"-"`
	Username        string    `gorm:"size:150;unique;not null;index" json:"username"`
	Email           string    `gorm:"size:254;unique;not null" json:"email"`
	FirstName       string    `gorm:"size:150" json:"first_name"`
	LastName        string    `gorm:"size:150" json:"last_name"`
	Bio             string    `gorm:"type:text" json:"bio"`
	Role            string    `gorm:"size:16;not null;default:user" json:"role"`
	IsSuperuser     bool      `gorm:"default:false" json:"-"`
	IsStaff         bool      `gorm:"default:false" json:"-"`
	PasswordHash    string    `json:"-"` // empty means no usable password
	CodeRequestedAt time.Time `json:"-"` // zero when no confirmation code is outstanding
	LastLogin       time.Time `json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsModerator() bool {
	return u.Role == RoleModerator
}

type Category struct {
	ID   int    `gorm:"primary_key;autoIncrement" json:"-"`
	Name string `gorm:"size:256;not null" json:"name"`
	Slug string `gorm:"size:50;unique;not null;index" json:"slug"`
}

type Genre struct {
	ID   int    `gorm:"primary_key;autoIncrement" json:"-"`
	Name string `gorm:"size:256;not null" json:"name"`
	Slug string `gorm:"size:50;unique;not null;index" json:"slug"`
}

type Title struct {
	ID          int       `gorm:"primary_key;autoIncrement" json:"id"`
	Name        string    `gorm:"size:256;not null" json:"name"`
	Year        int       `gorm:"not null;index" json:"year"`
	Description string    `gorm:"type:text" json:"description"`
	CategoryID  *int      `gorm:"index" json:"-"` // nulled when the category is deleted
	Category    *Category `json:"category,omitempty"`
	Genres      []Genre   `gorm:"many2many:title_genres" json:"genre,omitempty"`
}

type Review struct {
	ID       int       `gorm:"primary_key;autoIncrement" json:"id"`
	AuthorID int       `gorm:"not null;uniqueIndex:idx_one_review_per_title" json:"-"`
	TitleID  int       `gorm:"not null;uniqueIndex:idx_one_review_per_title" json:"-"`
	Text     string    `gorm:"type:text;not null" json:"text"`
	Score    int       `gorm:"not null" json:"score"`
	PubDate  time.Time `json:"pub_date"`
}

type Comment struct {
	ID       int       `gorm:"primary_key;autoIncrement" json:"id"`
	AuthorID int       `gorm:"not null;index" json:"-"`
	ReviewID int       `gorm:"not null;index" json:"review"`
	Text     string    `gorm:"type:text;not null" json:"text"`
	PubDate  time.Time `json:"pub_date"`
}
