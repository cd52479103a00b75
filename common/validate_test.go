package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	valid := []string{
		"alice",
		"a.b@c+d-e_f",
		"UPPER",
		"härkönen",
		"Алиса",
		"ユーザー",
		strings.Repeat("a", 150),
		// 150 characters even though more than 150 bytes.
		strings.Repeat("ä", 150),
	}
	for _, username := range valid {
		assert.NoError(t, ValidateUsername(username), username)
	}

	invalid := []string{"", "me", "mE", "has space", "semi;colon", strings.Repeat("a", 151)}
	for _, username := range invalid {
		assert.Error(t, ValidateUsername(username), username)
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("alice@example.com"))

	invalid := []string{"", "plain", "a b@example.com", strings.Repeat("a", 250) + "@example.com"}
	for _, address := range invalid {
		assert.Error(t, ValidateEmail(address), address)
	}
}

func TestValidateSlug(t *testing.T) {
	assert.NoError(t, ValidateSlug("sci-fi_2"))

	invalid := []string{"", "has space", "acme!", strings.Repeat("a", 51)}
	for _, slug := range invalid {
		assert.Error(t, ValidateSlug(slug), slug)
	}
}

func TestPageParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultPageSize, 0},
		{"?page=3", DefaultPageSize, 20},
		{"?page=2&page_size=5", 5, 5},
		{"?page_size=1000", MaxPageSize, 0},
		{"?page=0&page_size=-1", DefaultPageSize, 0},
		{"?page=x&page_size=y", DefaultPageSize, 0},
	}

	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request, _ = http.NewRequest("GET", "/"+tc.query, nil)

		limit, offset := PageParams(c)
		assert.Equal(t, tc.wantLimit, limit, tc.query)
		assert.Equal(t, tc.wantOffset, offset, tc.query)
	}
}
