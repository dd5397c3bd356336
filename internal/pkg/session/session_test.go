package session

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionUserIDRoundTrip(t *testing.T) {
	SetSessionStore(session.New(session.Config{KeyLookup: "cookie:session_id"}))
	t.Cleanup(func() { SetSessionStore(nil) })

	app := fiber.New()
	app.Post("/login", func(c *fiber.Ctx) error {
		return SetSessionValue(c, KeyUserID, "42")
	})
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(strings.TrimSpace(GetSessionValue(c, KeyUserID)))
	})
	app.Get("/id", func(c *fiber.Ctx) error {
		if SessionUserID(c) == 42 {
			return c.SendString("ok")
		}
		return c.SendStatus(fiber.StatusUnauthorized)
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/login", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(cookies[0])
	resp, err = app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "42", string(body))

	req = httptest.NewRequest("GET", "/id", nil)
	req.AddCookie(cookies[0])
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSessionUserIDWithoutStore(t *testing.T) {
	SetSessionStore(nil)
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(GetSessionValue(c, KeyUserID))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, string(body))
}
