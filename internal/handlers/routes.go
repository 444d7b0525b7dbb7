package handlers

import (
	"fmt"

	"github.com/Brownie44l1/dr-api/web"
	"github.com/gin-gonic/gin"
)

// NewRouter wires the pages, the upload directory and the session
// middleware onto a gin engine.
func NewRouter(h *Handler) (*gin.Engine, error) {
	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.SetHTMLTemplate(tmpl)
	r.MaxMultipartMemory = h.maxUpload

	r.GET("/health", h.Health)
	r.Static("/static/uploads", h.uploads.Dir())

	pages := r.Group("/")
	pages.Use(h.sessions.Middleware())
	{
		pages.GET("/", h.Landing)
		pages.GET("/register", h.RegisterForm)
		pages.POST("/register", h.Register)
		pages.GET("/login", h.LoginForm)
		pages.POST("/login", h.Login)
	}

	private := pages.Group("/")
	private.Use(h.sessions.RequireLogin())
	{
		private.GET("/dashboard", h.Dashboard)
		private.GET("/logout", h.Logout)
		private.POST("/predict", h.Predict)
	}

	return r, nil
}
