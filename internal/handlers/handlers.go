package handlers

import (
	"errors"
	"image"
	"log"
	"net/http"

	"github.com/Brownie44l1/dr-api/internal/auth"
	"github.com/Brownie44l1/dr-api/internal/model"
	"github.com/Brownie44l1/dr-api/internal/uploads"
	"github.com/gin-gonic/gin"
)

// Predictor is the loaded model as seen by the web layer.
type Predictor interface {
	Predict(img image.Image) (*model.Prediction, error)
	Metadata() model.Metadata
}

type Handler struct {
	predictor Predictor
	auth      *auth.Service
	sessions  *auth.Manager
	uploads   *uploads.Store
	maxUpload int64
}

func NewHandler(predictor Predictor, authService *auth.Service, sessions *auth.Manager, store *uploads.Store, maxUploadBytes int64) *Handler {
	return &Handler{
		predictor: predictor,
		auth:      authService,
		sessions:  sessions,
		uploads:   store,
		maxUpload: maxUploadBytes,
	}
}

// page builds template data with the fields every page expects.
func (h *Handler) page(c *gin.Context, title string, extra gin.H, flashes ...string) gin.H {
	data := gin.H{
		"Title":    title,
		"User":     auth.CurrentUser(c),
		"Flashes":  append(h.sessions.PopFlashes(c), flashes...),
		"Username": "",
		"Email":    "",
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func (h *Handler) serverError(c *gin.Context, msg string, err error) {
	log.Printf("%s: %v", msg, err)
	c.HTML(http.StatusInternalServerError, "error.html", h.page(c, "Error", gin.H{
		"Message": "An unexpected error occurred. Please try again.",
	}))
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"classes": h.predictor.Metadata().Classes,
	})
}

func (h *Handler) Landing(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", h.page(c, "Home", nil))
}

func (h *Handler) Dashboard(c *gin.Context) {
	c.HTML(http.StatusOK, "dashboard.html", h.page(c, "Dashboard", nil))
}

func (h *Handler) RegisterForm(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", h.page(c, "Register", nil))
}

func (h *Handler) Register(c *gin.Context) {
	username := c.PostForm("username")
	email := c.PostForm("email")
	password := c.PostForm("password")
	form := gin.H{"Username": username, "Email": email}

	_, err := h.auth.Register(c.Request.Context(), username, email, password)
	switch {
	case err == nil:
		h.sessions.Flash(c, "Registration successful! Please login.")
		c.Redirect(http.StatusFound, "/login")
	case errors.Is(err, auth.ErrEmailTaken):
		c.HTML(http.StatusConflict, "register.html", h.page(c, "Register", form, "Email already registered."))
	case errors.Is(err, auth.ErrMissingFields):
		c.HTML(http.StatusBadRequest, "register.html", h.page(c, "Register", form, "Username, email and password are required."))
	default:
		h.serverError(c, "Failed to register user", err)
	}
}

func (h *Handler) LoginForm(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", h.page(c, "Login", nil))
}

func (h *Handler) Login(c *gin.Context) {
	email := c.PostForm("email")
	u, err := h.auth.Authenticate(c.Request.Context(), email, c.PostForm("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.HTML(http.StatusUnauthorized, "login.html", h.page(c, "Login", gin.H{"Email": email}, "Invalid email or password"))
		return
	}
	if err != nil {
		h.serverError(c, "Failed to authenticate user", err)
		return
	}

	if err := h.sessions.Login(c, u); err != nil {
		h.serverError(c, "Failed to start session", err)
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c); err != nil {
		h.serverError(c, "Failed to log out", err)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.sessions.Flash(c, "The uploaded file is too large.")
		} else {
			h.sessions.Flash(c, "Please choose an image to upload.")
		}
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.serverError(c, "Failed to open upload", err)
		return
	}
	defer file.Close()

	key, img, err := h.uploads.Save(file)
	if errors.Is(err, uploads.ErrUnsupportedImage) {
		h.sessions.Flash(c, "The uploaded file is not a supported image.")
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	if err != nil {
		h.serverError(c, "Failed to store upload", err)
		return
	}

	pred, err := h.predictor.Predict(img)
	if err != nil {
		h.serverError(c, "Prediction failed", err)
		return
	}
	log.Printf("Predicted %s (%.2f%%) for %s", pred.Class, pred.Confidence, key)

	c.HTML(http.StatusOK, "prediction.html", h.page(c, "Result", gin.H{
		"Result":     pred.Class,
		"Confidence": pred.Confidence,
		"Filename":   key,
		"Scores":     pred.Scores,
	}))
}
