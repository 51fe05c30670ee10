// Package api provides the REST API server for sfplayer
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/sfplayer/pkg/library"
	"github.com/james-see/sfplayer/pkg/player"
)

// @title sfplayer API
// @version 1.0
// @description API for browsing SoundFonts and playing their presets
// @host localhost:8080
// @BasePath /api/v1

// Server exposes a player and its library over HTTP
type Server struct {
	player  *player.Player
	library *library.Library
	hold    time.Duration
}

// NewServer creates a server; hold is the default note length
func NewServer(p *player.Player, lib *library.Library, hold time.Duration) *Server {
	return &Server{player: p, library: lib, hold: hold}
}

// Router builds the gin engine with all routes
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/directories", s.listDirectories)
		v1.PUT("/directories", s.setDirectories)
		v1.POST("/directories", s.addDirectories)
		v1.DELETE("/directories", s.removeDirectories)
		v1.GET("/soundfonts", s.listSoundFonts)
		v1.GET("/presets", s.listPresets)
		v1.POST("/select", s.selectInstrument)
		v1.POST("/notes", s.playNote)
		v1.DELETE("/notes/:key", s.releaseNote)
		v1.GET("/state", s.state)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// shutdownTimeout bounds how long in-flight requests may finish on shutdown
const shutdownTimeout = 5 * time.Second

// Run serves on the given port until ctx is cancelled or the listener fails
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "sfplayer",
	})
}

type directoriesRequest struct {
	Directories []string `json:"directories" binding:"required"`
}

// listDirectories godoc
// @Summary List SoundFont directories
// @Tags directories
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /api/v1/directories [get]
func (s *Server) listDirectories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"directories": s.library.Directories()})
}

func (s *Server) updateDirectories(c *gin.Context, update func([]string) error) {
	var req directoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.player.SetSkip(true)
	defer s.player.SetSkip(false)
	if err := update(req.Directories); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"directories": s.library.Directories()})
}

// setDirectories godoc
// @Summary Replace SoundFont directories
// @Tags directories
// @Accept json
// @Produce json
// @Success 200 {object} map[string][]string
// @Failure 400 {object} map[string]string
// @Router /api/v1/directories [put]
func (s *Server) setDirectories(c *gin.Context) {
	s.updateDirectories(c, s.library.SetDirectories)
}

// addDirectories godoc
// @Summary Add SoundFont directories
// @Tags directories
// @Accept json
// @Produce json
// @Success 200 {object} map[string][]string
// @Failure 400 {object} map[string]string
// @Router /api/v1/directories [post]
func (s *Server) addDirectories(c *gin.Context) {
	s.updateDirectories(c, func(dirs []string) error {
		return s.library.AddDirectories(dirs...)
	})
}

// removeDirectories godoc
// @Summary Remove SoundFont directories
// @Tags directories
// @Accept json
// @Produce json
// @Success 200 {object} map[string][]string
// @Failure 400 {object} map[string]string
// @Router /api/v1/directories [delete]
func (s *Server) removeDirectories(c *gin.Context) {
	s.updateDirectories(c, func(dirs []string) error {
		return s.library.RemoveDirectories(dirs...)
	})
}

// listSoundFonts godoc
// @Summary List SoundFont files found in the directories
// @Tags soundfonts
// @Produce json
// @Success 200 {object} map[string][]map[string]interface{}
// @Router /api/v1/soundfonts [get]
func (s *Server) listSoundFonts(c *gin.Context) {
	files := make([]gin.H, 0)
	for _, e := range s.library.SoundFonts() {
		files = append(files, gin.H{"path": e.Path, "invalid": e.Invalid()})
	}
	c.JSON(http.StatusOK, gin.H{"soundfonts": files})
}

// listPresets godoc
// @Summary List the presets and instruments of a SoundFont
// @Tags soundfonts
// @Produce json
// @Param file query string true "SoundFont path as listed by /soundfonts"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/presets [get]
func (s *Server) listPresets(c *gin.Context) {
	path := c.Query("file")
	e, ok := s.library.Find(path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "SoundFont not in library"})
		return
	}

	f, err := e.Load()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "invalid": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file":     f.Path,
		"bankName": f.BankName,
		"rows":     f.Rows(),
	})
}

type selectRequest struct {
	File  string `json:"file" binding:"required"`
	Bank  int    `json:"bank"`
	Patch int    `json:"patch"`
}

// selectInstrument godoc
// @Summary Select a preset on the output
// @Tags player
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /api/v1/select [post]
func (s *Server) selectInstrument(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sel := player.Selection{File: req.File, Bank: req.Bank, Patch: req.Patch}
	applied, err := s.player.Select(c.Request.Context(), sel)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if !applied {
		c.JSON(http.StatusConflict, gin.H{"error": "selection ignored while directories are updating"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selection": sel, "channel": sel.Channel()})
}

type noteRequest struct {
	Key    *int `json:"key" binding:"required"`
	HoldMs *int `json:"hold_ms"`
}

// playNote godoc
// @Summary Play a note on the selected preset
// @Tags player
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /api/v1/notes [post]
func (s *Server) playNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hold := s.hold
	if req.HoldMs != nil {
		hold = time.Duration(*req.HoldMs) * time.Millisecond
	}

	if err := s.player.PlayNote(*req.Key, hold); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": *req.Key, "hold_ms": hold.Milliseconds()})
}

// releaseNote godoc
// @Summary Release a sounding note
// @Tags player
// @Produce json
// @Param key path int true "MIDI key"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /api/v1/notes/{key} [delete]
func (s *Server) releaseNote(c *gin.Context) {
	key, err := strconv.Atoi(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key must be an integer"})
		return
	}
	if err := s.player.ReleaseNote(key); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

// state godoc
// @Summary Current output state, selection and sounding keys
// @Tags player
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/state [get]
func (s *Server) state(c *gin.Context) {
	resp := gin.H{
		"state":    s.player.State().String(),
		"sounding": s.player.SoundingKeys(),
	}
	if sel, ok := s.player.Current(); ok {
		resp["selection"] = sel
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, player.ErrInvalidSelection), errors.Is(err, player.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, player.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
