// Command mock-server is a local stand-in for the aggregation server. It issues
// tokens, stores schedules in memory and answers 409 for a schedule it already
// holds.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type store struct {
	mu        sync.Mutex
	schedules map[string]models.Schedule
}

var requestCounter uint64

func main() {
	addr := flag.String("addr", ":8081", "Listen address")
	secret := flag.String("secret", "mock-secret", "HMAC key for issued tokens")
	lifetime := flag.Duration("token-lifetime", time.Hour, "Issued token lifetime")
	flag.Parse()

	s := &store{schedules: make(map[string]models.Schedule)}
	key := []byte(*secret)

	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/auth/token", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   req.Username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(*lifetime)),
		}).SignedString(key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token})
	})

	r.POST("/schedule", func(c *gin.Context) {
		count := atomic.AddUint64(&requestCounter, 1)
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if _, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return key, nil },
			jwt.WithValidMethods([]string{"HS256"})); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var sched models.Schedule
		if err := c.ShouldBindJSON(&sched); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := sched.Validate(); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		id := fmt.Sprintf("%d/%s", sched.TelescopeID, sched.Name)
		s.mu.Lock()
		_, exists := s.schedules[id]
		if !exists {
			s.schedules[id] = sched
		}
		s.mu.Unlock()

		log.Info().Uint64("request", count).Str("schedule", id).Bool("exists", exists).
			Int("observations", len(sched.Observations)).Str("request_id", c.GetHeader("X-Request-ID")).
			Msg("Schedule received")
		if exists {
			c.JSON(http.StatusConflict, gin.H{"error": "schedule already exists"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	})

	r.GET("/schedule", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]models.Schedule, 0, len(s.schedules))
		for _, sched := range s.schedules {
			out = append(out, sched)
		}
		c.JSON(http.StatusOK, out)
	})

	log.Info().Str("addr", *addr).Msg("Mock aggregation server starting")
	if err := r.Run(*addr); err != nil {
		log.Fatal().Err(err).Msg("Mock aggregation server stopped")
	}
}
