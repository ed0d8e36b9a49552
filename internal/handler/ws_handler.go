package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/admitly/admitexam-backend/internal/config"
	"github.com/admitly/admitexam-backend/internal/middleware"
	"github.com/admitly/admitexam-backend/internal/model"
	"github.com/admitly/admitexam-backend/internal/response"
	"github.com/admitly/admitexam-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the exam clock to candidates with an active session.
type WSHandler struct {
	examService *service.ExamService
	rdb         *redis.Client
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(examService *service.ExamService, rdb *redis.Client, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		examService: examService,
		rdb:         rdb,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// ExamClockStream godoc
// WS /ws/v1/exam/clock
// Pushes the remaining session time every second until expiry or disconnect.
func (h *WSHandler) ExamClockStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, startTime, err := h.resolveActiveSession(c, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		} else {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	deadline := startTime.Add(h.examService.Duration())
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		expired := remaining <= 0
		if expired {
			remaining = 0
		}

		payload := model.SessionClock{
			SessionID:        sessionID,
			RemainingSeconds: remaining.Seconds(),
			Expired:          expired,
		}
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
		if expired {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// resolveActiveSession finds the candidate's running session, preferring the
// Redis cache and self-healing it from the database on a miss.
func (h *WSHandler) resolveActiveSession(c *gin.Context, userID uuid.UUID) (uuid.UUID, time.Time, error) {
	ctx := c.Request.Context()
	cacheKey := config.CacheKey.CandidateActiveSessionKey(userID.String())

	if cached, err := h.rdb.Get(ctx, cacheKey).Result(); err == nil {
		if sessionID, start, ok := parseClockCache(cached); ok {
			return sessionID, start, nil
		}
	} else if err != redis.Nil {
		h.log.Warn().Err(err).Msg("Redis error resolving session, falling back to DB")
	}

	session, err := h.examService.ActiveSession(ctx, userID)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}

	ttl := time.Until(session.StartTime.Add(h.examService.Duration()))
	if ttl > 0 {
		value := fmt.Sprintf("%s|%d", session.ID, session.StartTime.Unix())
		_ = h.rdb.Set(ctx, cacheKey, value, ttl).Err()
	}
	return session.ID, session.StartTime, nil
}

func parseClockCache(raw string) (uuid.UUID, time.Time, bool) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return uuid.Nil, time.Time{}, false
	}
	sessionID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, time.Time{}, false
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return uuid.Nil, time.Time{}, false
	}
	return sessionID, time.Unix(unix, 0), true
}
