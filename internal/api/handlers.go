package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// manualCheckWait bounds how long POST /api/check holds the request open.
// The probe itself keeps running if the wait expires.
const manualCheckWait = 30 * time.Second

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Stats())
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := s.config.API.DefaultHistoryLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit parameter",
			})
			return
		}
		limit = n
	}
	if capacity := s.monitor.HistoryCapacity(); limit > capacity {
		limit = capacity
	}

	records := s.monitor.RecentHistory(limit)
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"limit":   limit,
		"records": records,
	})
}

func (s *Server) handleEndpoints(c *gin.Context) {
	primary, fallback := s.monitor.Endpoints()
	c.JSON(http.StatusOK, gin.H{
		"primary":  primary,
		"fallback": fallback,
	})
}

func (s *Server) handleCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), manualCheckWait)
	defer cancel()

	outcome, err := s.monitor.ManualCheck(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusAccepted, gin.H{
				"message":  "Check still running",
				"checking": true,
			})
			return
		}
		log.Warnf("Manual check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome,
		"status":  s.monitor.Status(),
	})
}
