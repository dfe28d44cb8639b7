package webservice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"webkvm/control"
)

// GET /api/info
func (wm *WebMaster) handleInfo(c *gin.Context) {
	mons, err := wm.driver.Monitors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	info := wm.serverInfo(len(mons))
	caps := wm.driver.Capabilities()
	c.JSON(http.StatusOK, gin.H{
		"hostname":      info.Hostname,
		"version":       info.Version,
		"monitor_count": info.MonitorCount,
		"capabilities":  caps,
		"tls":           wm.encrypted(),
		"webrtc":        wm.WebRTCManager != nil,
		"sessions":      wm.registry.Len(),
	})
}

// GET /api/monitors
func (wm *WebMaster) handleMonitors(c *gin.Context) {
	mons, err := wm.driver.Monitors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, control.Message{Type: control.MSG_TYPE_MONITORS, Monitors: mons})
}

// GET /api/sessions
func (wm *WebMaster) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, wm.registry.Stats())
}

// DELETE /api/sessions/:id
func (wm *WebMaster) handleCloseSession(c *gin.Context) {
	s, ok := wm.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
		return
	}
	if err := s.Close(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}
