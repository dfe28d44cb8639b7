package webservice

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	maxUnlockAttempts = 5
	unlockLockout     = 10 * time.Minute
)

type UnlockAttemptRecord struct {
	Attempts  int
	IsLocked  bool
	LockUntil time.Time
}

// handleUnlock trades the PIN for a token. An address that fails
// maxUnlockAttempts times is locked out for unlockLockout.
// POST /api/unlock {"pin": "..."}
func (wm *WebMaster) handleUnlock(c *gin.Context) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "error", "message": "Invalid request"})
		return
	}
	ip := c.ClientIP()
	now := time.Now()

	wm.Lock()
	record := wm.UnlockAttemptRecords[ip]
	if record.IsLocked && !now.Before(record.LockUntil) {
		record = UnlockAttemptRecord{}
	}
	if !record.IsLocked && record.Attempts >= maxUnlockAttempts {
		record.IsLocked = true
		record.LockUntil = now.Add(unlockLockout)
	}
	if record.IsLocked {
		wm.UnlockAttemptRecords[ip] = record
		wm.Unlock()
		wm.log.Warnf("unlock from %s refused: locked until %s", ip, record.LockUntil.Format(time.RFC3339))
		c.JSON(http.StatusOK, gin.H{"result": "failed", "message": "Too many attempts, please try again later", "leftTries": 0, "lockUntil": record.LockUntil})
		return
	}
	if req.PIN != wm.pin {
		record.Attempts++
		wm.UnlockAttemptRecords[ip] = record
		wm.Unlock()
		c.JSON(http.StatusOK, gin.H{"result": "failed", "message": "Incorrect PIN", "leftTries": maxUnlockAttempts - record.Attempts})
		return
	}
	delete(wm.UnlockAttemptRecords, ip)
	wm.Unlock()

	token, err := wm.GenerateToken()
	if err != nil {
		wm.log.Errorf("generate token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"result": "error", "message": "Token generation failed"})
		return
	}
	c.SetCookie(authCookie, token, int(tokenTTL.Seconds()), "/", "", wm.encrypted(), true)
	c.JSON(http.StatusOK, gin.H{"result": "success", "message": "Unlocked", "token": token})
}
