package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/autocommitor/autocommitor/internal/automation"
	"github.com/autocommitor/autocommitor/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CredentialAdmin manages stored owner credentials.
type CredentialAdmin interface {
	StoredToken(ctx context.Context, userID uint64) (string, error)
	MarkValid(ctx context.Context, userID uint64) error
	MarkInvalid(ctx context.Context, userID uint64, reason string) error
	SetToken(ctx context.Context, userID uint64, token string) error
	Disconnect(ctx context.Context, userID uint64) (int64, error)
}

// TokenChecker verifies a provider token.
type TokenChecker interface {
	CheckToken(ctx context.Context, token string) (string, error)
}

// CredentialHandler serves credential storage, verification and disconnect endpoints.
type CredentialHandler struct {
	credentials CredentialAdmin
	checker     TokenChecker
}

// NewCredentialHandler constructs a CredentialHandler.
func NewCredentialHandler(credentials CredentialAdmin, checker TokenChecker) *CredentialHandler {
	return &CredentialHandler{credentials: credentials, checker: checker}
}

// Verify checks the stored token of a user against the provider and updates its health flag.
func (h *CredentialHandler) Verify(c *gin.Context) {
	if h == nil || h.credentials == nil || h.checker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential service unavailable"})
		return
	}
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	token, errToken := h.credentials.StoredToken(ctx, userID)
	switch {
	case errToken == nil:
	case errors.Is(errToken, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case errors.Is(errToken, automation.ErrCredentialUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "no credential stored"})
		return
	default:
		log.WithError(errToken).Warnf("admin credentials: load token failed (user=%d)", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load credential failed"})
		return
	}

	login, errCheck := h.checker.CheckToken(ctx, token)
	if errCheck != nil {
		if automation.CodeOf(errCheck) != automation.CodeAuthExpired {
			log.WithError(errCheck).Warnf("admin credentials: check token failed (user=%d token=%s)", userID, util.HideToken(token))
			c.JSON(http.StatusBadGateway, gin.H{"error": errCheck.Error()})
			return
		}
		if errMark := h.credentials.MarkInvalid(ctx, userID, errCheck.Error()); errMark != nil {
			log.WithError(errMark).Warnf("admin credentials: mark invalid failed (user=%d)", userID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update credential failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "valid": false, "error": errCheck.Error()})
		return
	}

	if errMark := h.credentials.MarkValid(ctx, userID); errMark != nil {
		log.WithError(errMark).Warnf("admin credentials: mark valid failed (user=%d)", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update credential failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "valid": true, "login": login})
}

type storeCredentialRequest struct {
	Token string `json:"token"`
}

// Store replaces the stored token of a user and clears its invalid flag.
func (h *CredentialHandler) Store(c *gin.Context) {
	if h == nil || h.credentials == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential service unavailable"})
		return
	}
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	var body storeCredentialRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || strings.TrimSpace(body.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	if errSet := h.credentials.SetToken(c.Request.Context(), userID, body.Token); errSet != nil {
		if errors.Is(errSet, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.WithError(errSet).Warnf("admin credentials: store token failed (user=%d token=%s)", userID, util.HideToken(body.Token))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store credential failed"})
		return
	}
	log.Infof("admin credentials: token of user %d replaced by %s", userID, c.GetString("operator"))
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "stored": true})
}

// Disconnect clears the stored token and stops every active rule of the user.
func (h *CredentialHandler) Disconnect(c *gin.Context) {
	if h == nil || h.credentials == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential service unavailable"})
		return
	}
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	stopped, errDisconnect := h.credentials.Disconnect(c.Request.Context(), userID)
	if errDisconnect != nil {
		if errors.Is(errDisconnect, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.WithError(errDisconnect).Warnf("admin credentials: disconnect failed (user=%d)", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect failed"})
		return
	}
	log.Infof("admin credentials: user %d disconnected by %s, %d rules stopped", userID, c.GetString("operator"), stopped)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "stopped_rules": stopped})
}

func parseUserID(c *gin.Context) (uint64, bool) {
	return parseID(c, "user")
}

// parseID reads the :id path parameter and answers 400 when it is not a positive integer.
func parseID(c *gin.Context, kind string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + kind + " id"})
		return 0, false
	}
	return id, true
}
