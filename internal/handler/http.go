package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"progression-server/internal/authutils"
	"progression-server/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActionHandler is the orchestrator surface exposed over HTTP.
type ActionHandler interface {
	HandleMessage(ctx context.Context, userID int64, text, username string) *orchestrator.MessageResponse
	HandleCommand(ctx context.Context, userID int64, command string, args []string, username string) *orchestrator.CommandResponse
	HandleReaction(ctx context.Context, userID int64, messageID, reactionType string) *orchestrator.ReactionResponse
	HandleNarrativeChoice(ctx context.Context, userID int64, choiceID string) *orchestrator.ChoiceResponse
	SetVIP(ctx context.Context, userID int64, enabled bool) *orchestrator.VIPResponse
}

var _ ActionHandler = (*orchestrator.Orchestrator)(nil)

// TokenVerifier проверяет межсервисный токен.
type TokenVerifier interface {
	VerifyInterServiceToken(ctx context.Context, tokenString string) (*authutils.InterServiceClaims, error)
}

// ProgressionHandler обрабатывает внутренние HTTP-запросы транспортного слоя (чат-бота).
type ProgressionHandler struct {
	actions  ActionHandler
	verifier TokenVerifier
	logger   *zap.Logger
}

func NewProgressionHandler(actions ActionHandler, verifier TokenVerifier, logger *zap.Logger) *ProgressionHandler {
	return &ProgressionHandler{
		actions:  actions,
		verifier: verifier,
		logger:   logger.Named("ProgressionHandler"),
	}
}

// RegisterRoutes регистрирует внутренние маршруты. /health и /metrics настраиваются в main.
func (h *ProgressionHandler) RegisterRoutes(router gin.IRouter) {
	internalGroup := router.Group("/internal/v1/users/:user_id", InterServiceAuth(h.verifier, h.logger))
	{
		internalGroup.POST("/messages", h.handleMessage)
		internalGroup.POST("/commands", h.handleCommand)
		internalGroup.POST("/reactions", h.handleReaction)
		internalGroup.POST("/choices", h.handleChoice)
		internalGroup.PUT("/vip", h.handleVIP)
	}
}

type messageRequest struct {
	Text     string `json:"text" binding:"required"`
	Username string `json:"username"`
}

type commandRequest struct {
	Command  string   `json:"command" binding:"required"`
	Args     []string `json:"args"`
	Username string   `json:"username"`
}

type vipRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type reactionRequest struct {
	MessageID    string `json:"message_id" binding:"required"`
	ReactionType string `json:"reaction_type" binding:"required"`
}

type choiceRequest struct {
	ChoiceID string `json:"choice_id" binding:"required"`
}

func (h *ProgressionHandler) handleMessage(c *gin.Context) {
	userID, ok := h.bindUserRequest(c, "handleMessage")
	if !ok {
		return
	}
	var req messageRequest
	if !h.bindJSON(c, &req, userID) {
		return
	}
	resp := h.actions.HandleMessage(c.Request.Context(), userID, strings.TrimSpace(req.Text), req.Username)
	c.JSON(statusForKind(resp.ErrorKind), resp)
}

func (h *ProgressionHandler) handleCommand(c *gin.Context) {
	userID, ok := h.bindUserRequest(c, "handleCommand")
	if !ok {
		return
	}
	var req commandRequest
	if !h.bindJSON(c, &req, userID) {
		return
	}
	resp := h.actions.HandleCommand(c.Request.Context(), userID, req.Command, req.Args, req.Username)
	c.JSON(statusForKind(resp.ErrorKind), resp)
}

func (h *ProgressionHandler) handleVIP(c *gin.Context) {
	userID, ok := h.bindUserRequest(c, "handleVIP")
	if !ok {
		return
	}
	var req vipRequest
	if !h.bindJSON(c, &req, userID) {
		return
	}
	resp := h.actions.SetVIP(c.Request.Context(), userID, *req.Enabled)
	c.JSON(statusForKind(resp.ErrorKind), resp)
}

func (h *ProgressionHandler) handleReaction(c *gin.Context) {
	userID, ok := h.bindUserRequest(c, "handleReaction")
	if !ok {
		return
	}
	var req reactionRequest
	if !h.bindJSON(c, &req, userID) {
		return
	}
	resp := h.actions.HandleReaction(c.Request.Context(), userID, req.MessageID, req.ReactionType)
	c.JSON(statusForKind(resp.ErrorKind), resp)
}

func (h *ProgressionHandler) handleChoice(c *gin.Context) {
	userID, ok := h.bindUserRequest(c, "handleChoice")
	if !ok {
		return
	}
	var req choiceRequest
	if !h.bindJSON(c, &req, userID) {
		return
	}
	resp := h.actions.HandleNarrativeChoice(c.Request.Context(), userID, req.ChoiceID)
	c.JSON(statusForKind(resp.ErrorKind), resp)
}

// bindUserRequest разбирает :user_id. Telegram ID всегда положительный.
func (h *ProgressionHandler) bindUserRequest(c *gin.Context, operation string) (int64, bool) {
	raw := c.Param("user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		h.logger.Warn("Invalid user_id path parameter", zap.String("operation", operation), zap.String("user_id", raw))
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: ErrCodeBadRequest, Message: "Invalid user_id"})
		return 0, false
	}
	return userID, true
}

func (h *ProgressionHandler) bindJSON(c *gin.Context, req any, userID int64) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn("Invalid request body", zap.Int64("user_id", userID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: ErrCodeValidation, Message: "Invalid request body: " + err.Error()})
		return false
	}
	return true
}
