// Package http is the REST and websocket surface. Handlers translate
// requests into facade calls and the error taxonomy into status codes;
// no authorization decision lives here.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"campus-chat/auth"
	"campus-chat/domain"
	cerrors "campus-chat/errors"
	"campus-chat/observability"
	"campus-chat/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Server struct {
	log     *slog.Logger
	service *services.MessagingService
	tokens  *auth.TokenManager
	stats   *observability.Stats
	engine  *gin.Engine
}

func NewServer(log *slog.Logger, service *services.MessagingService, tokens *auth.TokenManager, stats *observability.Stats) *Server {
	s := &Server{
		log:     log,
		service: service,
		tokens:  tokens,
		stats:   stats,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.POST("/login", s.handleLogin)
	s.engine.GET("/healthz", s.handleHealth)

	authorized := s.engine.Group("/", auth.Middleware(s.tokens))

	authorized.POST("/accounts", s.handleCreateAccount)
	authorized.GET("/accounts", s.handleListAccounts)
	authorized.GET("/accounts/:id", s.handleGetAccount)
	authorized.PATCH("/accounts/me", s.handleUpdateProfile)
	authorized.PATCH("/accounts/:id/role", s.handleUpdateRole)
	authorized.PATCH("/accounts/:id/active", s.handleSetActive)
	authorized.DELETE("/accounts/:id", s.handleDeleteAccount)

	authorized.POST("/conversations", s.handleCreateConversation)
	authorized.GET("/conversations", s.handleListConversations)
	authorized.GET("/conversations/:id", s.handleGetConversation)
	authorized.PATCH("/conversations/:id", s.handleUpdateConversation)
	authorized.DELETE("/conversations/:id", s.handleDeleteConversation)

	authorized.GET("/conversations/:id/members", s.handleListParticipants)
	authorized.POST("/conversations/:id/members", s.handleAddParticipant)
	authorized.DELETE("/conversations/:id/members/:accountId", s.handleRemoveParticipant)
	authorized.PATCH("/conversations/:id/members/:accountId/moderator", s.handleSetModerator)

	authorized.POST("/conversations/:id/messages", s.handleSendMessage)
	authorized.GET("/conversations/:id/messages", s.handleListMessages)
	authorized.PATCH("/messages/:id", s.handleEditMessage)
	authorized.DELETE("/messages/:id", s.handleDeleteMessage)

	authorized.POST("/announcements", s.handleCreateAnnouncement)
	authorized.GET("/announcements", s.handleListAnnouncements)
	authorized.PATCH("/announcements/:id", s.handleUpdateAnnouncement)
	authorized.DELETE("/announcements/:id", s.handleDeleteAnnouncement)

	authorized.PUT("/conversations/:id/typing", s.handleSetTyping)
	authorized.GET("/conversations/:id/typing", s.handleListTyping)

	authorized.GET("/search", s.handleSearch)
	authorized.GET("/stream", s.handleStream)
}

// fail writes the error with its taxonomy status code.
func (s *Server) fail(c *gin.Context, err error) {
	status := cerrors.MapToHTTPStatus(err)
	if status == http.StatusInternalServerError && !errors.Is(err, cerrors.ErrDecryptionFailed) {
		s.log.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func principal(c *gin.Context) domain.Principal {
	p, _ := auth.PrincipalFromContext(c)
	return p
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// accountResponse never carries the credential.
type accountResponse struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
	Active      bool        `json:"active"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		Active:      a.Active,
		LastSeenAt:  a.LastSeenAt,
		CreatedAt:   a.CreatedAt,
	}
}

// conversationResponse never carries the key material.
type conversationResponse struct {
	ID             uuid.UUID               `json:"id"`
	Name           string                  `json:"name"`
	Kind           domain.ConversationKind `json:"kind"`
	Description    string                  `json:"description"`
	Encrypted      bool                    `json:"encrypted"`
	CreatedBy      uuid.UUID               `json:"created_by"`
	CreatedAt      time.Time               `json:"created_at"`
	LastActivityAt time.Time               `json:"last_activity_at"`
}

func toConversationResponse(conv domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:             conv.ID,
		Name:           conv.Name,
		Kind:           conv.Kind,
		Description:    conv.Description,
		Encrypted:      conv.Encrypted(),
		CreatedBy:      conv.CreatedBy,
		CreatedAt:      conv.CreatedAt,
		LastActivityAt: conv.LastActivityAt,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.service.Authenticate(req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	token, err := s.tokens.Generate(account.ID, account.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.service.TouchLastSeen(account.ID)
	c.JSON(http.StatusOK, gin.H{"token": token, "account": toAccountResponse(account)})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Snapshot())
}

type createAccountRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name" binding:"required"`
	Role        string `json:"role" binding:"required,oneof=owner moderator member"`
	Password    string `json:"password" binding:"required"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := auth.ValidateProvision(auth.ProvisionRequest{Email: req.Email, Password: req.Password}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.service.CreateAccount(principal(c), domain.Account{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        domain.Role(req.Role),
	}, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAccountResponse(account))
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.service.ListAccounts(principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(accounts, func(a domain.Account, _ int) accountResponse {
		return toAccountResponse(a)
	}))
}

func (s *Server) handleGetAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	account, err := s.service.GetAccount(principal(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(account))
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.service.UpdateProfile(principal(c), req.DisplayName)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(account))
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=owner moderator member"`
}

func (s *Server) handleUpdateRole(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.service.UpdateRole(principal(c), id, domain.Role(req.Role))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(account))
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) handleSetActive(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.service.SetActive(principal(c), id, *req.Active)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(account))
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.service.DeleteAccount(principal(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createConversationRequest struct {
	Kind        string      `json:"kind" binding:"required,oneof=direct group broadcast"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
	Encrypted   bool        `json:"encrypted"`
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := s.service.CreateConversation(c.Request.Context(), principal(c), services.CreateConversationParams{
		Kind:        domain.ConversationKind(req.Kind),
		Name:        req.Name,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
		Encrypted:   req.Encrypted,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toConversationResponse(conv))
}

func (s *Server) handleListConversations(c *gin.Context) {
	conversations, err := s.service.ListConversations(principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(conversations, func(conv domain.Conversation, _ int) conversationResponse {
		return toConversationResponse(conv)
	}))
}

func (s *Server) handleGetConversation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	conv, err := s.service.GetConversation(principal(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

type updateConversationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleUpdateConversation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := s.service.UpdateConversation(c.Request.Context(), principal(c), domain.Conversation{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.service.DeleteConversation(c.Request.Context(), principal(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListParticipants(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	members, err := s.service.ListParticipants(principal(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

type addParticipantRequest struct {
	AccountID uuid.UUID `json:"account_id" binding:"required"`
}

func (s *Server) handleAddParticipant(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	membership, err := s.service.AddParticipant(c.Request.Context(), principal(c), id, req.AccountID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, membership)
}

func (s *Server) handleRemoveParticipant(c *gin.Context) {
	convID, ok := parseID(c, "id")
	if !ok {
		return
	}
	accountID, ok := parseID(c, "accountId")
	if !ok {
		return
	}
	if err := s.service.RemoveParticipant(c.Request.Context(), principal(c), convID, accountID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setModeratorRequest struct {
	IsModerator *bool `json:"is_moderator" binding:"required"`
}

func (s *Server) handleSetModerator(c *gin.Context) {
	convID, ok := parseID(c, "id")
	if !ok {
		return
	}
	accountID, ok := parseID(c, "accountId")
	if !ok {
		return
	}
	var req setModeratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	membership, err := s.service.SetConversationModerator(c.Request.Context(), principal(c), convID, accountID, *req.IsModerator)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, membership)
}

type sendMessageRequest struct {
	Content string    `json:"content" binding:"required"`
	ReplyTo uuid.UUID `json:"reply_to"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	convID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.service.SendMessage(c.Request.Context(), principal(c), convID, req.Content, req.ReplyTo)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) handleListMessages(c *gin.Context) {
	convID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var cursor *string
	if raw := c.Query("cursor"); raw != "" {
		cursor = &raw
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	views, next, err := s.service.ListMessages(principal(c), convID, cursor, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views, "cursor": next})
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleEditMessage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.service.EditMessage(c.Request.Context(), principal(c), id, req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.service.DeleteMessage(c.Request.Context(), principal(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type announcementRequest struct {
	Title  string `json:"title" binding:"required"`
	Body   string `json:"body" binding:"required"`
	Pinned bool   `json:"pinned"`
}

func (s *Server) handleCreateAnnouncement(c *gin.Context) {
	var req announcementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ann, err := s.service.CreateAnnouncement(c.Request.Context(), principal(c), domain.Announcement{
		Title:  req.Title,
		Body:   req.Body,
		Pinned: req.Pinned,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ann)
}

func (s *Server) handleListAnnouncements(c *gin.Context) {
	announcements, err := s.service.ListAnnouncements(principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, announcements)
}

func (s *Server) handleUpdateAnnouncement(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req announcementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ann, err := s.service.UpdateAnnouncement(c.Request.Context(), principal(c), domain.Announcement{
		ID:     id,
		Title:  req.Title,
		Body:   req.Body,
		Pinned: req.Pinned,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ann)
}

func (s *Server) handleDeleteAnnouncement(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.service.DeleteAnnouncement(c.Request.Context(), principal(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type typingRequest struct {
	Typing *bool `json:"typing" binding:"required"`
}

func (s *Server) handleSetTyping(c *gin.Context) {
	convID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.service.SetTyping(principal(c), convID, *req.Typing); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTyping(c *gin.Context) {
	convID, ok := parseID(c, "id")
	if !ok {
		return
	}
	typing, err := s.service.ListTyping(principal(c), convID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"typing": typing})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	views, err := s.service.SearchMessages(c.Request.Context(), principal(c), query, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": views})
}
