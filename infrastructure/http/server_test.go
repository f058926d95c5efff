package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campus-chat/auth"
	"campus-chat/domain"
	"campus-chat/domain/event"
	"campus-chat/moderation"
	"campus-chat/observability"
	"campus-chat/repositories"
	"campus-chat/runtime"
	"campus-chat/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type harness struct {
	server   *Server
	service  *services.MessagingService
	accounts repositories.IAccountRepository
	tokens   *auth.TokenManager
}

type noopPublisher struct{}

func (noopPublisher) Publish(_ context.Context, _ event.ChangeEvent) error { return nil }

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	accounts := repositories.NewAccountRepository(db, log)
	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log)
	announcements := repositories.NewAnnouncementRepository(db, log)

	moderator, err := moderation.NewModerator(nil)
	require.NoError(t, err)
	stats := &observability.Stats{}
	service := services.NewMessagingService(log, accounts, conversations, messages, announcements,
		noopPublisher{}, runtime.NewRegistry(), runtime.NewPresenceTracker(5*time.Second),
		moderator, nil, stats)

	tokens := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), "campus-chat", time.Hour)
	return &harness{
		server:   NewServer(log, service, tokens, stats),
		service:  service,
		accounts: accounts,
		tokens:   tokens,
	}
}

func (h *harness) seedAccount(t *testing.T, role domain.Role, password string) domain.Account {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	created, err := h.accounts.Create(domain.Account{
		Email:        fmt.Sprintf("%s@school.test", uuid.NewString()[:8]),
		DisplayName:  "Seeded",
		Role:         role,
		Active:       true,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return created
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func (h *harness) tokenFor(t *testing.T, a domain.Account) string {
	t.Helper()
	token, err := h.tokens.Generate(a.ID, a.Role)
	require.NoError(t, err)
	return token
}

func Test_Login_Returns_A_Token_And_No_Credential(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	account := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")

	resp := h.do(t, http.MethodPost, "/login", "", gin.H{
		"email": account.Email, "password": "Str0ng!Passw0rd",
	})
	req.Equal(http.StatusOK, resp.Code)
	req.NotContains(resp.Body.String(), "argon2id")

	var body struct {
		Token   string `json:"token"`
		Account struct {
			ID uuid.UUID `json:"id"`
		} `json:"account"`
	}
	req.NoError(json.Unmarshal(resp.Body.Bytes(), &body))
	req.NotEmpty(body.Token)
	req.Equal(account.ID, body.Account.ID)

	// The token opens the authorized surface.
	resp = h.do(t, http.MethodGet, "/accounts", body.Token, nil)
	req.Equal(http.StatusOK, resp.Code)
}

func Test_Wrong_Credentials_Are_Indistinguishable(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	account := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")

	wrongPassword := h.do(t, http.MethodPost, "/login", "", gin.H{
		"email": account.Email, "password": "Wr0ng!Passw0rd",
	})
	unknownEmail := h.do(t, http.MethodPost, "/login", "", gin.H{
		"email": "nobody@school.test", "password": "Str0ng!Passw0rd",
	})
	req.Equal(wrongPassword.Code, unknownEmail.Code)
	req.Equal(http.StatusForbidden, wrongPassword.Code)
}

func Test_Missing_Token_Is_Unauthorized(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	for _, path := range []string{"/accounts", "/conversations", "/announcements"} {
		resp := h.do(t, http.MethodGet, path, "", nil)
		req.Equal(http.StatusUnauthorized, resp.Code, path)
	}
}

func Test_Provisioning_Rejects_Weak_Passwords(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	owner := h.seedAccount(t, domain.RoleOwner, "Str0ng!Passw0rd")
	token := h.tokenFor(t, owner)

	resp := h.do(t, http.MethodPost, "/accounts", token, gin.H{
		"email": "kid@school.test", "display_name": "New Kid",
		"role": "member", "password": "alllowercase",
	})
	req.Equal(http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodPost, "/accounts", token, gin.H{
		"email": "kid@school.test", "display_name": "New Kid",
		"role": "member", "password": "C0mpl3x!Enough",
	})
	req.Equal(http.StatusCreated, resp.Code)
	req.NotContains(resp.Body.String(), "argon2id")
}

func Test_Conversation_Response_Hides_Key_Material(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")
	bob := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")
	token := h.tokenFor(t, alice)

	resp := h.do(t, http.MethodPost, "/conversations", token, gin.H{
		"kind":       "direct",
		"member_ids": []uuid.UUID{alice.ID, bob.ID},
		"encrypted":  true,
	})
	req.Equal(http.StatusCreated, resp.Code)

	var conv struct {
		ID        uuid.UUID `json:"id"`
		Encrypted bool      `json:"encrypted"`
		Key       []byte    `json:"key"`
	}
	req.NoError(json.Unmarshal(resp.Body.Bytes(), &conv))
	req.True(conv.Encrypted)
	req.Empty(conv.Key)
}

func Test_Message_Flow_Over_The_REST_Surface(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")
	bob := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")
	aliceToken := h.tokenFor(t, alice)
	bobToken := h.tokenFor(t, bob)

	resp := h.do(t, http.MethodPost, "/conversations", aliceToken, gin.H{
		"kind":       "direct",
		"member_ids": []uuid.UUID{alice.ID, bob.ID},
	})
	req.Equal(http.StatusCreated, resp.Code)
	var conv struct {
		ID uuid.UUID `json:"id"`
	}
	req.NoError(json.Unmarshal(resp.Body.Bytes(), &conv))

	resp = h.do(t, http.MethodPost, fmt.Sprintf("/conversations/%s/messages", conv.ID), aliceToken, gin.H{
		"content": "hello bob",
	})
	req.Equal(http.StatusCreated, resp.Code)

	resp = h.do(t, http.MethodGet, fmt.Sprintf("/conversations/%s/messages", conv.ID), bobToken, nil)
	req.Equal(http.StatusOK, resp.Code)
	var page struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	req.NoError(json.Unmarshal(resp.Body.Bytes(), &page))
	req.Len(page.Messages, 1)
	req.Equal("hello bob", page.Messages[0].Content)
}

func Test_NonMember_Gets_NotFound_Over_HTTP(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")
	bob := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")
	carol := h.seedAccount(t, domain.RoleMember, "Str0ng!Passw0rd")

	resp := h.do(t, http.MethodPost, "/conversations", h.tokenFor(t, alice), gin.H{
		"kind":       "direct",
		"member_ids": []uuid.UUID{alice.ID, bob.ID},
	})
	req.Equal(http.StatusCreated, resp.Code)
	var conv struct {
		ID uuid.UUID `json:"id"`
	}
	req.NoError(json.Unmarshal(resp.Body.Bytes(), &conv))

	resp = h.do(t, http.MethodGet, "/conversations/"+conv.ID.String(), h.tokenFor(t, carol), nil)
	req.Equal(http.StatusNotFound, resp.Code)
}
