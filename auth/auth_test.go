package auth

import (
	"testing"
	"time"

	"campus-chat/domain"
	cerrors "campus-chat/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func Test_Token_Roundtrip(t *testing.T) {
	req := require.New(t)
	manager := NewTokenManager(testSecret, "campus-chat", time.Hour)

	accountID := uuid.New()
	token, err := manager.Generate(accountID, domain.RoleModerator)
	req.NoError(err)

	principal, err := manager.Validate(token)
	req.NoError(err)
	req.Equal(accountID, principal.AccountID)
	req.Equal(domain.RoleModerator, principal.Role)
}

func Test_Expired_Token_Is_Rejected(t *testing.T) {
	req := require.New(t)
	manager := NewTokenManager(testSecret, "campus-chat", -time.Minute)

	token, err := manager.Generate(uuid.New(), domain.RoleMember)
	req.NoError(err)

	_, err = manager.Validate(token)
	req.ErrorIs(err, cerrors.ErrInvalidToken)
}

func Test_Token_Signed_With_Another_Secret_Is_Rejected(t *testing.T) {
	req := require.New(t)
	manager := NewTokenManager(testSecret, "campus-chat", time.Hour)
	other := NewTokenManager([]byte("another-secret-another-secret-ab"), "campus-chat", time.Hour)

	token, err := other.Generate(uuid.New(), domain.RoleOwner)
	req.NoError(err)

	_, err = manager.Validate(token)
	req.ErrorIs(err, cerrors.ErrInvalidToken)
}

func Test_Garbage_Token_Is_Rejected(t *testing.T) {
	req := require.New(t)
	manager := NewTokenManager(testSecret, "campus-chat", time.Hour)

	for _, garbage := range []string{"", "not-a-token", "aaa.bbb.ccc"} {
		_, err := manager.Validate(garbage)
		req.ErrorIs(err, cerrors.ErrInvalidToken)
	}
}

func Test_Password_Roundtrip(t *testing.T) {
	req := require.New(t)

	encoded, err := HashPassword("correct horse battery staple")
	req.NoError(err)
	req.Contains(encoded, "$argon2id$")

	ok, err := ComparePassword("correct horse battery staple", encoded)
	req.NoError(err)
	req.True(ok)

	ok, err = ComparePassword("wrong password", encoded)
	req.NoError(err)
	req.False(ok)
}

func Test_Password_Hashes_Are_Salted(t *testing.T) {
	req := require.New(t)

	first, err := HashPassword("same password")
	req.NoError(err)
	second, err := HashPassword("same password")
	req.NoError(err)
	req.NotEqual(first, second)
}

func Test_Malformed_Hash_Is_An_Error(t *testing.T) {
	req := require.New(t)

	_, err := ComparePassword("whatever", "not-an-encoded-hash")
	req.Error(err)
}

func Test_Provision_Password_Complexity(t *testing.T) {
	req := require.New(t)

	tests := []struct {
		name     string
		password string
		valid    bool
	}{
		{"Upper, lower, digit and symbol", "C0mpl3x!Enough", true},
		{"Too short", "C0mpl3x!", false},
		{"No symbol", "C0mpl3xEnough", false},
		{"No digit", "Complex!Enough", false},
		{"No upper case", "c0mpl3x!enough", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProvision(ProvisionRequest{Email: "kid@school.test", Password: tt.password})
			if tt.valid {
				req.NoError(err)
			} else {
				req.Error(err)
			}
		})
	}
}
