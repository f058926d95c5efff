package encryption

import (
	"testing"

	cerrors "campus-chat/errors"

	"github.com/stretchr/testify/require"
)

func TestSeal_Open_RoundTrip(t *testing.T) {
	req := require.New(t)
	key, err := GenerateKey()
	req.NoError(err)

	tests := []struct {
		name string
		body string
	}{
		{name: "Plain ASCII", body: "hi"},
		{name: "Empty body", body: ""},
		{name: "UTF-8 content", body: "rendez-vous à 14h — salle B"},
		{name: "Long body", body: string(make([]byte, 64*1024))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := Seal([]byte(tt.body), key)
			require.NoError(t, err)
			require.NotEqual(t, []byte(tt.body), box)

			plain, err := Open(box, key)
			require.NoError(t, err)
			require.Equal(t, tt.body, string(plain))
		})
	}
}

func TestSeal_NonDeterministicNonce(t *testing.T) {
	req := require.New(t)
	key, err := GenerateKey()
	req.NoError(err)

	a, err := Seal([]byte("same body"), key)
	req.NoError(err)
	b, err := Seal([]byte("same body"), key)
	req.NoError(err)
	req.NotEqual(a, b)
}

func TestOpen_WrongKey_FailsClosed(t *testing.T) {
	req := require.New(t)
	key, err := GenerateKey()
	req.NoError(err)
	otherKey, err := GenerateKey()
	req.NoError(err)

	box, err := Seal([]byte("confidential"), key)
	req.NoError(err)

	plain, err := Open(box, otherKey)
	req.ErrorIs(err, cerrors.ErrDecryptionFailed)
	req.Nil(plain)
}

func TestOpen_TamperedCiphertext_FailsClosed(t *testing.T) {
	req := require.New(t)
	key, err := GenerateKey()
	req.NoError(err)

	box, err := Seal([]byte("confidential"), key)
	req.NoError(err)
	box[len(box)-1] ^= 0x01

	_, err = Open(box, key)
	req.ErrorIs(err, cerrors.ErrDecryptionFailed)
}

func TestOpen_TruncatedBox_FailsClosed(t *testing.T) {
	req := require.New(t)
	key, err := GenerateKey()
	req.NoError(err)

	_, err = Open([]byte("short"), key)
	req.ErrorIs(err, cerrors.ErrDecryptionFailed)
}
