package credential

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func staticSource(secrets map[string]string) SecretSource {
	return func() (map[string]string, error) {
		return secrets, nil
	}
}

func TestStore_BootstrapAndVerify(t *testing.T) {
	t.Parallel()
	s := NewStore(testUnit(), staticSource(map[string]string{
		"llm":    "llm-key",
		"market": "market-key",
	}), quietLogger())

	require.NoError(t, s.Bootstrap())

	ok, err := s.Verify("llm", "llm-key")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify("llm", "market-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_BootstrapMissingSecret(t *testing.T) {
	t.Parallel()
	s := NewStore(testUnit(), staticSource(map[string]string{
		"llm": "",
	}), quietLogger())

	err := s.Bootstrap()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm")
}

func TestStore_VerifyUnknownUpstream(t *testing.T) {
	t.Parallel()
	s := NewStore(testUnit(), staticSource(map[string]string{
		"llm": "llm-key",
	}), quietLogger())
	require.NoError(t, s.Bootstrap())

	_, err := s.Verify("nonexistent", "anything")
	assert.ErrorIs(t, err, ErrUnknownUpstream)
}

func TestStore_RotatePicksUpNewSecrets(t *testing.T) {
	t.Parallel()
	secrets := map[string]string{"llm": "old-key"}
	s := NewStore(testUnit(), func() (map[string]string, error) {
		return secrets, nil
	}, quietLogger())
	require.NoError(t, s.Bootstrap())

	secrets = map[string]string{"llm": "new-key"}
	require.NoError(t, s.Rotate())

	ok, err := s.Verify("llm", "new-key")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify("llm", "old-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_FailedRotationKeepsOldCredentials(t *testing.T) {
	t.Parallel()
	failing := false
	s := NewStore(testUnit(), func() (map[string]string, error) {
		if failing {
			return nil, errors.New("secret backend unavailable")
		}
		return map[string]string{"llm": "llm-key"}, nil
	}, quietLogger())
	require.NoError(t, s.Bootstrap())

	failing = true
	require.Error(t, s.Rotate())

	// the previous records must remain valid
	ok, err := s.Verify("llm", "llm-key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_RecordNeverContainsPlaintext(t *testing.T) {
	t.Parallel()
	s := NewStore(testUnit(), staticSource(map[string]string{
		"llm": "very-secret-plaintext",
	}), quietLogger())
	require.NoError(t, s.Bootstrap())

	record, ok := s.records["llm"]
	require.True(t, ok)
	assert.NotContains(t, record.Verifier, "very-secret-plaintext")
	assert.NotContains(t, record.Salt, "very-secret-plaintext")
}
