package vault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mapStore struct {
	values map[string]string
	err    error
	calls  atomic.Int32
}

func (s *mapStore) GetSecret(_ context.Context, name string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.values[name]
	if !ok {
		return "", errSecretNotFound
	}
	return v, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNames = Names{URL: "HITSS_DOWNLOAD_URL", Username: "HITSS_USERNAME", Password: "HITSS_PASSWORD"}

func TestResolverCredentials(t *testing.T) {
	store := &mapStore{values: map[string]string{
		"HITSS_DOWNLOAD_URL": "https://vendor.example/export",
		"HITSS_USERNAME":     "robot",
		"HITSS_PASSWORD":     "s3cret",
	}}
	r := NewResolver(store, time.Minute, discardLogger())

	creds, err := r.Credentials(context.Background(), testNames)
	require.NoError(t, err)
	require.Equal(t, Credentials{URL: "https://vendor.example/export", Username: "robot", Password: "s3cret"}, creds)
	require.NotContains(t, creds.LogValue().String(), "s3cret")
}

func TestResolverCachesLookups(t *testing.T) {
	store := &mapStore{values: map[string]string{"HITSS_USERNAME": "robot"}}
	r := NewResolver(store, time.Minute, discardLogger())

	for i := 0; i < 3; i++ {
		v, err := r.Resolve(context.Background(), "HITSS_USERNAME")
		require.NoError(t, err)
		require.Equal(t, "robot", v)
	}
	require.EqualValues(t, 1, store.calls.Load())
}

func TestResolverWithoutTTLAlwaysAsksStore(t *testing.T) {
	store := &mapStore{values: map[string]string{"HITSS_USERNAME": "robot"}}
	r := NewResolver(store, 0, discardLogger())

	_, _ = r.Resolve(context.Background(), "HITSS_USERNAME")
	_, _ = r.Resolve(context.Background(), "HITSS_USERNAME")
	require.EqualValues(t, 2, store.calls.Load())
}

func TestResolverMissingSecret(t *testing.T) {
	store := &mapStore{values: map[string]string{"HITSS_DOWNLOAD_URL": "https://vendor.example"}}
	r := NewResolver(store, time.Minute, discardLogger())

	_, err := r.Credentials(context.Background(), testNames)
	require.ErrorIs(t, err, ErrCredentialMissing)

	var missing *CredentialMissingError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "HITSS_USERNAME", missing.Name)
}

func TestResolverTransportErrorIsCredentialMissing(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewResolver(&mapStore{err: boom}, time.Minute, discardLogger())

	_, err := r.Resolve(context.Background(), "HITSS_PASSWORD")
	require.ErrorIs(t, err, ErrCredentialMissing)
	require.ErrorIs(t, err, boom)
}

func TestEnvStore(t *testing.T) {
	s := &EnvStore{lookup: func(name string) (string, bool) {
		if name == "HITSS_USERNAME" {
			return "robot", true
		}
		if name == "BLANK" {
			return "  ", true
		}
		return "", false
	}}
	v, err := s.GetSecret(context.Background(), "HITSS_USERNAME")
	require.NoError(t, err)
	require.Equal(t, "robot", v)

	_, err = s.GetSecret(context.Background(), "BLANK")
	require.ErrorIs(t, err, errSecretNotFound)
	_, err = s.GetSecret(context.Background(), "NOPE")
	require.ErrorIs(t, err, errSecretNotFound)
}
