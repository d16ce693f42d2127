package credentials

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
		want    []crawler.Credential
		wantErr bool
	}{
		{name: "json array", payload: `["k1", "k2"]`, want: []crawler.Credential{"k1", "k2"}},
		{name: "comma list", payload: "k1, k2,,k3", want: []crawler.Credential{"k1", "k2", "k3"}},
		{name: "newline list", payload: "k1\nk2\r\n", want: []crawler.Credential{"k1", "k2"}},
		{name: "dedupes", payload: `["k1","k2","k1"]`, want: []crawler.Credential{"k1", "k2"}},
		{name: "empty", payload: "  ", wantErr: true},
		{name: "empty array", payload: `[]`, wantErr: true},
		{name: "blank entries", payload: `["", " "]`, wantErr: true},
		{name: "bad json", payload: `["k1"`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.payload)
			if tc.wantErr {
				require.True(t, errors.Is(err, crawler.ErrConfiguration), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	src := NewStatic([]string{" a ", "b", "a"})
	got, err := src.Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.Credential{"a", "b"}, got)

	got[0] = "mutated"
	again, err := src.Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.Credential("a"), again[0])

	_, err = NewStatic(nil).Credentials(context.Background())
	require.True(t, errors.Is(err, crawler.ErrConfiguration))
}

type fakeAccessor struct {
	payload string
	err     error
	names   []string
	closed  bool
}

func (f *fakeAccessor) AccessSecretVersion(
	_ context.Context,
	req *secretmanagerpb.AccessSecretVersionRequest,
	_ ...gax.CallOption,
) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.names = append(f.names, req.GetName())
	if f.err != nil {
		return nil, f.err
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(f.payload)},
	}, nil
}

func (f *fakeAccessor) Close() error {
	f.closed = true
	return nil
}

func TestSecretManagerCredentials(t *testing.T) {
	t.Parallel()

	fake := &fakeAccessor{payload: `["apify_api_1","apify_api_2"]`}
	src, err := newSecretManagerWithClient(fake, SecretManagerConfig{ProjectID: "proj", SecretID: "apify-keys"}, zap.NewNop())
	require.NoError(t, err)

	got, err := src.Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.Credential{"apify_api_1", "apify_api_2"}, got)
	require.Equal(t, []string{"projects/proj/secrets/apify-keys/versions/latest"}, fake.names)

	require.NoError(t, src.Close())
	require.True(t, fake.closed)
}

func TestSecretManagerErrors(t *testing.T) {
	t.Parallel()

	_, err := newSecretManagerWithClient(&fakeAccessor{}, SecretManagerConfig{ProjectID: "proj"}, nil)
	require.True(t, errors.Is(err, crawler.ErrConfiguration))

	src, err := newSecretManagerWithClient(&fakeAccessor{err: errors.New("permission denied")},
		SecretManagerConfig{ProjectID: "p", SecretID: "s", Version: "3"}, nil)
	require.NoError(t, err)
	_, err = src.Credentials(context.Background())
	require.True(t, errors.Is(err, crawler.ErrConfiguration), "got %v", err)
	require.Contains(t, err.Error(), "versions/3")

	src, err = newSecretManagerWithClient(&fakeAccessor{payload: "[]"}, SecretManagerConfig{ProjectID: "p", SecretID: "s"}, nil)
	require.NoError(t, err)
	_, err = src.Credentials(context.Background())
	require.True(t, errors.Is(err, crawler.ErrConfiguration), "got %v", err)
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()

	_, err := NewKeyring("", "user")
	require.True(t, errors.Is(err, crawler.ErrConfiguration))

	src, err := NewKeyring("fbcrawler", "apify")
	require.NoError(t, err)

	_, err = src.Credentials(context.Background())
	require.True(t, errors.Is(err, crawler.ErrConfiguration), "missing entry should be a configuration error")

	require.NoError(t, src.Store([]string{"k1", "k2", "k1"}))
	got, err := src.Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.Credential{"k1", "k2"}, got)

	require.Error(t, src.Store(nil))
}
