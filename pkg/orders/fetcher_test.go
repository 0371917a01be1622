package orders

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/retry"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func fileServer(t *testing.T, files map[string][]byte) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func completeJob(manifest ...models.FileDescriptor) *models.Job {
	return &models.Job{ID: "job-1", Service: "fake", Status: models.JobStatusComplete, RemoteStatus: "complete", Manifest: manifest}
}

func noRetry() retry.Config {
	return retry.Config{MaxRetries: 0}
}

func TestFetchOneBadChecksumIsPartial(t *testing.T) {
	a, b, c := []byte("alpha granule"), []byte("beta granule"), []byte("gamma granule")
	srv, _ := fileServer(t, map[string][]byte{"/a.h5": a, "/b.h5": b, "/c.h5": c})

	job := completeJob(
		models.FileDescriptor{URL: srv.URL + "/a.h5", Name: "a.h5", ExpectedSize: int64(len(a)), Checksum: &models.Checksum{Algorithm: "SHA-256", Value: sha256Hex(a)}},
		models.FileDescriptor{URL: srv.URL + "/b.h5", Name: "b.h5", Checksum: &models.Checksum{Algorithm: "SHA-256", Value: sha256Hex([]byte("corrupt"))}},
		models.FileDescriptor{URL: srv.URL + "/c.h5", Name: "c.h5", Checksum: &models.Checksum{Algorithm: "md5", Value: md5Hex(c)}},
	)
	dest := t.TempDir()

	f := NewFetcher(testCreds(), WithFetchRetry(noRetry()))
	res, err := f.Fetch(context.Background(), job, dest)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Failed)
	assert.Equal(t, 3, fe.Total)
	assert.Equal(t, "job-1", fe.JobID)
	assert.True(t, errors.Is(err, ErrIntegrity))

	assert.Equal(t, OutcomePartial, res.Outcome())
	assert.Equal(t, []string{filepath.Join(dest, "a.h5"), filepath.Join(dest, "c.h5")}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "b.h5", res.Failed[0].File.Name)

	_, statErr := os.Stat(filepath.Join(dest, "b.h5"))
	assert.True(t, os.IsNotExist(statErr), "corrupt file must not be left in place")
	_, statErr = os.Stat(filepath.Join(dest, "b.h5.part"))
	assert.True(t, os.IsNotExist(statErr))

	got, err := os.ReadFile(filepath.Join(dest, "a.h5"))
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestFetchAllSucceeded(t *testing.T) {
	data := []byte("ATL07-01_20190622055317_12980301_003_01.h5 contents")
	srv, _ := fileServer(t, map[string][]byte{"/ATL07.h5": data})

	job := completeJob(models.FileDescriptor{URL: srv.URL + "/ATL07.h5", ExpectedSize: int64(len(data))})
	res, err := NewFetcher(testCreds()).Fetch(context.Background(), job, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome())
	assert.Equal(t, int64(len(data)), res.Bytes)
	assert.Equal(t, "ATL07.h5", filepath.Base(res.Succeeded[0]))
}

func TestFetchSizeMismatch(t *testing.T) {
	srv, _ := fileServer(t, map[string][]byte{"/a": []byte("short")})

	job := completeJob(models.FileDescriptor{URL: srv.URL + "/a", Name: "a", ExpectedSize: 100})
	res, err := NewFetcher(testCreds(), WithFetchRetry(noRetry()), WithConcurrency(1)).Fetch(context.Background(), job, t.TempDir())

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "size", ie.Kind)
	assert.Equal(t, OutcomeFailed, res.Outcome())
}

func TestFetchRequiresCompleteJob(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning, models.JobStatusFailed, models.JobStatusCancelled} {
		job := &models.Job{ID: "j", Status: status}
		_, err := NewFetcher(testCreds()).Fetch(context.Background(), job, t.TempDir())
		assert.True(t, errors.Is(err, ErrPrecondition), "status %s", status)
	}
}

func TestFetchInsufficientSpace(t *testing.T) {
	f := NewFetcher(testCreds())
	f.freeSpace = func(string) (uint64, error) { return 10, nil }

	job := completeJob(models.FileDescriptor{URL: "http://127.0.0.1:1/a", Name: "a", ExpectedSize: 11})
	_, err := f.Fetch(context.Background(), job, t.TempDir())

	var ise *InsufficientSpaceError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, uint64(11), ise.Need)
	assert.True(t, errors.Is(err, ErrPrecondition))
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := retry.Config{MaxRetries: 2, Multiplier: 1}
	job := completeJob(models.FileDescriptor{URL: srv.URL + "/x", Name: "x"})
	res, err := NewFetcher(testCreds(), WithFetchRetry(cfg)).Fetch(context.Background(), job, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchAuthFailureNotRetried(t *testing.T) {
	srv, hits := fileServer(t, map[string][]byte{"/a": []byte("x")})
	creds := StaticCredentials{S: nil}
	_, err := NewFetcher(creds).Fetch(context.Background(), completeJob(models.FileDescriptor{URL: srv.URL + "/a"}), t.TempDir())
	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestTargetPathStaysInDestination(t *testing.T) {
	dest := t.TempDir()
	tests := []struct {
		fd   models.FileDescriptor
		want string
	}{
		{models.FileDescriptor{URL: "https://n5eil02u.ecs.nsidc.org/esir/5000000962482.zip"}, "5000000962482.zip"},
		{models.FileDescriptor{URL: "https://x/y", Name: "../../etc/passwd"}, "passwd"},
		{models.FileDescriptor{URL: "https://x/y", Name: "sub/dir/file.nc"}, "file.nc"},
	}
	for _, tt := range tests {
		got, err := targetPath(dest, tt.fd)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dest, tt.want), got)
	}

	_, err := targetPath(dest, models.FileDescriptor{URL: "https://x/"})
	assert.Error(t, err)
}

func TestNewHash(t *testing.T) {
	for _, alg := range []string{"MD5", "SHA-1", "sha256", "SHA-512", "SHA3-256", "sha3-512"} {
		_, err := newHash(alg)
		assert.NoError(t, err, alg)
	}
	_, err := newHash("CRC32")
	assert.True(t, errors.Is(err, ErrIntegrity))
}

func TestFetchCollidingNamesKeepsEveryFile(t *testing.T) {
	one, two := []byte("first granule"), []byte("second granule")
	srv, _ := fileServer(t, map[string][]byte{"/g1/out.nc4": one, "/g2/out.nc4": two})

	job := completeJob(
		models.FileDescriptor{URL: srv.URL + "/g1/out.nc4"},
		models.FileDescriptor{URL: srv.URL + "/g2/out.nc4"},
	)
	dest := t.TempDir()

	res, err := NewFetcher(testCreds(), WithFetchRetry(noRetry())).Fetch(context.Background(), job, dest)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dest, "out.nc4"), filepath.Join(dest, "out-1.nc4")}, res.Succeeded)

	got, err := os.ReadFile(res.Succeeded[0])
	require.NoError(t, err)
	assert.Equal(t, one, got)
	got, err = os.ReadFile(res.Succeeded[1])
	require.NoError(t, err)
	assert.Equal(t, two, got)
}
