package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.1", false},
		{"2.0.0", "2.0.0-rc.1", true},
	}
	for _, tt := range tests {
		t.Run(tt.latest+"_vs_"+tt.current, func(t *testing.T) {
			assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current))
		})
	}
}

func newTestChecker(t *testing.T, handler http.HandlerFunc) *VersionChecker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	vc := NewVersionChecker()
	vc.baseURL = srv.URL
	return vc
}

func TestVersionCheckRecordsLatestRelease(t *testing.T) {
	var etags []string
	vc := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/"+githubRepo+"/releases/latest", r.URL.Path)
		etags = append(etags, r.Header.Get("If-None-Match"))
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v9.1.0"}`))
	})

	require.NoError(t, vc.Check(context.Background()))
	require.NoError(t, vc.Check(context.Background()))
	assert.Equal(t, []string{"", `"abc"`}, etags)
	assert.Equal(t, "9.1.0", vc.Info().Latest)
}

func TestVersionCheckSkipsPrerelease(t *testing.T) {
	vc := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v9.2.0-beta","prerelease":true}`))
	})
	require.NoError(t, vc.Check(context.Background()))
	assert.Empty(t, vc.Info().Latest)
}

func TestVersionCheckRetryableErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vc := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			err := vc.Check(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errors.Is(err, errRetryable))
		})
	}
}

func TestVersionInfoDevBuildNeverUpdates(t *testing.T) {
	vc := NewVersionChecker()
	vc.latest = "99.0.0"
	info := vc.Info()
	assert.Equal(t, "dev", info.Current)
	assert.False(t, info.UpdateAvail)
}
