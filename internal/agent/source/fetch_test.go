package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("image-bytes"))
		case "/created":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("made"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"200", "/ok", "image-bytes", false},
		{"201 counts as success", "/created", "made", false},
		{"404", "/missing", "", true},
		{"over size cap", "/big", "", true},
		{"empty body", "/empty", "", true},
		{"timeout", "/slow", "", true},
	}

	log := logger.NewTestLogger()
	f := NewFetcher(FetcherConfig{Timeout: 50 * time.Millisecond, MaxBytes: 32}, log)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Fetch(context.Background(), srv.URL+tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrFetch)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	assert.NotEmpty(t, log.Messages("WARN"))
}
