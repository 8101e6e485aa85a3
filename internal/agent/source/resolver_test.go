package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

func TestResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/img.png" {
			_, _ = w.Write([]byte("remote"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewResolver(NewFetcher(FetcherConfig{}, nil), nil, logger.NewTestLogger())
	ctx := context.Background()

	asset, err := r.Resolve(ctx, models.InlineItem("a.png", []byte("inline")))
	require.NoError(t, err)
	assert.Equal(t, models.Asset{Name: "a.png", Data: []byte("inline")}, asset)

	asset, err = r.Resolve(ctx, models.LinkItem("remote", srv.URL+"/img.png"))
	require.NoError(t, err)
	assert.Equal(t, "remote", asset.Name)
	assert.Equal(t, []byte("remote"), asset.Data)

	_, err = r.Resolve(ctx, models.LinkItem("denied", srv.URL+"/private"))
	assert.ErrorIs(t, err, models.ErrFetch)

	_, err = r.Resolve(ctx, models.InlineItem("empty.png", nil))
	assert.ErrorIs(t, err, models.ErrUndecodable)
}

func TestExpand(t *testing.T) {
	r := NewResolver(nil, NewDocumentSource(&fakeRenderer{}, DocumentConfig{}, nil), nil)
	ctx := context.Background()

	t.Run("images", func(t *testing.T) {
		exp, err := r.Expand(ctx, models.KindImages, []models.Upload{
			{Filename: "a.png", Data: []byte("1")},
			{Filename: "b.jpg", Data: []byte("2")},
		})
		require.NoError(t, err)
		require.Len(t, exp.Items, 2)
		assert.Equal(t, models.SourceInline, exp.Items[0].Kind)
		assert.Equal(t, "b.jpg", exp.Items[1].Name)
	})

	t.Run("spreadsheet", func(t *testing.T) {
		exp, err := r.Expand(ctx, models.KindSpreadsheet, []models.Upload{
			{Filename: "list.csv", Data: []byte("name,links\nx,http://h/x\n")},
		})
		require.NoError(t, err)
		require.Len(t, exp.Items, 1)
		assert.Equal(t, models.SourceLink, exp.Items[0].Kind)
		assert.Empty(t, exp.Issues)
	})

	t.Run("document", func(t *testing.T) {
		exp, err := r.Expand(ctx, models.KindDocument, []models.Upload{
			{Filename: "report.pdf", Data: minimalPDF(2, "")},
			{Filename: "broken.pdf", Data: []byte("nope")},
		})
		require.NoError(t, err)
		assert.Len(t, exp.Items, 2)
		require.Len(t, exp.Issues, 1)
		assert.ErrorIs(t, exp.Issues[0], models.ErrUndecodable)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := r.Expand(ctx, models.UploadKind("video"), nil)
		assert.ErrorIs(t, err, models.ErrUnsupportedType)
	})
}
