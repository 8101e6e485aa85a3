package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/photomaster/internal/models"
)

func TestParseSheetCSV(t *testing.T) {
	data := []byte("\xef\xbb\xbf Name , LINKS\n" +
		"fig,https://a.example/1.png\n" +
		",https://a.example/2.png\n" +
		"fig,https://a.example/3.png\n" +
		"nolink,\n")

	res, err := ParseSheet("products.csv", data)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Items, 3)

	assert.Equal(t, models.LinkItem("fig", "https://a.example/1.png"), res.Items[0])
	assert.Equal(t, models.LinkItem("", "https://a.example/2.png"), res.Items[1])
	assert.Equal(t, models.LinkItem("fig", "https://a.example/3.png"), res.Items[2])
}

func TestParseSheetCSVNamesColumn(t *testing.T) {
	res, err := ParseSheet("x.CSV", []byte("links,names\nhttp://h/a.jpg,a\n"))
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "a", res.Items[0].Name)
	assert.Equal(t, "http://h/a.jpg", res.Items[0].Link)
}

func TestParseSheetCSVMissingColumns(t *testing.T) {
	res, err := ParseSheet("bad.csv", []byte("title,url\na,b\n"))
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	require.Len(t, res.Errors, 1)

	var se *models.SchemaError
	require.ErrorAs(t, res.Errors[0], &se)
	assert.Equal(t, "bad.csv", se.File)
	assert.Equal(t, []string{"links", "name"}, se.Missing)
}

func TestParseSheetXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"name", "links"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"shoe", "https://x.example/shoe.jpg"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"skip-me", ""}))

	_, err := f.NewSheet("Broken")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Broken", "A1", &[]interface{}{"name", "url"}))

	_, err = f.NewSheet("More")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("More", "A1", &[]interface{}{"Links", "Names"}))
	require.NoError(t, f.SetSheetRow("More", "A2", &[]interface{}{"https://x.example/bag.jpg", "bag"}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := ParseSheet("catalog.xlsx", buf.Bytes())
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "shoe", res.Items[0].Name)
	assert.Equal(t, "bag", res.Items[1].Name)

	require.Len(t, res.Errors, 1)
	var se *models.SchemaError
	require.ErrorAs(t, res.Errors[0], &se)
	assert.Equal(t, "Broken", se.Sheet)
	assert.Equal(t, []string{"links"}, se.Missing)
}

func TestParseSheetErrors(t *testing.T) {
	_, err := ParseSheet("catalog.xlsx", []byte("not a zip"))
	assert.ErrorIs(t, err, models.ErrUndecodable)

	_, err = ParseSheet("catalog.ods", []byte("x"))
	assert.ErrorIs(t, err, models.ErrUnsupportedType)
}
