package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rosterFixture() Dataset {
	return Dataset{
		Title:   "Morning Flow",
		Headers: []string{"Name", "Status"},
		Rows: [][]string{
			{"Alice", "confirmed"},
			{"Bob, Jr.", "waitlist"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestRenderCSV(t *testing.T) {
	doc, err := Render(FormatCSV, "roster", rosterFixture())
	require.NoError(t, err)
	assert.Equal(t, "roster.csv", doc.Filename)
	assert.Equal(t, "Name,Status\nAlice,confirmed\n\"Bob, Jr.\",waitlist\n", string(doc.Body))
}

func TestRenderPDF(t *testing.T) {
	doc, err := Render(FormatPDF, "roster", rosterFixture())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, bytes.HasPrefix(doc.Body, []byte("%PDF")))
}

func TestRenderRejectsRaggedRows(t *testing.T) {
	data := rosterFixture()
	data.Rows = append(data.Rows, []string{"only-one"})
	_, err := Render(FormatCSV, "roster", data)
	assert.Error(t, err)
}
