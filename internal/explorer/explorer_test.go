package explorer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/workspace-portal/internal/explorer"
)

func TestCatalog_FrameURL(t *testing.T) {
	t.Parallel()

	c := explorer.NewCatalog(nil)
	got, err := c.FrameURL("1000 Genomes", "?filter=chr1&extraFacets=sex")
	require.NoError(t, err)
	assert.Equal(t, "https://test-data-explorer.appspot.com/?embed&filter=chr1&extraFacets=sex", got)

	got, err = c.FrameURL("UK Biobank", "")
	require.NoError(t, err)
	assert.Equal(t, "https://biobank-explorer.appspot.com/?embed&", got)
}

func TestCatalog_UnknownDataset(t *testing.T) {
	t.Parallel()

	_, err := explorer.NewCatalog(nil).FrameURL("Nope", "")
	require.True(t, errors.Is(err, explorer.ErrUnknownDataset))
}

func TestCatalog_ExtraOrigins(t *testing.T) {
	t.Parallel()

	c := explorer.NewCatalog(map[string]string{"Local": "http://localhost:4400/", "UK Biobank": "https://ukbb.example.org"})
	origin, err := c.Origin("Local")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4400", origin)

	origin, err = c.Origin("UK Biobank")
	require.NoError(t, err)
	assert.Equal(t, "https://ukbb.example.org", origin)
	assert.Len(t, c.Datasets(), 6)
	assert.Equal(t, "1000 Genomes", c.Datasets()[0])

	_, err = explorer.NewCatalog(nil).Origin("Local")
	require.Error(t, err, "extra origins must not leak into the defaults")
}

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  explorer.Message
		want explorer.Action
	}{
		{
			name: "import data navigates",
			msg:  explorer.Message{ImportDataQueryStr: "url=https%3A%2F%2Fexample.org&format=entitiesJson"},
			want: explorer.Action{Kind: explorer.ActionNavigate, Path: "/import-data", Query: "?url=https%3A%2F%2Fexample.org&format=entitiesJson"},
		},
		{
			name: "explorer state replaces address bar",
			msg:  explorer.Message{DeQueryStr: "filter=chr2"},
			want: explorer.Action{Kind: explorer.ActionReplace, URL: "#library/datasets/1000 Genomes/data-explorer?filter=chr2", Title: "Data Explorer - 1000 Genomes"},
		},
		{
			name: "import wins over state",
			msg:  explorer.Message{ImportDataQueryStr: "a=1", DeQueryStr: "b=2"},
			want: explorer.Action{Kind: explorer.ActionNavigate, Path: "/import-data", Query: "?a=1"},
		},
		{
			name: "anything else ignored",
			want: explorer.Action{Kind: explorer.ActionIgnore},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := explorer.HandleMessage("1000 Genomes", "/library/datasets/1000 Genomes/data-explorer", tt.msg)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitOriginParam(t *testing.T) {
	t.Parallel()

	origin, rest, err := explorer.SplitOriginParam("?origin=https%3A%2F%2Fde.example.org&filter=x")
	require.NoError(t, err)
	assert.Equal(t, "https://de.example.org", origin)
	assert.Equal(t, "filter=x", rest)

	_, _, err = explorer.SplitOriginParam("%zz")
	require.Error(t, err)
}

func TestLibraryFrameURL(t *testing.T) {
	t.Parallel()

	src, origin, err := explorer.LibraryFrameURL("?origin=https%3A%2F%2Fde.example.org&filter=x")
	require.NoError(t, err)
	assert.Equal(t, "https://de.example.org", origin)
	assert.Equal(t, "https://de.example.org/?embed&filter=x", src)

	for _, q := range []string{"filter=x", "origin=javascript%3Aalert(1)", "origin=de.example.org", "%zz"} {
		_, _, err := explorer.LibraryFrameURL(q)
		require.Error(t, err, q)
	}
}

func TestHandleLibraryMessage_KeepsOrigin(t *testing.T) {
	t.Parallel()

	got := explorer.HandleLibraryMessage("1000 Genomes", "/library/datasets/1000 Genomes/data-explorer", "https://de.example.org", explorer.Message{DeQueryStr: "filter=x"})
	assert.Equal(t, explorer.Action{
		Kind:  explorer.ActionReplace,
		URL:   "#library/datasets/1000 Genomes/data-explorer?filter=x&origin=https://de.example.org",
		Title: "Data Explorer - 1000 Genomes",
	}, got)

	imported := explorer.HandleLibraryMessage("1000 Genomes", "/", "https://de.example.org", explorer.Message{ImportDataQueryStr: "url=y"})
	assert.Equal(t, explorer.Action{Kind: explorer.ActionNavigate, Path: explorer.ImportDataPath, Query: "?url=y"}, imported)
}
