package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/skein/api"
)

func sampleFacts() []api.Fact {
	return []api.Fact{
		{Name: "fmt", Kind: api.FactImport},
		{
			Name: "Server", Kind: api.FactType, Modifiers: api.ModExported,
			SuperTypes: []string{"io.Reader"},
			DeclRange:  api.Range{Start: 10, End: 80},
			Children: []api.Fact{
				{Name: "Addr", Kind: api.FactField, TypeName: "string"},
				{Name: "Run", Kind: api.FactFunc, Signature: "()", TypeName: "error"},
			},
		},
		{Name: "init", Kind: api.FactFunc, Signature: "()"},
		{Name: "init", Kind: api.FactFunc, Signature: "()"},
	}
}

func TestArchive_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.facts")
	info := ArchiveInfo{Source: "server.go", Language: "go"}
	require.NoError(t, WriteArchive(path, info, sampleFacts()))

	gotInfo, facts, err := ReadArchive(path)
	require.NoError(t, err)
	assert.Equal(t, info, gotInfo)
	assert.Equal(t, sampleFacts(), facts)
}

func TestArchive_RewriteReplacesFacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.facts")
	require.NoError(t, WriteArchive(path, ArchiveInfo{}, sampleFacts()))
	require.NoError(t, WriteArchive(path, ArchiveInfo{Language: "go"}, sampleFacts()[:1]))

	_, facts, err := ReadArchive(path)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestArchive_EncodeDecodeThroughProducer(t *testing.T) {
	data, err := EncodeArchive(ArchiveInfo{Source: "s.go", Language: "go"}, sampleFacts())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	facts, err := ArchiveProducer{}.Facts(context.Background(), "lib.facts", data)
	require.NoError(t, err)
	assert.Equal(t, sampleFacts(), facts)

	_, err = ArchiveProducer{}.Facts(context.Background(), "empty.facts", nil)
	assert.Error(t, err)
}
