package writeback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/skein/api"
	"github.com/agentic-research/skein/internal/model"
	"github.com/agentic-research/skein/internal/store"
)

func openBuffer(t *testing.T, content string) *store.Buffer {
	t.Helper()
	bs := store.NewBufferStore(4, nil)
	h := model.Root().Child(model.KindProject, "p").Child(model.KindPackage, "").Child(model.KindFile, "a.go")
	return bs.Open(h, []byte(content), true)
}

func TestSplice_ReplaceMiddle(t *testing.T) {
	buf := openBuffer(t, "func A() {}\nfunc B() {}\nfunc C() {}\n")
	require.NoError(t, Splice(buf, api.Range{Start: 12, End: 23}, []byte("func B() { return }")))
	assert.Equal(t, "func A() {}\nfunc B() { return }\nfunc C() {}\n", string(buf.Contents()))
	assert.True(t, buf.Dirty())
}

func TestSplice_Shorter(t *testing.T) {
	buf := openBuffer(t, "func LongName() { /* lots of code */ }\n")
	require.NoError(t, Splice(buf, api.Range{Start: 0, End: 38}, []byte("func X() {}")))
	assert.Equal(t, "func X() {}\n", string(buf.Contents()))
}

func TestSplice_InsertAtEnd(t *testing.T) {
	buf := openBuffer(t, "a\n")
	require.NoError(t, Splice(buf, api.Range{Start: 2, End: 2}, []byte("b\n")))
	assert.Equal(t, "a\nb\n", string(buf.Contents()))
}

func TestSplice_InvalidRange(t *testing.T) {
	buf := openBuffer(t, "short")
	assert.Error(t, Splice(buf, api.Range{Start: 0, End: 100}, []byte("x")))
	assert.Error(t, Splice(buf, api.Range{Start: 4, End: 2}, []byte("x")))
	assert.Equal(t, "short", string(buf.Contents()))
	assert.False(t, buf.Dirty())
}
