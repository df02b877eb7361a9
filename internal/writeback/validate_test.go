package writeback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidGo(t *testing.T) {
	src := []byte("package main\n\nfunc hello() string {\n\treturn \"world\"\n}\n")
	assert.NoError(t, Validate(context.Background(), src, "test.go"))
}

func TestValidate_BrokenGo(t *testing.T) {
	src := []byte("package main\n\nfunc hello() string {\n\treturn \"world\"\n// missing closing brace\n")
	err := Validate(context.Background(), src, "test.go")
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "test.go", ve.FilePath)
	assert.NotEmpty(t, ve.Message)
	assert.Contains(t, ve.Error(), "test.go:")
}

func TestValidate_Python(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Validate(ctx, []byte("def hello():\n    return \"world\"\n"), "test.py"))
	assert.Error(t, Validate(ctx, []byte("def hello(\n    return \"world\"\n"), "test.py"))
}

func TestValidate_OtherGrammars(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Validate(ctx, []byte(`function hello() { return "world"; }`), "test.js"))
	assert.NoError(t, Validate(ctx, []byte(`const x: number = 1;`), "test.ts"))
	assert.True(t, Supported("q.sql"))
	assert.False(t, Supported("notes.txt"))
}

func TestValidate_UnknownExtensionPasses(t *testing.T) {
	assert.NoError(t, Validate(context.Background(), []byte(`this is not code {{{`), "test.txt"))
}

func TestValidate_EmptyContent(t *testing.T) {
	assert.NoError(t, Validate(context.Background(), []byte{}, "test.go"))
}

func TestASTErrors_BrokenGo(t *testing.T) {
	src := []byte("package main\n\nfunc hello() {\n\tx :=\n}\n\nfunc other( {\n}\n")
	errs := ASTErrors(context.Background(), src, "test.go")
	require.NotEmpty(t, errs)
	assert.Equal(t, "test.go", errs[0].FilePath)
	for _, e := range errs {
		assert.LessOrEqual(t, int(e.Offset), len(src))
	}
}

func TestASTErrors_CleanOrUnknownIsNil(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ASTErrors(ctx, []byte("package main\n\nfunc hello() {}\n"), "test.go"))
	assert.Nil(t, ASTErrors(ctx, []byte(`broken {{{`), "test.txt"))
}
