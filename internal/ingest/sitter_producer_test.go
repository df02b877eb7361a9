package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/skein/api"
)

func factNames(facts []api.Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = string(f.Kind) + ":" + f.Name
	}
	return out
}

func find(t *testing.T, facts []api.Fact, name string) api.Fact {
	t.Helper()
	for _, f := range facts {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("fact %q not found in %v", name, factNames(facts))
	return api.Fact{}
}

const goSource = `package server

import (
	"fmt"
	stdio "io"
)

const Version = "1.0"

var debug bool

type Server struct {
	stdio.Reader
	Addr string
	port int
}

type Handler interface {
	fmt.Stringer
	Serve(req string) error
}

type ID = string

func New(addr string) *Server {
	return &Server{Addr: addr}
}

func (s *Server) Run() error { return nil }

func (s Server) name() string { return s.Addr }

func (c Client) Dial() {}
`

func TestSitterProducer_Go(t *testing.T) {
	facts, err := NewSitterProducer("go").Facts(context.Background(), "server.go", []byte(goSource))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"import:fmt", "import:io",
		"field:Version", "field:debug",
		"type:Server", "type:Handler", "type:ID",
		"func:New", "func:Client.Dial",
	}, factNames(facts))

	io := find(t, facts, "io")
	assert.Equal(t, "stdio", io.TypeName)

	version := find(t, facts, "Version")
	assert.True(t, version.Modifiers.Has(api.ModConst|api.ModExported))
	assert.False(t, find(t, facts, "debug").Modifiers.Has(api.ModExported))

	srv := find(t, facts, "Server")
	assert.Equal(t, "struct", srv.TypeName)
	assert.Equal(t, []string{"stdio.Reader"}, srv.SuperTypes)
	assert.Equal(t, []string{"field:Addr", "field:port", "func:Run", "func:name"}, factNames(srv.Children))
	run := find(t, srv.Children, "Run")
	assert.True(t, run.Modifiers.Has(api.ModPointerReceiver))
	assert.Equal(t, "error", run.TypeName)
	assert.Equal(t, "()", run.Signature)
	assert.False(t, find(t, srv.Children, "name").Modifiers.Has(api.ModPointerReceiver))
	assert.Equal(t, "string", find(t, srv.Children, "Addr").TypeName)

	h := find(t, facts, "Handler")
	assert.True(t, h.Modifiers.Has(api.ModInterface))
	assert.Equal(t, []string{"fmt.Stringer"}, h.SuperTypes)
	serve := find(t, h.Children, "Serve")
	assert.True(t, serve.Modifiers.Has(api.ModAbstract))
	assert.Equal(t, "(req string)", serve.Signature)

	assert.True(t, find(t, facts, "ID").Modifiers.Has(api.ModAlias))

	newFn := find(t, facts, "New")
	assert.Equal(t, "(addr string)", newFn.Signature)
	assert.Equal(t, "*Server", newFn.TypeName)
	assert.Equal(t, "New", goSource[newFn.NameRange.Start:newFn.NameRange.End])
	assert.Contains(t, goSource[newFn.DeclRange.Start:newFn.DeclRange.End], "return &Server")
}

func TestSitterProducer_GoSyntaxErrorStillExtracts(t *testing.T) {
	src := "package p\n\nfunc Good() {}\n\nfunc Broken( {\n"
	facts, err := NewSitterProducer("go").Facts(context.Background(), "p.go", []byte(src))
	require.NoError(t, err)
	assert.Contains(t, factNames(facts), "func:Good")
}

const pySource = `import os
from typing import Protocol as P

MAX_SIZE = 10

class Base(P):
    kind = "base"

    @staticmethod
    def make():
        pass

    async def fetch(self, url):
        pass

    def _hidden(self):
        pass

def helper(x: int) -> str:
    return str(x)
`

func TestSitterProducer_Python(t *testing.T) {
	facts, err := NewSitterProducer("python").Facts(context.Background(), "m.py", []byte(pySource))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"import:os", "import:typing.Protocol",
		"field:MAX_SIZE", "type:Base", "func:helper",
	}, factNames(facts))
	assert.Equal(t, "P", find(t, facts, "typing.Protocol").TypeName)
	assert.True(t, find(t, facts, "MAX_SIZE").Modifiers.Has(api.ModConst))

	base := find(t, facts, "Base")
	assert.Equal(t, []string{"P"}, base.SuperTypes)
	assert.Equal(t, []string{"field:kind", "func:make", "func:fetch", "func:_hidden"}, factNames(base.Children))
	assert.True(t, find(t, base.Children, "make").Modifiers.Has(api.ModStatic))
	assert.True(t, find(t, base.Children, "fetch").Modifiers.Has(api.ModAsync))
	assert.False(t, find(t, base.Children, "_hidden").Modifiers.Has(api.ModExported))

	helper := find(t, facts, "helper")
	assert.Equal(t, "(x: int)", helper.Signature)
	assert.Equal(t, "str", helper.TypeName)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.True(t, r.Supported("a.go"))
	assert.True(t, r.Supported("b.PY"))
	assert.True(t, r.Supported("lib.facts"))
	assert.False(t, r.Supported("README.md"))
	assert.Equal(t, "go", r.Language("x/y.go"))
	assert.True(t, IsArchive("x.facts"))

	called := false
	r.Register(".txt", "text", ProducerFunc(func(context.Context, string, []byte) ([]api.Fact, error) {
		called = true
		return nil, nil
	}))
	p, ok := r.For("notes.txt")
	require.True(t, ok)
	_, err := p.Facts(context.Background(), "notes.txt", nil)
	require.NoError(t, err)
	assert.True(t, called)
}
