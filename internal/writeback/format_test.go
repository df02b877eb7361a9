package writeback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatGoBuffer_FormatsGo(t *testing.T) {
	input := []byte("package main\n\nfunc A()  {\nreturn\n}\n")
	got := FormatGoBuffer(input, "main.go", "")
	assert.Equal(t, "package main\n\nfunc A() {\n\treturn\n}\n", string(got))
}

func TestFormatGoBuffer_NonGoPassthrough(t *testing.T) {
	input := []byte("def foo():\n  pass\n")
	got := FormatGoBuffer(input, "main.py", "")
	assert.Equal(t, input, got)
}

func TestFormatGoBuffer_InvalidGoPassthrough(t *testing.T) {
	input := []byte("func broken {{{")
	got := FormatGoBuffer(input, "main.go", "")
	assert.Equal(t, input, got, "unparseable Go comes back as is")
}

func TestFormatter(t *testing.T) {
	hook := Formatter("example.com/m")
	got := hook("svc/a.go", []byte("package svc\nvar x=1\n"))
	assert.Equal(t, "package svc\n\nvar x = 1\n", string(got))
}
