package ingest

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/agentic-research/skein/api"
)

// extractPython walks a Python module. Names with a leading underscore are
// private; everything else is exported.
func extractPython(root *sitter.Node, src []byte) []api.Fact {
	return pyBlock(root, src, false)
}

func pyExported(name string) api.Modifiers {
	if strings.HasPrefix(name, "_") && !(strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")) {
		return 0
	}
	return api.ModExported
}

// pyBlock extracts the declarations directly inside a module or class body.
func pyBlock(block *sitter.Node, src []byte, inClass bool) []api.Fact {
	var out []api.Fact
	for _, n := range namedChildren(block) {
		switch n.Type() {
		case "import_statement", "import_from_statement":
			if !inClass {
				out = append(out, pyImports(n, src)...)
			}
		case "class_definition":
			out = append(out, pyClass(n, n, src))
		case "function_definition":
			out = append(out, pyFunc(n, n, nil, src, inClass))
		case "decorated_definition":
			def := n.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			var decorators []string
			for _, d := range namedChildren(n) {
				if d.Type() == "decorator" {
					decorators = append(decorators, strings.TrimSpace(strings.TrimPrefix(text(d, src), "@")))
				}
			}
			switch def.Type() {
			case "class_definition":
				out = append(out, pyClass(def, n, src))
			case "function_definition":
				out = append(out, pyFunc(def, n, decorators, src, inClass))
			}
		case "expression_statement":
			for _, c := range namedChildren(n) {
				if c.Type() == "assignment" {
					if f, ok := pyAssignment(c, n, src); ok {
						out = append(out, f)
					}
				}
			}
		}
	}
	return out
}

func pyImports(n *sitter.Node, src []byte) []api.Fact {
	var out []api.Fact
	module := ""
	if m := n.ChildByFieldName("module_name"); m != nil {
		module = text(m, src)
	}
	for _, c := range fieldChildren(n, "name") {
		name, alias := text(c, src), ""
		nameNode := c
		if c.Type() == "aliased_import" {
			nameNode = c.ChildByFieldName("name")
			name = text(nameNode, src)
			alias = text(c.ChildByFieldName("alias"), src)
		}
		if module != "" {
			name = module + "." + name
		}
		out = append(out, api.Fact{
			Name:      name,
			Kind:      api.FactImport,
			TypeName:  alias,
			NameRange: nodeRange(nameNode),
			DeclRange: nodeRange(n),
		})
	}
	if len(out) == 0 && module != "" {
		// from x import *
		out = append(out, api.Fact{
			Name:      module + ".*",
			Kind:      api.FactImport,
			NameRange: nodeRange(n.ChildByFieldName("module_name")),
			DeclRange: nodeRange(n),
		})
	}
	return out
}

func pyClass(def, outer *sitter.Node, src []byte) api.Fact {
	nameNode := def.ChildByFieldName("name")
	name := text(nameNode, src)
	f := api.Fact{
		Name:      name,
		Kind:      api.FactType,
		Modifiers: pyExported(name),
		TypeName:  "class",
		NameRange: nodeRange(nameNode),
		DeclRange: nodeRange(outer),
	}
	for _, arg := range namedChildren(def.ChildByFieldName("superclasses")) {
		if arg.Type() == "keyword_argument" {
			continue
		}
		st := squash(text(arg, src))
		f.SuperTypes = append(f.SuperTypes, st)
		if st == "ABC" || st == "abc.ABC" || st == "Protocol" || st == "typing.Protocol" {
			f.Modifiers |= api.ModAbstract
		}
	}
	f.Children = pyBlock(def.ChildByFieldName("body"), src, true)
	return f
}

func pyFunc(def, outer *sitter.Node, decorators []string, src []byte, inClass bool) api.Fact {
	nameNode := def.ChildByFieldName("name")
	name := text(nameNode, src)
	f := api.Fact{
		Name:      name,
		Kind:      api.FactFunc,
		Modifiers: pyExported(name),
		Signature: squash(text(def.ChildByFieldName("parameters"), src)),
		TypeName:  squash(text(def.ChildByFieldName("return_type"), src)),
		NameRange: nodeRange(nameNode),
		DeclRange: nodeRange(outer),
	}
	if first := def.Child(0); first != nil && first.Type() == "async" {
		f.Modifiers |= api.ModAsync
	}
	for _, d := range decorators {
		switch d {
		case "staticmethod", "classmethod":
			if inClass {
				f.Modifiers |= api.ModStatic
			}
		case "abstractmethod", "abc.abstractmethod":
			f.Modifiers |= api.ModAbstract
		}
	}
	return f
}

// pyAssignment reports "x = ..." and "x: T = ..." with a plain name target.
func pyAssignment(a, stmt *sitter.Node, src []byte) (api.Fact, bool) {
	left := a.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return api.Fact{}, false
	}
	name := text(left, src)
	mods := pyExported(name)
	if name == strings.ToUpper(name) && strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		mods |= api.ModConst
	}
	return api.Fact{
		Name:      name,
		Kind:      api.FactField,
		Modifiers: mods,
		TypeName:  squash(text(a.ChildByFieldName("type"), src)),
		NameRange: nodeRange(left),
		DeclRange: nodeRange(stmt),
	}, true
}
