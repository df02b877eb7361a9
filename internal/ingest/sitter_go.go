package ingest

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/agentic-research/skein/api"
)

// extractGo walks a Go source_file. Methods attach to a type declared in
// the same file; methods of types declared elsewhere are reported at file
// level as "Type.Method".
func extractGo(root *sitter.Node, src []byte) []api.Fact {
	var facts []api.Fact
	typeIndex := map[string]int{}
	var methods []*sitter.Node

	for _, n := range namedChildren(root) {
		switch n.Type() {
		case "import_declaration":
			facts = append(facts, goImports(n, src)...)
		case "type_declaration":
			for _, spec := range namedChildren(n) {
				if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
					continue
				}
				f := goType(spec, src)
				typeIndex[f.Name] = len(facts)
				facts = append(facts, f)
			}
		case "function_declaration":
			facts = append(facts, goFunc(n, src))
		case "method_declaration":
			methods = append(methods, n)
		case "const_declaration", "var_declaration":
			facts = append(facts, goValues(n, src)...)
		}
	}

	for _, m := range methods {
		f := goFunc(m, src)
		recv, ptr := goReceiver(m, src)
		if ptr {
			f.Modifiers |= api.ModPointerReceiver
		}
		if i, ok := typeIndex[recv]; ok {
			facts[i].Children = append(facts[i].Children, f)
			continue
		}
		if recv != "" {
			f.Name = recv + "." + f.Name
		}
		facts = append(facts, f)
	}
	return facts
}

func goExported(name string) api.Modifiers {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return api.ModExported
	}
	return 0
}

func goImports(n *sitter.Node, src []byte) []api.Fact {
	var out []api.Fact
	var visit func(*sitter.Node)
	visit = func(n *sitter.Node) {
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "import_spec":
				pathNode := c.ChildByFieldName("path")
				path, err := strconv.Unquote(text(pathNode, src))
				if err != nil {
					path = strings.Trim(text(pathNode, src), "\"`")
				}
				out = append(out, api.Fact{
					Name:      path,
					Kind:      api.FactImport,
					TypeName:  text(c.ChildByFieldName("name"), src),
					NameRange: nodeRange(pathNode),
					DeclRange: nodeRange(c),
				})
			case "import_spec_list":
				visit(c)
			}
		}
	}
	visit(n)
	return out
}

func goType(spec *sitter.Node, src []byte) api.Fact {
	nameNode := spec.ChildByFieldName("name")
	name := text(nameNode, src)
	typ := spec.ChildByFieldName("type")

	f := api.Fact{
		Name:      name,
		Kind:      api.FactType,
		Modifiers: goExported(name),
		NameRange: nodeRange(nameNode),
		DeclRange: nodeRange(spec),
	}
	if tp := spec.ChildByFieldName("type_parameters"); tp != nil {
		f.Signature = squash(text(tp, src))
	}
	if spec.Type() == "type_alias" {
		f.Modifiers |= api.ModAlias
		f.TypeName = squash(text(typ, src))
		return f
	}
	if typ == nil {
		return f
	}

	switch typ.Type() {
	case "struct_type":
		f.TypeName = "struct"
		for _, list := range namedChildren(typ) {
			if list.Type() != "field_declaration_list" {
				continue
			}
			for _, fd := range namedChildren(list) {
				if fd.Type() != "field_declaration" {
					continue
				}
				names := fieldChildren(fd, "name")
				ftype := fd.ChildByFieldName("type")
				if len(names) == 0 {
					f.SuperTypes = append(f.SuperTypes, strings.TrimPrefix(text(ftype, src), "*"))
					continue
				}
				for _, nn := range names {
					fname := text(nn, src)
					f.Children = append(f.Children, api.Fact{
						Name:      fname,
						Kind:      api.FactField,
						Modifiers: goExported(fname),
						TypeName:  squash(text(ftype, src)),
						NameRange: nodeRange(nn),
						DeclRange: nodeRange(fd),
					})
				}
			}
		}
	case "interface_type":
		f.TypeName = "interface"
		f.Modifiers |= api.ModInterface
		for _, el := range namedChildren(typ) {
			switch el.Type() {
			case "method_elem", "method_spec":
				mn := el.ChildByFieldName("name")
				mname := text(mn, src)
				f.Children = append(f.Children, api.Fact{
					Name:      mname,
					Kind:      api.FactFunc,
					Modifiers: goExported(mname) | api.ModAbstract,
					Signature: squash(text(el.ChildByFieldName("parameters"), src)),
					TypeName:  squash(text(el.ChildByFieldName("result"), src)),
					NameRange: nodeRange(mn),
					DeclRange: nodeRange(el),
				})
			case "type_elem", "constraint_elem", "interface_type_name", "qualified_type", "type_identifier":
				f.SuperTypes = append(f.SuperTypes, squash(text(el, src)))
			}
		}
	default:
		f.TypeName = squash(text(typ, src))
	}
	return f
}

func goFunc(n *sitter.Node, src []byte) api.Fact {
	nameNode := n.ChildByFieldName("name")
	name := text(nameNode, src)
	sig := squash(text(n.ChildByFieldName("parameters"), src))
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		sig = squash(text(tp, src)) + sig
	}
	return api.Fact{
		Name:      name,
		Kind:      api.FactFunc,
		Modifiers: goExported(name),
		Signature: sig,
		TypeName:  squash(text(n.ChildByFieldName("result"), src)),
		NameRange: nodeRange(nameNode),
		DeclRange: nodeRange(n),
	}
}

// goReceiver returns the base type name of a method receiver and whether
// it is a pointer.
func goReceiver(m *sitter.Node, src []byte) (string, bool) {
	recv := m.ChildByFieldName("receiver")
	for _, p := range namedChildren(recv) {
		if p.Type() != "parameter_declaration" {
			continue
		}
		t := strings.TrimSpace(text(p.ChildByFieldName("type"), src))
		ptr := strings.HasPrefix(t, "*")
		t = strings.TrimPrefix(t, "*")
		if i := strings.IndexByte(t, '['); i >= 0 {
			t = t[:i]
		}
		return t, ptr
	}
	return "", false
}

func goValues(n *sitter.Node, src []byte) []api.Fact {
	isConst := n.Type() == "const_declaration"
	var out []api.Fact
	var visit func(*sitter.Node)
	visit = func(n *sitter.Node) {
		for _, spec := range namedChildren(n) {
			switch spec.Type() {
			case "const_spec", "var_spec":
				typ := squash(text(spec.ChildByFieldName("type"), src))
				for _, nn := range fieldChildren(spec, "name") {
					name := text(nn, src)
					if name == "_" {
						continue
					}
					mods := goExported(name)
					if isConst {
						mods |= api.ModConst
					}
					out = append(out, api.Fact{
						Name:      name,
						Kind:      api.FactField,
						Modifiers: mods,
						TypeName:  typ,
						NameRange: nodeRange(nn),
						DeclRange: nodeRange(spec),
					})
				}
			case "var_spec_list", "const_spec_list":
				visit(spec)
			}
		}
	}
	visit(n)
	return out
}
