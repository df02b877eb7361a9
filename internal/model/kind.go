package model

import "github.com/agentic-research/skein/api"

// Kind is the element kind carried by a Handle.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindModel
	KindProject
	KindPackage
	KindFile
	KindArtifact
	KindImport
	KindType
	KindField
	KindFunc
)

var kindInfo = [...]struct {
	name string
	code byte
}{
	KindInvalid:  {"invalid", '?'},
	KindModel:    {"model", 'm'},
	KindProject:  {"project", 'p'},
	KindPackage:  {"package", 'k'},
	KindFile:     {"file", 'f'},
	KindArtifact: {"artifact", 'a'},
	KindImport:   {"import", 'i'},
	KindType:     {"type", 't'},
	KindField:    {"field", 'v'},
	KindFunc:     {"func", 'x'},
}

func (k Kind) String() string {
	if int(k) < len(kindInfo) {
		return kindInfo[k].name
	}
	return kindInfo[KindInvalid].name
}

func (k Kind) code() byte {
	if int(k) < len(kindInfo) {
		return kindInfo[k].code
	}
	return kindInfo[KindInvalid].code
}

func kindFromCode(c byte) Kind {
	for k := KindModel; int(k) < len(kindInfo); k++ {
		if kindInfo[k].code == c {
			return k
		}
	}
	return KindInvalid
}

// Openable reports whether elements of this kind are built by their own
// open operation. Members are built by their enclosing openable.
func (k Kind) Openable() bool {
	switch k {
	case KindModel, KindProject, KindPackage, KindFile, KindArtifact:
		return true
	}
	return false
}

// SourceBearing reports whether elements of this kind own a text buffer.
func (k Kind) SourceBearing() bool { return k == KindFile }

// Member reports whether the kind is a declaration inside a file or artifact.
func (k Kind) Member() bool {
	switch k {
	case KindImport, KindType, KindField, KindFunc:
		return true
	}
	return false
}

// KindForFact maps a producer fact kind to a member kind.
func KindForFact(fk api.FactKind) Kind {
	switch fk {
	case api.FactImport:
		return KindImport
	case api.FactType:
		return KindType
	case api.FactField:
		return KindField
	case api.FactFunc:
		return KindFunc
	}
	return KindInvalid
}

// FactKind is the inverse of KindForFact.
func (k Kind) FactKind() api.FactKind {
	switch k {
	case KindImport:
		return api.FactImport
	case KindType:
		return api.FactType
	case KindField:
		return api.FactField
	case KindFunc:
		return api.FactFunc
	}
	return ""
}
