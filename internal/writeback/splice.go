package writeback

import (
	"fmt"

	"github.com/agentic-research/skein/api"
	"github.com/agentic-research/skein/internal/store"
)

// Splice replaces the declaration range r of a member with text inside the
// buffer of its file. The buffer becomes dirty; nothing reaches storage
// until the file is saved.
func Splice(buf *store.Buffer, r api.Range, text []byte) error {
	if r.Start > r.End {
		return fmt.Errorf("splice %s: inverted range [%d:%d]", buf.Owner(), r.Start, r.End)
	}
	if err := buf.Replace(int(r.Start), int(r.End), text); err != nil {
		return fmt.Errorf("splice %s: %w", buf.Owner(), err)
	}
	return nil
}
