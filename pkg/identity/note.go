package identity

import (
	"strings"

	"github.com/pelletier/go-toml/v2"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// notePayload is the TOML document stored in each commit's note.
type notePayload struct {
	EntryID  string `toml:"entry-id"`
	PR       int    `toml:"pr,omitempty"`
	Branch   string `toml:"branch,omitempty"`
	Stack    string `toml:"stack,omitempty"`
	Revision int    `toml:"revision,omitempty"`
}

func payloadFor(id *Identity) notePayload {
	return notePayload{
		EntryID:  id.EntryID,
		PR:       id.PRNumber,
		Branch:   id.Branch,
		Stack:    id.Stack,
		Revision: id.Revision,
	}
}

func encodeNote(id *Identity) (string, error) {
	b, err := toml.Marshal(payloadFor(id))
	if err != nil {
		return "", felerrors.Wrap(err, "failed to encode note")
	}
	return string(b), nil
}

// decodeNote parses a note. When git concatenated two notes during a
// rewrite (notes.rewriteMode=concatenate) the blocks are separated by a
// blank line; the last block that parses wins.
func decodeNote(content string) (notePayload, error) {
	var p notePayload
	if err := toml.Unmarshal([]byte(content), &p); err == nil && p.EntryID != "" {
		return p, nil
	}

	blocks := strings.Split(content, "\n\n")
	for i := len(blocks) - 1; i >= 0; i-- {
		var candidate notePayload
		if err := toml.Unmarshal([]byte(blocks[i]), &candidate); err == nil && candidate.EntryID != "" {
			return candidate, nil
		}
	}
	return notePayload{}, felerrors.New("note does not contain an entry-id")
}
