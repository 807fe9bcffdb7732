package odb

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/boxfs/boxfs/pkg/objhash"
)

// MarshalBlob serializes a Blob to raw bytes (identity transform; the
// envelope header is added by the store, not here).
func MarshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// UnmarshalBlob deserializes raw bytes into a Blob.
func UnmarshalBlob(data []byte) *Blob {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}
}

// treeSortKey mirrors Git's tree entry ordering: directories sort as if
// their name carried a trailing "/", so "foo" sorts after "foo-bar" but
// before "foo/anything" would if it were flattened.
func treeSortKey(e TreeEntry) string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// MarshalTree serializes a Tree. Entries are sorted into Git's canonical
// tree order for determinism (same entries -> same hash regardless of
// insertion order). Each entry is "<octal-mode> <name>\0<20-byte-hash>".
func MarshalTree(tr *Tree) []byte {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return treeSortKey(sorted[i]) < treeSortKey(sorted[j])
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%o %s\x00", e.Mode, e.Name)
		buf.Write(e.Hash[:])
	}
	return buf.Bytes()
}

// UnmarshalTree parses a Tree from its serialized form.
func UnmarshalTree(data []byte) (*Tree, error) {
	tr := &Tree{}
	for len(data) > 0 {
		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("odb: unmarshal tree: truncated entry header")
		}
		header := string(data[:nul])
		sp := strings.IndexByte(header, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("odb: unmarshal tree: malformed header %q", header)
		}
		mode, err := strconv.ParseUint(header[:sp], 8, 32)
		if err != nil {
			return nil, fmt.Errorf("odb: unmarshal tree: bad mode %q: %w", header[:sp], err)
		}
		name := header[sp+1:]
		data = data[nul+1:]
		if len(data) < objhash.Size {
			return nil, fmt.Errorf("odb: unmarshal tree: truncated hash for %q", name)
		}
		var h objhash.Hash
		copy(h[:], data[:objhash.Size])
		data = data[objhash.Size:]
		tr.Entries = append(tr.Entries, TreeEntry{Name: name, Mode: uint32(mode), Hash: h})
	}
	return tr, nil
}

// MarshalCommit serializes a Commit in a Git-compatible textual form:
//
//	tree <hex>
//	parent <hex>      (zero or more, in order)
//	author <name> <unix-ts> <tz>
//	committer <name> <unix-ts> <tz>
//
//	<message>
func MarshalCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s %d %s\n", c.Author, c.AuthorTime, c.AuthorTimezone)
	fmt.Fprintf(&buf, "committer %s %d %s\n", c.Committer, c.CommitterTime, c.CommitterTimezone)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a Commit from its serialized form.
func UnmarshalCommit(data []byte) (*Commit, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		// A commit with an empty message has no trailing blank line
		// separator content, but the header must still end in \n\n;
		// be lenient and treat "no separator" as "no message".
		idx = len(data)
	}
	header := string(bytes.TrimRight(data[:idx], "\n"))
	message := ""
	if idx+2 <= len(data) {
		message = string(data[idx+2:])
	}

	c := &Commit{Message: message}
	if header == "" {
		return c, nil
	}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("odb: unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			h, err := objhash.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("odb: unmarshal commit: tree: %w", err)
			}
			c.Tree = h
		case "parent":
			h, err := objhash.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("odb: unmarshal commit: parent: %w", err)
			}
			c.Parents = append(c.Parents, h)
		case "author":
			name, ts, tz, err := parsePersonLine(val)
			if err != nil {
				return nil, fmt.Errorf("odb: unmarshal commit: author: %w", err)
			}
			c.Author, c.AuthorTime, c.AuthorTimezone = name, ts, tz
		case "committer":
			name, ts, tz, err := parsePersonLine(val)
			if err != nil {
				return nil, fmt.Errorf("odb: unmarshal commit: committer: %w", err)
			}
			c.Committer, c.CommitterTime, c.CommitterTimezone = name, ts, tz
		default:
			return nil, fmt.Errorf("odb: unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}

// parsePersonLine splits "<name> <unix-ts> <tz>" from the right, since
// the name itself may contain spaces.
func parsePersonLine(s string) (name string, ts int64, tz string, err error) {
	lastSp := strings.LastIndexByte(s, ' ')
	if lastSp < 0 {
		return "", 0, "", fmt.Errorf("malformed person line %q", s)
	}
	tz = s[lastSp+1:]
	rest := s[:lastSp]
	secondSp := strings.LastIndexByte(rest, ' ')
	if secondSp < 0 {
		return "", 0, "", fmt.Errorf("malformed person line %q", s)
	}
	name = rest[:secondSp]
	ts, err = strconv.ParseInt(rest[secondSp+1:], 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed timestamp in %q: %w", s, err)
	}
	return name, ts, tz, nil
}
