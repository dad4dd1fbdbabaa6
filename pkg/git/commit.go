package git

import (
	"bufio"
	"bytes"
	"strings"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// Signature is an author or committer line as git stores it.
type Signature struct {
	Name  string
	Email string
	When  string // raw "<unix-seconds> <tz-offset>"
}

// Env returns the environment variables that make commit-tree reproduce
// this signature. prefix is "AUTHOR" or "COMMITTER".
func (s Signature) Env(prefix string) []string {
	return []string{
		"GIT_" + prefix + "_NAME=" + s.Name,
		"GIT_" + prefix + "_EMAIL=" + s.Email,
		"GIT_" + prefix + "_DATE=" + s.When,
	}
}

// Commit is an immutable, content-addressed commit.
type Commit struct {
	Hash      string
	Tree      string
	Parents   []string
	Author    Signature
	Committer Signature
	Message   string
}

// ShortHash returns the abbreviated hash.
func (c *Commit) ShortHash() string {
	return felerrors.ShortHash(c.Hash)
}

// Subject returns the first line of the message.
func (c *Commit) Subject() string {
	subject, _, _ := strings.Cut(strings.TrimLeft(c.Message, "\n"), "\n")
	return strings.TrimSpace(subject)
}

// Body returns the message without its subject and the blank line after it.
func (c *Commit) Body() string {
	_, body, _ := strings.Cut(strings.TrimLeft(c.Message, "\n"), "\n")
	return strings.TrimSpace(body)
}

// IsMerge reports whether the commit has more than one parent.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// Parent returns the first parent, or "" for a root commit.
func (c *Commit) Parent() string {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

// ParseCommit parses the output of `git cat-file commit`.
func ParseCommit(hash string, raw []byte) (*Commit, error) {
	header, message, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		header = bytes.TrimRight(raw, "\n")
	}

	c := &Commit{Hash: hash, Message: string(message)}
	scanner := bufio.NewScanner(bytes.NewReader(header))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, " ") {
			// continuation of a multi-line header such as gpgsig
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "tree":
			c.Tree = value
		case "parent":
			c.Parents = append(c.Parents, value)
		case "author":
			c.Author = parseSignature(value)
		case "committer":
			c.Committer = parseSignature(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, felerrors.Wrapf(err, "failed to parse commit %s", hash)
	}
	if c.Tree == "" {
		return nil, felerrors.Newf("commit %s has no tree", hash)
	}
	return c, nil
}

// parseSignature parses "Name <email> 1700000000 +0100".
func parseSignature(value string) Signature {
	lt := strings.Index(value, "<")
	gt := strings.LastIndex(value, ">")
	if lt < 0 || gt < lt {
		return Signature{Name: value}
	}
	return Signature{
		Name:  strings.TrimSpace(value[:lt]),
		Email: value[lt+1 : gt],
		When:  strings.TrimSpace(value[gt+1:]),
	}
}
