// Package dirtree renders a repository's file list as an indented tree in
// which directories can be expanded and collapsed.
package dirtree

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates the path is not in the tree.
	ErrNotFound = errors.New("path not found")
	// ErrNotDirectory indicates the path names a file.
	ErrNotDirectory = errors.New("not a directory")
)

const indent = "  "

type node struct {
	name     string
	path     string
	dir      bool
	children map[string]*node
}

// Tree is an expandable directory view. The root is always expanded. Tree
// is not safe for concurrent mutation.
type Tree struct {
	root     *node
	expanded map[string]bool
}

// New builds a tree from slash-separated file paths.
func New(files []string) *Tree {
	t := &Tree{
		root:     &node{dir: true, children: map[string]*node{}},
		expanded: map[string]bool{},
	}
	for _, f := range files {
		t.add(f)
	}
	return t
}

func (t *Tree) add(file string) {
	file = Clean(file)
	if file == "" {
		return
	}
	cur := t.root
	parts := strings.Split(file, "/")
	for i, part := range parts {
		child, ok := cur.children[part]
		if !ok {
			child = &node{
				name: part,
				path: strings.Join(parts[:i+1], "/"),
				dir:  i < len(parts)-1,
			}
			if child.dir {
				child.children = map[string]*node{}
			}
			cur.children[part] = child
		}
		if !child.dir {
			return
		}
		cur = child
	}
}

// Clean normalizes a user supplied path to the tree's form: slash
// separated, relative, no trailing slash. The root is "".
func Clean(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.Trim(path.Clean("/"+p), "/")
	return p
}

func (t *Tree) lookup(p string) *node {
	p = Clean(p)
	if p == "" {
		return t.root
	}
	cur := t.root
	for _, part := range strings.Split(p, "/") {
		if !cur.dir {
			return nil
		}
		next, ok := cur.children[part]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Exists reports whether p is a file or directory in the tree.
func (t *Tree) Exists(p string) bool { return t.lookup(p) != nil }

// IsDir reports whether p is a directory in the tree.
func (t *Tree) IsDir(p string) bool {
	n := t.lookup(p)
	return n != nil && n.dir
}

// Expand shows the contents of dir and every directory above it.
func (t *Tree) Expand(dir string) error {
	n, err := t.dir(dir)
	if err != nil {
		return err
	}
	for p := n.path; p != "" && p != "."; p = path.Dir(p) {
		t.expanded[p] = true
	}
	return nil
}

// Collapse hides the contents of dir. Nested expansion state is kept.
func (t *Tree) Collapse(dir string) error {
	n, err := t.dir(dir)
	if err != nil {
		return err
	}
	delete(t.expanded, n.path)
	return nil
}

// Reveal expands every directory above file so it is visible.
func (t *Tree) Reveal(file string) error {
	n := t.lookup(file)
	if n == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if dir := path.Dir(n.path); dir != "." {
		return t.Expand(dir)
	}
	return nil
}

// Expanded reports whether dir is currently expanded.
func (t *Tree) Expanded(dir string) bool {
	p := Clean(dir)
	return p == "" || t.expanded[p]
}

func (t *Tree) dir(p string) (*node, error) {
	n := t.lookup(p)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if !n.dir {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, p)
	}
	return n, nil
}

// Children lists the direct entries of dir, directories first, each
// group sorted. Directory entries end in "/".
func (t *Tree) Children(dir string) ([]string, error) {
	n, err := t.dir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range sorted(n) {
		if c.dir {
			out = append(out, c.path+"/")
		} else {
			out = append(out, c.path)
		}
	}
	return out, nil
}

// Files returns every file under dir, sorted.
func (t *Tree) Files(dir string) ([]string, error) {
	n, err := t.dir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	var walk func(*node)
	walk = func(n *node) {
		for _, c := range sorted(n) {
			if c.dir {
				walk(c)
			} else {
				out = append(out, c.path)
			}
		}
	}
	walk(n)
	sort.Strings(out)
	return out, nil
}

// Render draws the visible part of the tree. Collapsed directories end in
// "/ ..." when they have contents.
func (t *Tree) Render() string {
	var b strings.Builder
	t.render(&b, t.root, 0)
	return b.String()
}

func (t *Tree) render(b *strings.Builder, n *node, depth int) {
	for _, c := range sorted(n) {
		b.WriteString(strings.Repeat(indent, depth))
		b.WriteString(c.name)
		if !c.dir {
			b.WriteByte('\n')
			continue
		}
		b.WriteByte('/')
		if !t.expanded[c.path] {
			if len(c.children) > 0 {
				b.WriteString(" ...")
			}
			b.WriteByte('\n')
			continue
		}
		b.WriteByte('\n')
		t.render(b, c, depth+1)
	}
}

func sorted(n *node) []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dir != out[j].dir {
			return out[i].dir
		}
		return out[i].name < out[j].name
	})
	return out
}
