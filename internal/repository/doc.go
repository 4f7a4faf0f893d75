// Package repository reads a repository snapshot and turns it into
// snippets.
//
// Repo abstracts the checkout: file listing and contents, the head commit,
// and per-file commit history. GitRepo reads history with go-git; DirRepo
// serves a plain directory with no history. Scanner walks a Repo, applies
// directory, extension, size and .gitignore filters, skips unreadable and
// binary files, and chunks the rest into snippets.
package repository
