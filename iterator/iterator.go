// Package iterator implements the Object Iterator: a directory tree walk
// over TileDB-style objects (arrays, groups, key-value stores) with a
// preorder or postorder traversal policy, driven by an explicit stack
// rather than recursion so a caller can pause between yields.
package iterator

import (
	"context"

	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/vfs"
)

// ObjectType classifies a URI by the marker file it contains.
type ObjectType int

const (
	TypeNone ObjectType = iota
	TypeArray
	TypeGroup
	TypeKeyValue
)

// Markers names the files the classifier looks for. The Storage Manager
// constructs this once with its actual schema/group filenames; tests may
// substitute their own.
type Markers struct {
	ArraySchemaFile string
	GroupMarkerFile string
	KeyValueMarker  string
}

// DefaultMarkers matches the filenames schema.Encode and the group/kv
// helpers write theirs to.
var DefaultMarkers = Markers{
	ArraySchemaFile: schema.ArraySchemaFile,
	GroupMarkerFile: schema.GroupMarkerFile,
	KeyValueMarker:  schema.KeyValueMarkerFile,
}

// Classify inspects uri's children for a marker file and reports its
// object type, or TypeNone if it is a plain directory.
func Classify(ctx context.Context, v vfs.VFS, uri vfs.URI, m Markers) (ObjectType, error) {
	isDir, err := v.IsDir(ctx, uri)
	if err != nil {
		return TypeNone, err
	}
	if !isDir {
		return TypeNone, nil
	}
	if ok, err := v.IsFile(ctx, uri.Join(m.ArraySchemaFile)); err != nil {
		return TypeNone, err
	} else if ok {
		return TypeArray, nil
	}
	if ok, err := v.IsFile(ctx, uri.Join(m.KeyValueMarker)); err != nil {
		return TypeNone, err
	} else if ok {
		return TypeKeyValue, nil
	}
	if ok, err := v.IsFile(ctx, uri.Join(m.GroupMarkerFile)); err != nil {
		return TypeNone, err
	} else if ok {
		return TypeGroup, nil
	}
	return TypeNone, nil
}

// Order selects the traversal policy.
type Order int

const (
	Preorder Order = iota
	Postorder
)

type frame struct {
	uri      vfs.URI
	depth    int
	expanded bool
}

// Iterator walks a TileDB object tree starting at root, yielding one URI
// (and its ObjectType) per Next call.
type Iterator struct {
	v         vfs.VFS
	markers   Markers
	order     Order
	recursive bool
	stack     []frame
}

// Begin implements object_iter_begin: constructs an iterator rooted at
// root. recursive=false bounds the walk to depth-1 children of root.
func Begin(v vfs.VFS, root vfs.URI, order Order, recursive bool, m Markers) *Iterator {
	return &Iterator{
		v:         v,
		markers:   m,
		order:     order,
		recursive: recursive,
		stack:     []frame{{uri: root, depth: 0}},
	}
}

// Next implements object_iter_next: advances the walk and returns the
// next yielded (uri, type) pair, or ok=false once the walk is exhausted.
func (it *Iterator) Next(ctx context.Context) (uri vfs.URI, typ ObjectType, ok bool, err error) {
	for len(it.stack) > 0 {
		f := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		typ, err = Classify(ctx, it.v, f.uri, it.markers)
		if err != nil {
			return "", TypeNone, false, err
		}

		if it.order == Preorder {
			if it.recursive || f.depth == 0 {
				if err := it.pushChildren(ctx, f); err != nil {
					return "", TypeNone, false, err
				}
			}
			if typ != TypeNone {
				return f.uri, typ, true, nil
			}
			continue
		}

		// Postorder.
		if !f.expanded {
			f.expanded = true
			it.stack = append(it.stack, f)
			if it.recursive || f.depth == 0 {
				if err := it.pushChildren(ctx, f); err != nil {
					return "", TypeNone, false, err
				}
			}
			continue
		}
		if typ != TypeNone {
			return f.uri, typ, true, nil
		}
	}
	return "", TypeNone, false, nil
}

// pushChildren lists f.uri's children and pushes them in reverse order, so
// the leftmost child is popped (and thus visited) first.
func (it *Iterator) pushChildren(ctx context.Context, f frame) error {
	isDir, err := it.v.IsDir(ctx, f.uri)
	if err != nil {
		return err
	}
	if !isDir {
		return nil
	}
	children, err := it.v.Ls(ctx, f.uri)
	if err != nil {
		return err
	}
	for i := len(children) - 1; i >= 0; i-- {
		it.stack = append(it.stack, frame{uri: children[i], depth: f.depth + 1})
	}
	return nil
}

// Free implements object_iter_free. The iterator holds no resources
// beyond its in-memory stack, so Free is a formality kept for symmetry
// with object_iter_begin.
func (it *Iterator) Free() {
	it.stack = nil
}
