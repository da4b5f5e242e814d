package sm

import (
	"context"
	"strings"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/seal"
	"github.com/latticedb/lattice/vfs"
)

// vacuumSuffix marks a fragment directory as superseded-but-not-yet-
// deleted: consolidation's xlocked delete phase renames a superseded
// fragment to this suffix rather than removing it outright, deferring the
// actual VFS.Remove to VacuumArray so the delete phase stays a fast rename
// under the exclusive lock.
const vacuumSuffix = ".vacuum"

// MarkForVacuum renames a superseded fragment directory so a later
// VacuumArray call removes it. Callers invoke this only while holding
// uri's exclusive lock, taken briefly by consolidation to delete
// superseded fragments.
func (m *Manager) MarkForVacuum(ctx context.Context, fragURI vfs.URI) error {
	if !m.xlocks.Held(fragURI.Parent()) {
		return errors.New(errors.CodeLockError, "sm: MarkForVacuum requires the array to be xlocked: "+fragURI.Escaped())
	}
	dst := vfs.URI(string(fragURI) + vacuumSuffix)
	return m.vfs.Move(ctx, fragURI, dst)
}

// VacuumArray enumerates ".vacuum"-marked fragment directories under uri,
// verifies no open read-mode entry's fragment snapshot still references
// them, and removes them. It does not
// require the exclusive lock - by the time a fragment carries the
// .vacuum suffix it is already invisible to fragment.Parse, so no
// reader can have picked it up after the mark was applied; the check
// against the live entry's already-loaded snapshot only guards readers
// that opened before the mark.
func (m *Manager) VacuumArray(ctx context.Context, uri vfs.URI) error {
	m.progress.enter()
	defer m.progress.leave()

	children, err := m.vfs.Ls(ctx, uri)
	if err != nil {
		return errors.Wrapf(err, "sm: vacuum %s", uri)
	}

	referenced := m.referencedFragments(uri)

	for _, child := range children {
		if !strings.HasSuffix(string(child), vacuumSuffix) {
			continue
		}
		base := vfs.URI(strings.TrimSuffix(string(child), vacuumSuffix))
		if referenced[base] {
			continue
		}
		if err := m.vfs.Remove(ctx, child); err != nil {
			return errors.Wrapf(err, "sm: vacuum removing %s", child)
		}
	}
	return nil
}

// referencedFragments returns the set of fragment URIs any currently open
// read-mode entry for uri has in its latest snapshot.
func (m *Manager) referencedFragments(uri vfs.URI) map[vfs.URI]bool {
	out := make(map[vfs.URI]bool)
	entry, ok := m.entries.Read.Lookup(uri)
	if !ok {
		return out
	}
	for _, md := range entry.Fragments() {
		out[md.Info.URI] = true
	}
	return out
}

// UpgradeArrayVersion reads uri's schema, checks its version is older
// than currentVersion, and rewrites it in place under the same key with
// its version set to currentVersion. No fragment bytes are touched
// - file-format byte layouts are out of this core's scope except where it
// must observe them.
func (m *Manager) UpgradeArrayVersion(ctx context.Context, uri vfs.URI, currentVersion uint32, key seal.Key) error {
	m.progress.enter()
	defer m.progress.leave()

	if m.xlocks.Held(uri) {
		return errors.New(errors.CodeLockError, "sm: UpgradeArrayVersion: array is xlocked: "+uri.Escaped())
	}

	sch, err := m.loadSchema(ctx, uri, key)
	if err != nil {
		return err
	}
	if sch.Version >= currentVersion {
		return errors.New(errors.CodeUnsupportedVer, "sm: array already at version >= target, nothing to upgrade")
	}

	upgraded := &schema.Schema{
		Dimensions:   sch.Dimensions,
		Attributes:   sch.Attributes,
		CellOrder:    sch.CellOrder,
		TileOrder:    sch.TileOrder,
		TileCapacity: sch.TileCapacity,
		ArrayType:    sch.ArrayType,
		Version:      currentVersion,
	}
	raw, err := schema.Encode(upgraded, key)
	if err != nil {
		return err
	}
	// Write appends on local disk, so the old schema file is closed and
	// removed first for the new bytes to replace it.
	schemaURI := uri.Join(schema.ArraySchemaFile)
	if err := m.vfs.CloseFile(ctx, schemaURI); err != nil {
		return errors.Wrapf(err, "sm: upgrading schema for %s", uri)
	}
	if err := m.vfs.Remove(ctx, schemaURI); err != nil {
		return errors.Wrapf(err, "sm: upgrading schema for %s", uri)
	}
	if err := m.vfs.Write(ctx, schemaURI, raw); err != nil {
		return errors.Wrapf(err, "sm: upgrading schema for %s", uri)
	}
	return nil
}
