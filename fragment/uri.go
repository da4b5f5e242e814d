// Package fragment implements fragment-URI parsing and ordering, the
// fragment metadata value type, and the fragment metadata loader.
package fragment

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/latticedb/lattice/vfs"
)

// Info is the parsed form of a fragment URI's embedded timestamp range,
// UUID, and on-disk version.
type Info struct {
	URI     vfs.URI
	TFirst  int64 // milliseconds since Unix epoch
	TLast   int64
	UUID    uuid.UUID
	Version int
}

// CurrentVersion is the version this package writes when creating new
// fragment URIs.
const CurrentVersion = 4

// NewURI builds a version-4 fragment URI as a child of arrayURI, with a
// freshly generated UUID, following the grammar
// <array_uri>/__<t_first>_<t_last>_<uuid>_<version>.
func NewURI(arrayURI vfs.URI, tFirst, tLast int64) Info {
	id := uuid.New()
	name := "__" + strconv.FormatInt(tFirst, 10) + "_" + strconv.FormatInt(tLast, 10) + "_" + id.String() + "_" + strconv.Itoa(CurrentVersion)
	return Info{
		URI:     arrayURI.Join(name),
		TFirst:  tFirst,
		TLast:   tLast,
		UUID:    id,
		Version: CurrentVersion,
	}
}

// Parse recognizes a fragment directory's basename against the fragment
// URI grammar. Version >= 4 names are "__<t_first>_<t_last>_<uuid>_<version>".
// Versions 1-3 predate the "__" prefix and the explicit version suffix;
// this parser accepts the bare "<t_first>_<t_last>_<uuid>" form for them
// and reports Version 3 (the last version using that grammar), since the
// exact sub-version among 1-3 is not recoverable from the name alone and
// this parser never guesses beyond what the grammar actually encodes.
func Parse(child vfs.URI) (Info, bool) {
	name := child.Basename()
	versioned := strings.HasPrefix(name, "__")
	body := strings.TrimPrefix(name, "__")
	parts := strings.Split(body, "_")

	var tFirstS, tLastS, uuidS, versionS string
	switch {
	case versioned && len(parts) == 4:
		tFirstS, tLastS, uuidS, versionS = parts[0], parts[1], parts[2], parts[3]
	case !versioned && len(parts) == 3:
		tFirstS, tLastS, uuidS = parts[0], parts[1], parts[2]
		versionS = "3"
	default:
		return Info{}, false
	}

	tFirst, err := strconv.ParseInt(tFirstS, 10, 64)
	if err != nil {
		return Info{}, false
	}
	tLast, err := strconv.ParseInt(tLastS, 10, 64)
	if err != nil {
		return Info{}, false
	}
	id, err := uuid.Parse(uuidS)
	if err != nil {
		return Info{}, false
	}
	version, err := strconv.Atoi(versionS)
	if err != nil {
		return Info{}, false
	}
	if tFirst > tLast {
		return Info{}, false
	}

	return Info{URI: child, TFirst: tFirst, TLast: tLast, UUID: id, Version: version}, true
}

// Less orders two fragment Infos by (t_first ascending, uuid ascending
// lexicographically), approximating their apparent write order. Two
// fragments with identical t_first and UUID are the same fragment.
func Less(a, b Info) bool {
	if a.TFirst != b.TFirst {
		return a.TFirst < b.TFirst
	}
	return a.UUID.String() < b.UUID.String()
}

// VisibleAt reports whether a fragment with first-write timestamp tFirst is
// visible to a read at timestamp t: visible iff t_first <= t.
func VisibleAt(tFirst, t int64) bool {
	return tFirst <= t
}
