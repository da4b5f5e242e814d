package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticedb/lattice/query"
)

func TestStatusString(t *testing.T) {
	cases := map[query.Status]string{
		query.StatusUninitialised: "uninitialised",
		query.StatusInProgress:    "in_progress",
		query.StatusIncomplete:    "incomplete",
		query.StatusCompleted:     "completed",
		query.StatusFailed:        "failed",
		query.Status(99):          "unknown",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}
