package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingwatch/listingwatch/internal/domain"
)

func seen(t time.Time, result domain.RefreshResult) domain.Listing {
	return domain.Listing{LastSeenAt: &t, LastRefreshStatus: result}
}

func TestSortByPriority(t *testing.T) {
	t1 := date("2026-08-26T10:00:00Z")
	t2 := date("2026-08-27T10:00:00Z")
	t3 := date("2026-08-28T10:00:00Z")

	never := domain.Listing{ID: "never"}
	okOld := seen(t1, domain.RefreshResultSuccess)
	okOld.ID = "ok-old"
	okNew := seen(t3, domain.RefreshResultSuccess)
	okNew.ID = "ok-new"
	errOld := seen(t1, domain.RefreshResultError)
	errOld.ID = "err-old"
	errNew := seen(t2, domain.RefreshResultError)
	errNew.ID = "err-new"

	got := SortByPriority([]domain.Listing{errNew, okNew, never, errOld, okOld})

	ids := make([]string, len(got))
	for i, l := range got {
		ids[i] = l.ID
	}
	assert.Equal(t, []string{"never", "ok-old", "ok-new", "err-old", "err-new"}, ids)
}

func TestSortByPriorityStableWithinTier(t *testing.T) {
	// Same tier, same timestamp: input order must be preserved.
	ts := date("2026-08-28T10:00:00Z")
	a := seen(ts, domain.RefreshResultSuccess)
	a.ID = "a"
	b := seen(ts, domain.RefreshResultSuccess)
	b.ID = "b"

	got := SortByPriority([]domain.Listing{a, b})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestSortByPriorityDoesNotMutateInput(t *testing.T) {
	ts := date("2026-08-28T10:00:00Z")
	ok := seen(ts, domain.RefreshResultSuccess)
	ok.ID = "ok"
	in := []domain.Listing{ok, {ID: "never"}}

	_ = SortByPriority(in)
	assert.Equal(t, "ok", in[0].ID)
	assert.Equal(t, "never", in[1].ID)
}
