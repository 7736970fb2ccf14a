package mirror

import "wikimirror/app/internal/wikidot"

// Change classifies a page against its locally stored state.
type Change int

const (
	// ChangeNew means no local record exists for the page.
	ChangeNew Change = iota
	// ChangeUnchanged means the stored metadata matches the remote exactly.
	ChangeUnchanged
	// ChangeUpdated means the page needs a full refetch.
	ChangeUpdated
)

// String returns the classification name for logs and reports.
func (c Change) String() string {
	switch c {
	case ChangeNew:
		return "new"
	case ChangeUnchanged:
		return "unchanged"
	case ChangeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Classify compares remote metadata against the stored record, if any.
// A soft-deleted record always classifies as updated so a reappearing page is
// refetched. Equality is exact on both fields; a match on only one field is
// updated, trading a redundant refetch for never missing a change.
func Classify(stored *StoredMeta, remote wikidot.PageMeta) Change {
	if stored == nil {
		return ChangeNew
	}

	if stored.DeletedAt != nil {
		return ChangeUpdated
	}

	if stored.UpdatedAt == remote.UpdatedAt && stored.Revisions == remote.Revisions {
		return ChangeUnchanged
	}

	return ChangeUpdated
}
