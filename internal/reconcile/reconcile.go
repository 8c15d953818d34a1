// Package reconcile aligns the property registry's owner entries with
// the building registry's authoritative owner count. The property
// registry lists ownership history, so it may carry superseded owners
// above the current ones; the building registry lists only current
// owners. Downstream identity checks assume the counts agree.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/jibsin/leaseguard/internal/docset"
)

// Error marks a document set whose shape makes reconciliation
// impossible. Callers must abort the pipeline rather than continue
// with an unreconciled owner count.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "owner reconciliation: " + e.Reason
}

// OwnerRecord is a projection of one registry-document owner field,
// carrying the vertical pixel position used to order entries.
type OwnerRecord struct {
	Page string
	Key  string
	Y1   float64
	Text string
}

// Reconcile removes superseded owner entries from the registry
// document in place until its owner count matches the building
// registry's owner-name count. Entries positioned highest on the page
// (smallest y1) are the oldest registrations and are removed first.
// Returns the removed records. Never removes anything when the
// registry has at most the authoritative count.
func Reconcile(ds *docset.DocumentSet) ([]OwnerRecord, error) {
	if len(ds.BuildingRegistry) == 0 {
		return nil, &Error{Reason: "building registry has no pages"}
	}
	if len(ds.RegistryDocument) == 0 {
		return nil, &Error{Reason: "registry document has no pages"}
	}

	authoritative := len(docset.CollectByRole(ds.BuildingRegistry, docset.RoleOwnerName))
	if authoritative == 0 {
		return nil, &Error{Reason: "building registry has no owner-name fields"}
	}

	var owners []OwnerRecord
	for _, ref := range docset.CollectByRole(ds.RegistryDocument, docset.RoleRegistryOwner) {
		field := ds.RegistryDocument[ref.Page][ref.Key]
		if field.BoundingBox == nil {
			return nil, &Error{Reason: fmt.Sprintf("owner field %s/%s has no bounding box", ref.Page, ref.Key)}
		}
		owners = append(owners, OwnerRecord{
			Page: ref.Page,
			Key:  ref.Key,
			Y1:   field.BoundingBox.Y1,
			Text: field.Text,
		})
	}

	// Stable keeps the deterministic page/key encounter order for
	// entries sharing the same y1.
	sort.SliceStable(owners, func(i, j int) bool {
		return owners[i].Y1 < owners[j].Y1
	})

	excess := len(owners) - authoritative
	if excess <= 0 {
		return nil, nil
	}

	removed := owners[:excess]
	for _, o := range removed {
		delete(ds.RegistryDocument[o.Page], o.Key)
	}
	return removed, nil
}
