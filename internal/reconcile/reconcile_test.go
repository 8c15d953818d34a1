package reconcile

import (
	"errors"
	"testing"

	"github.com/jibsin/leaseguard/internal/docset"
)

func ownerField(text string, y1 float64) *docset.Field {
	return &docset.Field{
		Text:        text,
		BoundingBox: &docset.BoundingBox{X1: 10, Y1: y1, X2: 200, Y2: y1 + 30},
	}
}

func nameField(text string) *docset.Field {
	return &docset.Field{Text: text}
}

func set(buildingOwners int, registry docset.Document) *docset.DocumentSet {
	building := docset.Page{}
	for i := 0; i < buildingOwners; i++ {
		building["성명_"+string(rune('1'+i))] = nameField("현소유자")
	}
	return &docset.DocumentSet{
		Contract:         docset.Document{"page1": docset.Page{"임대인": nameField("현소유자")}},
		BuildingRegistry: docset.Document{"page1": building},
		RegistryDocument: registry,
	}
}

func TestRemovesOldestExcessOwner(t *testing.T) {
	ds := set(1, docset.Document{
		"page1": docset.Page{
			"소유자_1": ownerField("김옛날", 100),
			"소유자_2": ownerField("현소유자", 400),
		},
	})

	removed, err := Reconcile(ds)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(removed) != 1 || removed[0].Text != "김옛날" {
		t.Fatalf("removed = %+v", removed)
	}
	page := ds.RegistryDocument["page1"]
	if _, ok := page["소유자_1"]; ok {
		t.Fatal("superseded owner still present")
	}
	if page["소유자_2"].Text != "현소유자" {
		t.Fatal("current owner removed")
	}
}

func TestRemovalOrderFollowsPixelPositionNotKey(t *testing.T) {
	// The oldest registration sits highest on the page even when its
	// key sorts last.
	ds := set(1, docset.Document{
		"page1": docset.Page{
			"소유자_1": ownerField("현소유자", 500),
			"소유자_2": ownerField("김옛날", 120),
		},
	})

	removed, err := Reconcile(ds)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(removed) != 1 || removed[0].Key != "소유자_2" {
		t.Fatalf("removed = %+v", removed)
	}
}

func TestRemovesAcrossPages(t *testing.T) {
	ds := set(1, docset.Document{
		"page1": docset.Page{
			"소유자_1": ownerField("김옛날", 100),
			"소유자_2": ownerField("박과거", 300),
		},
		"page2": docset.Page{
			"소유자_3": ownerField("현소유자", 150),
		},
	})

	removed, err := Reconcile(ds)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %+v", removed)
	}
	if removed[0].Text != "김옛날" || removed[1].Text != "현소유자" {
		// y1 ordering is per-record, not per-page: 100, 150, 300.
		t.Fatalf("removal order = %q, %q", removed[0].Text, removed[1].Text)
	}
	if _, ok := ds.RegistryDocument["page1"]["소유자_2"]; !ok {
		t.Fatal("surviving owner removed")
	}
}

func TestEqualY1TieBreaksByEncounterOrder(t *testing.T) {
	ds := set(1, docset.Document{
		"page1": docset.Page{
			"소유자_1": ownerField("첫번째", 200),
			"소유자_2": ownerField("두번째", 200),
		},
	})

	removed, err := Reconcile(ds)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(removed) != 1 || removed[0].Key != "소유자_1" {
		t.Fatalf("removed = %+v, want stable first-encountered key", removed)
	}
}

func TestNoOpWhenCountsMatch(t *testing.T) {
	ds := set(2, docset.Document{
		"page1": docset.Page{
			"소유자_1": ownerField("공동_1", 100),
			"소유자_2": ownerField("공동_2", 400),
		},
	})

	removed, err := Reconcile(ds)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != nil {
		t.Fatalf("removed = %+v, want none", removed)
	}
	if len(ds.RegistryDocument["page1"]) != 2 {
		t.Fatal("owners removed despite matching counts")
	}
}

func TestNoOpWhenRegistryHasFewerOwners(t *testing.T) {
	ds := set(2, docset.Document{
		"page1": docset.Page{
			"소유자_1": ownerField("단독", 100),
		},
	})

	removed, err := Reconcile(ds)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != nil {
		t.Fatalf("removed = %+v, want none", removed)
	}
}

func TestErrorWhenBuildingRegistryEmpty(t *testing.T) {
	ds := &docset.DocumentSet{
		BuildingRegistry: docset.Document{},
		RegistryDocument: docset.Document{"page1": docset.Page{"소유자_1": ownerField("a", 1)}},
	}
	_, err := Reconcile(ds)
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
}

func TestErrorWhenNoOwnerNames(t *testing.T) {
	ds := &docset.DocumentSet{
		BuildingRegistry: docset.Document{"page1": docset.Page{"도로명주소": nameField("테헤란로")}},
		RegistryDocument: docset.Document{"page1": docset.Page{"소유자_1": ownerField("a", 1)}},
	}
	if _, err := Reconcile(ds); err == nil {
		t.Fatal("expected error for zero authoritative owners")
	}
}

func TestErrorWhenOwnerMissingBoundingBox(t *testing.T) {
	ds := set(1, docset.Document{
		"page1": docset.Page{
			"소유자_1": nameField("김옛날"),
			"소유자_2": ownerField("현소유자", 400),
		},
	})
	if _, err := Reconcile(ds); err == nil {
		t.Fatal("expected error for missing bounding box")
	}
}
