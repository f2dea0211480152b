package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil {
		t.Fatal("expected non-nil map")
	}
	if len(cloned) != 0 {
		t.Fatal("expected empty map")
	}
}

func TestWithLeavesBaseUntouched(t *testing.T) {
	base := Metadata{KeyCorrelationID: "c-1"}
	enriched := base.With(KeyOperation, "obp.getBank")

	if _, ok := base[KeyOperation]; ok {
		t.Fatal("expected base map to remain unchanged")
	}
	if enriched[KeyOperation] != "obp.getBank" || enriched.CorrelationID() != "c-1" {
		t.Fatalf("unexpected enriched metadata %#v", enriched)
	}
}

func TestWatermillConversions(t *testing.T) {
	wm := message.Metadata{KeyCorrelationID: "c-9"}
	md := FromWatermill(wm)
	md[KeyOperation] = "obp.getBanks"
	md[KeyInReplyTo] = ""

	if _, ok := wm[KeyOperation]; ok {
		t.Fatal("FromWatermill must copy, not alias")
	}

	back := ToWatermill(md)
	if back.Get(KeyCorrelationID) != "c-9" || back.Get(KeyOperation) != "obp.getBanks" {
		t.Fatalf("unexpected watermill metadata %#v", back)
	}
	if _, ok := back[KeyInReplyTo]; ok {
		t.Fatal("expected empty values to be skipped")
	}
}

func TestFromWatermillNil(t *testing.T) {
	if md := FromWatermill(nil); md == nil || len(md) != 0 {
		t.Fatalf("expected empty non-nil metadata, got %#v", md)
	}
}
