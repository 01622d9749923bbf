package models

import (
	"reflect"
	"testing"
	"time"
)

func TestRequestItemIsComplete(t *testing.T) {
	tests := []struct {
		name string
		item RequestItem
		want bool
	}{
		{"all fields", RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"}, true},
		{"missing year", RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux"}, false},
		{"part only", RequestItem{Part: "pastillas de freno"}, false},
		{"blank make", RequestItem{Part: "filtro", Make: "  ", Model: "Corolla", Year: "2015"}, false},
		{"empty", RequestItem{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.IsComplete(); got != tt.want {
				t.Errorf("IsComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestItemMissingOrder(t *testing.T) {
	item := RequestItem{Model: "Hilux"}
	want := []Field{FieldPart, FieldMake, FieldYear}
	if got := item.Missing(); !reflect.DeepEqual(got, want) {
		t.Errorf("Missing() = %v, want %v", got, want)
	}

	item = RequestItem{Part: "pastillas de freno"}
	if got := item.Missing(); got[0] != FieldMake {
		t.Errorf("first missing field = %v, want make", got[0])
	}
}

func TestRequestItemMergeNeverClearsKnownFields(t *testing.T) {
	base := RequestItem{Part: "X"}
	got := base.Merge(RequestItem{Part: "X", Make: "Y"})
	want := RequestItem{Part: "X", Make: "Y"}
	if got != want {
		t.Errorf("Merge() = %+v, want %+v", got, want)
	}

	full := RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"}
	if got := full.Merge(RequestItem{}); got != full {
		t.Errorf("merging an empty update changed the item: %+v", got)
	}
	if got := full.Merge(RequestItem{Year: "2010"}); got.Year != "2010" || got.Part != "alternador" {
		t.Errorf("merge with year update = %+v", got)
	}
}

func TestRequestItemString(t *testing.T) {
	item := RequestItem{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"}
	if got := item.String(); got != "alternador — Toyota Hilux 2008" {
		t.Errorf("String() = %q", got)
	}
	if got := (RequestItem{Part: "bujías"}).String(); got != "bujías" {
		t.Errorf("String() without vehicle = %q", got)
	}
}

func TestConversationQueueComplete(t *testing.T) {
	c := NewConversation("50761234567", time.Now())
	if c.QueueComplete() {
		t.Error("empty queue must not be complete")
	}
	c.Queue = []RequestItem{
		{Part: "alternador", Make: "Toyota", Model: "Hilux", Year: "2008"},
		{Part: "filtro de aceite"},
	}
	if c.QueueComplete() {
		t.Error("queue with an incomplete item must not be complete")
	}
	if got := c.FirstIncomplete(); got != 1 {
		t.Errorf("FirstIncomplete() = %d, want 1", got)
	}
	c.Queue[1] = c.Queue[1].Merge(RequestItem{Make: "Toyota", Model: "Hilux", Year: "2008"})
	if !c.QueueComplete() {
		t.Error("queue should be complete after merge")
	}
	if got := c.FirstIncomplete(); got != -1 {
		t.Errorf("FirstIncomplete() = %d, want -1", got)
	}
}

func TestSupplierResultSortCost(t *testing.T) {
	priced := SupplierResult{SupplierName: "A", Cost: Price(120)}
	unpriced := SupplierResult{SupplierName: "B"}
	if priced.SortCost() != 120 {
		t.Errorf("priced SortCost() = %v", priced.SortCost())
	}
	if unpriced.SortCost() != UnpricedSortCost {
		t.Errorf("unpriced SortCost() = %v, want sentinel", unpriced.SortCost())
	}
	if unpriced.CostOrZero() != 0 {
		t.Errorf("unpriced CostOrZero() = %v", unpriced.CostOrZero())
	}
}

func TestDailyStatsAverageQuoteMinutes(t *testing.T) {
	if got := (DailyStats{}).AverageQuoteMinutes(); got != -1 {
		t.Errorf("average without samples = %v, want -1", got)
	}
	s := DailyStats{QuoteTimeMinutes: []float64{2, 4}}
	if got := s.AverageQuoteMinutes(); got != 3 {
		t.Errorf("average = %v, want 3", got)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if r := Error("boom"); r.Status != "error" || r.Message != "boom" {
		t.Errorf("Error() = %+v", r)
	}
	if r := Success(1); r.Status != "ok" || r.Result != 1 {
		t.Errorf("Success() = %+v", r)
	}
}
