package store

import (
	"context"
	"errors"
	"testing"
)

func TestLedgerAppendAndList(t *testing.T) {
	db := setupTestDB(t)
	_, d := seedFamily(t, NewFamilyStore(db), "tg-ledger")
	ls := NewLedgerStore(db)
	ctx := context.Background()

	ref := int64(42)
	if _, err := ls.Append(ctx, d.ID, 10, 5, "task_approved", &ref); err != nil {
		t.Fatalf("append: %v", err)
	}
	e, err := ls.Append(ctx, d.ID, 0, -3, "shop_purchase", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.RefID != nil {
		t.Errorf("ref_id = %v, want nil", *e.RefID)
	}

	page, err := ls.List(ctx, d.ID, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len = %d, want 2", len(page))
	}
	if page[0].Reason != "shop_purchase" {
		t.Errorf("first reason = %q, want newest first", page[0].Reason)
	}
	if page[1].RefID == nil || *page[1].RefID != 42 {
		t.Errorf("ref_id = %v, want 42", page[1].RefID)
	}

	chrono, err := ls.ListChronological(ctx, d.ID)
	if err != nil {
		t.Fatalf("list chronological: %v", err)
	}
	if chrono[0].Reason != "task_approved" {
		t.Errorf("first reason = %q, want oldest first", chrono[0].Reason)
	}

	after, err := ls.ListAfter(ctx, chrono[0].ID, 100)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after) != 1 || after[0].ID != chrono[1].ID {
		t.Errorf("after = %+v", after)
	}
}

func TestWriteBalanceVersionCheck(t *testing.T) {
	db := setupTestDB(t)
	_, d := seedFamily(t, NewFamilyStore(db), "tg-version")
	ls := NewLedgerStore(db)
	ctx := context.Background()

	row, err := ls.LockBalance(ctx, d.ID)
	if err != nil {
		t.Fatalf("lock balance: %v", err)
	}
	if err := ls.WriteBalance(ctx, d.ID, 4, 2, row.Version); err != nil {
		t.Fatalf("write balance: %v", err)
	}

	// Writing again with the stale version must fail.
	err = ls.WriteBalance(ctx, d.ID, 9, 9, row.Version)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("err = %v, want ErrConcurrentModification", err)
	}

	row, err = ls.LockBalance(ctx, d.ID)
	if err != nil {
		t.Fatalf("lock balance: %v", err)
	}
	if row.Points != 4 || row.Coins != 2 {
		t.Errorf("balance = %d/%d, want 4/2", row.Points, row.Coins)
	}

	missing, err := ls.LockBalance(ctx, 9999)
	if err != nil {
		t.Fatalf("lock missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing dependent")
	}
}

func TestLedgerTotals(t *testing.T) {
	db := setupTestDB(t)
	_, d := seedFamily(t, NewFamilyStore(db), "tg-totals")
	ls := NewLedgerStore(db)
	ss := NewShopStore(db)
	ctx := context.Background()

	ls.Append(ctx, d.ID, 10, 5, "task_approved", nil)
	ls.Append(ctx, d.ID, -2, 3, "adjust", nil)
	item, err := ss.CreateItem(ctx, ItemParams{SKU: "ICE", Title: "Ice cream", PriceCoins: 4, Active: true})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := ss.CreatePurchase(ctx, d.ID, item.ID, 4, ""); err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	points, coins, spent, err := ls.Totals(ctx, d.ID)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if points != 10 {
		t.Errorf("points earned = %d, want 10", points)
	}
	if coins != 8 {
		t.Errorf("coins earned = %d, want 8", coins)
	}
	if spent != 4 {
		t.Errorf("coins spent = %d, want 4", spent)
	}
}
