package journal

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndReplay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.crj")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	order := OrderEvent{ID: 1, Symbol: "BTC-PERP", User: "alice", Side: 0, Type: 0, Price: 50_000_000000, Qty: 1_000000, Ts: 1}
	if _, err := w.Append(EventOrderNew, order.Encode()); err != nil {
		t.Fatalf("Append order: %v", err)
	}

	trade := TradeEvent{ID: 1, Symbol: "BTC-PERP", MakerUser: "alice", TakerUser: "bob", MakerOrder: 1, TakerOrder: 2, TakerSide: 1, Price: 50_000_000000, Qty: 500000, MakerFee: 100, TakerFee: 200, Ts: 2}
	if _, err := w.Append(EventTrade, trade.Encode()); err != nil {
		t.Fatalf("Append trade: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if r.LastSequence() != 2 {
		t.Fatalf("LastSequence = %d, want 2", r.LastSequence())
	}

	rec1, err := r.Next()
	if err != nil {
		t.Fatalf("Next 1: %v", err)
	}
	if rec1.Type != EventOrderNew || rec1.Sequence != 1 {
		t.Fatalf("rec1 = %+v", rec1)
	}
	gotOrder, err := DecodeOrderEvent(rec1.Payload)
	if err != nil {
		t.Fatalf("DecodeOrderEvent: %v", err)
	}
	if gotOrder != order {
		t.Fatalf("decoded order = %+v, want %+v", gotOrder, order)
	}

	rec2, err := r.Next()
	if err != nil {
		t.Fatalf("Next 2: %v", err)
	}
	if rec2.Type != EventTrade || rec2.Sequence != 2 {
		t.Fatalf("rec2 = %+v", rec2)
	}
	gotTrade, err := DecodeTradeEvent(rec2.Payload)
	if err != nil {
		t.Fatalf("DecodeTradeEvent: %v", err)
	}
	if gotTrade != trade {
		t.Fatalf("decoded trade = %+v, want %+v", gotTrade, trade)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of journal, got %v", err)
	}
}

func TestResumeAppendsAfterLastSequence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.crj")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cash := CashEvent{User: "alice", Currency: "USD", Amount: 1000_000000, Ts: 1}
	if _, err := w.Append(EventDeposit, cash.Encode()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	seq, err := w2.Append(EventWithdrawal, cash.Encode())
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if seq != 2 {
		t.Fatalf("seq after reopen = %d, want 2", seq)
	}
	w2.Close()
}

func TestChecksumDetectsCorruption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.crj")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fee := FeeEvent{User: "alice", Symbol: "BTC-PERP", Amount: 500, FeeType: "taker", Ts: 1}
	if _, err := w.Append(EventFeeCollection, fee.Encode()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Close()

	corruptByteAt(t, path, fileHeaderSize+recordHeaderSize+5)

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}

func corruptByteAt(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.ReadAt(b[:], offset); err != nil {
		t.Fatalf("read byte: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], offset); err != nil {
		t.Fatalf("write byte: %v", err)
	}
}
