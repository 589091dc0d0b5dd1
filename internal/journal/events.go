package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EventType enumerates the journal's event codes (spec.md §6). Codes not
// named in spec.md's payload table are carried from
// original_source/src/event_journal.h for completeness of the supplemented
// feature set (spec.md §9 SPEC_FULL addition): order lifecycle and system
// bookkeeping events the distilled spec didn't need to table explicitly.
type EventType uint8

const (
	EventOrderNew       EventType = 1
	EventOrderCancel    EventType = 2
	EventOrderModify    EventType = 3
	EventTrade          EventType = 4
	EventDeposit        EventType = 5
	EventWithdrawal     EventType = 6
	EventPositionOpen   EventType = 7
	EventPositionClose  EventType = 8
	EventMarginLock     EventType = 9
	EventMarginRelease  EventType = 10
	EventLiquidation    EventType = 11
	EventFundingPayment EventType = 12
	EventInsuranceContribution EventType = 13
	EventInsurancePayout       EventType = 14
	EventFeeCollection  EventType = 15
	EventSystemStart    EventType = 100
	EventSystemStop     EventType = 101
	EventSnapshot       EventType = 200
)

func putFixed(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixed(src []byte) string {
	i := bytes.IndexByte(src, 0)
	if i < 0 {
		i = len(src)
	}
	return string(src[:i])
}

// OrderEvent records a new order's acceptance into the book.
type OrderEvent struct {
	ID     uint64
	Symbol string // <=24 bytes
	User   string // <=32 bytes
	Side   uint8
	Type   uint8
	Price  int64 // micro-units
	Qty    int64 // micro-units
	Ts     uint64
}

const orderEventSize = 8 + 24 + 32 + 1 + 1 + 8 + 8 + 8

func (e OrderEvent) Encode() []byte {
	buf := make([]byte, orderEventSize)
	binary.LittleEndian.PutUint64(buf[0:8], e.ID)
	putFixed(buf[8:32], e.Symbol)
	putFixed(buf[32:64], e.User)
	buf[64] = e.Side
	buf[65] = e.Type
	binary.LittleEndian.PutUint64(buf[66:74], uint64(e.Price))
	binary.LittleEndian.PutUint64(buf[74:82], uint64(e.Qty))
	binary.LittleEndian.PutUint64(buf[82:90], e.Ts)
	return buf
}

func DecodeOrderEvent(b []byte) (OrderEvent, error) {
	if len(b) != orderEventSize {
		return OrderEvent{}, fmt.Errorf("order event: want %d bytes, got %d", orderEventSize, len(b))
	}
	return OrderEvent{
		ID:     binary.LittleEndian.Uint64(b[0:8]),
		Symbol: getFixed(b[8:32]),
		User:   getFixed(b[32:64]),
		Side:   b[64],
		Type:   b[65],
		Price:  int64(binary.LittleEndian.Uint64(b[66:74])),
		Qty:    int64(binary.LittleEndian.Uint64(b[74:82])),
		Ts:     binary.LittleEndian.Uint64(b[82:90]),
	}, nil
}

// TradeEvent records an executed trade.
type TradeEvent struct {
	ID          uint64
	Symbol      string // <=24
	MakerUser   string // <=32
	TakerUser   string // <=32
	MakerOrder  uint64
	TakerOrder  uint64
	TakerSide   uint8
	Price       int64
	Qty         int64
	MakerFee    int64
	TakerFee    int64
	Ts          uint64
}

const tradeEventSize = 8 + 24 + 32 + 32 + 8 + 8 + 1 + 8 + 8 + 8 + 8 + 8

func (e TradeEvent) Encode() []byte {
	buf := make([]byte, tradeEventSize)
	o := 0
	binary.LittleEndian.PutUint64(buf[o:o+8], e.ID)
	o += 8
	putFixed(buf[o:o+24], e.Symbol)
	o += 24
	putFixed(buf[o:o+32], e.MakerUser)
	o += 32
	putFixed(buf[o:o+32], e.TakerUser)
	o += 32
	binary.LittleEndian.PutUint64(buf[o:o+8], e.MakerOrder)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], e.TakerOrder)
	o += 8
	buf[o] = e.TakerSide
	o++
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(e.Price))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(e.Qty))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(e.MakerFee))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(e.TakerFee))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], e.Ts)
	return buf
}

func DecodeTradeEvent(b []byte) (TradeEvent, error) {
	if len(b) != tradeEventSize {
		return TradeEvent{}, fmt.Errorf("trade event: want %d bytes, got %d", tradeEventSize, len(b))
	}
	o := 0
	e := TradeEvent{}
	e.ID = binary.LittleEndian.Uint64(b[o : o+8])
	o += 8
	e.Symbol = getFixed(b[o : o+24])
	o += 24
	e.MakerUser = getFixed(b[o : o+32])
	o += 32
	e.TakerUser = getFixed(b[o : o+32])
	o += 32
	e.MakerOrder = binary.LittleEndian.Uint64(b[o : o+8])
	o += 8
	e.TakerOrder = binary.LittleEndian.Uint64(b[o : o+8])
	o += 8
	e.TakerSide = b[o]
	o++
	e.Price = int64(binary.LittleEndian.Uint64(b[o : o+8]))
	o += 8
	e.Qty = int64(binary.LittleEndian.Uint64(b[o : o+8]))
	o += 8
	e.MakerFee = int64(binary.LittleEndian.Uint64(b[o : o+8]))
	o += 8
	e.TakerFee = int64(binary.LittleEndian.Uint64(b[o : o+8]))
	o += 8
	e.Ts = binary.LittleEndian.Uint64(b[o : o+8])
	return e, nil
}

// CashEvent is the shared shape of Deposit and Withdrawal.
type CashEvent struct {
	User     string // <=32
	Currency string // <=8
	Amount   int64
	Ts       uint64
}

const cashEventSize = 32 + 8 + 8 + 8

func (e CashEvent) Encode() []byte {
	buf := make([]byte, cashEventSize)
	putFixed(buf[0:32], e.User)
	putFixed(buf[32:40], e.Currency)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(e.Amount))
	binary.LittleEndian.PutUint64(buf[48:56], e.Ts)
	return buf
}

func DecodeCashEvent(b []byte) (CashEvent, error) {
	if len(b) != cashEventSize {
		return CashEvent{}, fmt.Errorf("cash event: want %d bytes, got %d", cashEventSize, len(b))
	}
	return CashEvent{
		User:     getFixed(b[0:32]),
		Currency: getFixed(b[32:40]),
		Amount:   int64(binary.LittleEndian.Uint64(b[40:48])),
		Ts:       binary.LittleEndian.Uint64(b[48:56]),
	}, nil
}

// MarginEvent records a margin lock or release.
type MarginEvent struct {
	User          string // <=32
	Symbol        string // <=24
	Amount        int64  // signed: positive = locked, negative = released
	BalanceAfter  int64
	Ts            uint64
}

const marginEventSize = 32 + 24 + 8 + 8 + 8

func (e MarginEvent) Encode() []byte {
	buf := make([]byte, marginEventSize)
	putFixed(buf[0:32], e.User)
	putFixed(buf[32:56], e.Symbol)
	binary.LittleEndian.PutUint64(buf[56:64], uint64(e.Amount))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(e.BalanceAfter))
	binary.LittleEndian.PutUint64(buf[72:80], e.Ts)
	return buf
}

func DecodeMarginEvent(b []byte) (MarginEvent, error) {
	if len(b) != marginEventSize {
		return MarginEvent{}, fmt.Errorf("margin event: want %d bytes, got %d", marginEventSize, len(b))
	}
	return MarginEvent{
		User:         getFixed(b[0:32]),
		Symbol:       getFixed(b[32:56]),
		Amount:       int64(binary.LittleEndian.Uint64(b[56:64])),
		BalanceAfter: int64(binary.LittleEndian.Uint64(b[64:72])),
		Ts:           binary.LittleEndian.Uint64(b[72:80]),
	}, nil
}

// LiquidationEvent records a forced position close.
type LiquidationEvent struct {
	User            string // <=32
	Symbol          string // <=24
	Size            int64  // signed
	Mark            int64
	RealizedPnL     int64 // signed
	InsuranceDraw   int64
	Ts              uint64
}

const liquidationEventSize = 32 + 24 + 8 + 8 + 8 + 8 + 8

func (e LiquidationEvent) Encode() []byte {
	buf := make([]byte, liquidationEventSize)
	putFixed(buf[0:32], e.User)
	putFixed(buf[32:56], e.Symbol)
	binary.LittleEndian.PutUint64(buf[56:64], uint64(e.Size))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(e.Mark))
	binary.LittleEndian.PutUint64(buf[72:80], uint64(e.RealizedPnL))
	binary.LittleEndian.PutUint64(buf[80:88], uint64(e.InsuranceDraw))
	binary.LittleEndian.PutUint64(buf[88:96], e.Ts)
	return buf
}

func DecodeLiquidationEvent(b []byte) (LiquidationEvent, error) {
	if len(b) != liquidationEventSize {
		return LiquidationEvent{}, fmt.Errorf("liquidation event: want %d bytes, got %d", liquidationEventSize, len(b))
	}
	return LiquidationEvent{
		User:          getFixed(b[0:32]),
		Symbol:        getFixed(b[32:56]),
		Size:          int64(binary.LittleEndian.Uint64(b[56:64])),
		Mark:          int64(binary.LittleEndian.Uint64(b[64:72])),
		RealizedPnL:   int64(binary.LittleEndian.Uint64(b[72:80])),
		InsuranceDraw: int64(binary.LittleEndian.Uint64(b[80:88])),
		Ts:            binary.LittleEndian.Uint64(b[88:96]),
	}, nil
}

// FundingEvent records a funding payment.
type FundingEvent struct {
	User    string // <=32
	Symbol  string // <=24
	Size    int64  // signed
	Rate    int64
	Payment int64 // signed: positive = user paid, negative = user received
	Ts      uint64
}

const fundingEventSize = 32 + 24 + 8 + 8 + 8 + 8

func (e FundingEvent) Encode() []byte {
	buf := make([]byte, fundingEventSize)
	putFixed(buf[0:32], e.User)
	putFixed(buf[32:56], e.Symbol)
	binary.LittleEndian.PutUint64(buf[56:64], uint64(e.Size))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(e.Rate))
	binary.LittleEndian.PutUint64(buf[72:80], uint64(e.Payment))
	binary.LittleEndian.PutUint64(buf[80:88], e.Ts)
	return buf
}

func DecodeFundingEvent(b []byte) (FundingEvent, error) {
	if len(b) != fundingEventSize {
		return FundingEvent{}, fmt.Errorf("funding event: want %d bytes, got %d", fundingEventSize, len(b))
	}
	return FundingEvent{
		User:    getFixed(b[0:32]),
		Symbol:  getFixed(b[32:56]),
		Size:    int64(binary.LittleEndian.Uint64(b[56:64])),
		Rate:    int64(binary.LittleEndian.Uint64(b[64:72])),
		Payment: int64(binary.LittleEndian.Uint64(b[72:80])),
		Ts:      binary.LittleEndian.Uint64(b[80:88]),
	}, nil
}

// InsuranceEvent records a contribution to or payout from the insurance fund.
type InsuranceEvent struct {
	Amount       int64 // signed: positive = contribution, negative = payout
	BalanceAfter int64
	Source       string // <=32, e.g. "fee_contribution", "liquidation_payout"
	Ts           uint64
}

const insuranceEventSize = 8 + 8 + 32 + 8

func (e InsuranceEvent) Encode() []byte {
	buf := make([]byte, insuranceEventSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.Amount))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.BalanceAfter))
	putFixed(buf[16:48], e.Source)
	binary.LittleEndian.PutUint64(buf[48:56], e.Ts)
	return buf
}

func DecodeInsuranceEvent(b []byte) (InsuranceEvent, error) {
	if len(b) != insuranceEventSize {
		return InsuranceEvent{}, fmt.Errorf("insurance event: want %d bytes, got %d", insuranceEventSize, len(b))
	}
	return InsuranceEvent{
		Amount:       int64(binary.LittleEndian.Uint64(b[0:8])),
		BalanceAfter: int64(binary.LittleEndian.Uint64(b[8:16])),
		Source:       getFixed(b[16:48]),
		Ts:           binary.LittleEndian.Uint64(b[48:56]),
	}, nil
}

// FeeEvent records a fee collection.
type FeeEvent struct {
	User    string // <=32
	Symbol  string // <=24
	Amount  int64
	FeeType string // <=16, "maker"/"taker"/"funding"/"withdrawal"
	Ts      uint64
}

const feeEventSize = 32 + 24 + 8 + 16 + 8

func (e FeeEvent) Encode() []byte {
	buf := make([]byte, feeEventSize)
	putFixed(buf[0:32], e.User)
	putFixed(buf[32:56], e.Symbol)
	binary.LittleEndian.PutUint64(buf[56:64], uint64(e.Amount))
	putFixed(buf[64:80], e.FeeType)
	binary.LittleEndian.PutUint64(buf[80:88], e.Ts)
	return buf
}

func DecodeFeeEvent(b []byte) (FeeEvent, error) {
	if len(b) != feeEventSize {
		return FeeEvent{}, fmt.Errorf("fee event: want %d bytes, got %d", feeEventSize, len(b))
	}
	return FeeEvent{
		User:    getFixed(b[0:32]),
		Symbol:  getFixed(b[32:56]),
		Amount:  int64(binary.LittleEndian.Uint64(b[56:64])),
		FeeType: getFixed(b[64:80]),
		Ts:      binary.LittleEndian.Uint64(b[80:88]),
	}, nil
}
