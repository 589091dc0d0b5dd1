// Package journal implements the append-only binary event journal
// (spec.md §6): every state-changing event is durably recorded before it is
// considered committed, in the same fixed-size-header-plus-payload format as
// original_source/src/event_journal.h, so an existing journal file on disk
// (from the original implementation or a prior run of this one) is binary
// compatible. Writes follow the teacher's internal/store.go atomic-write
// discipline where applicable; trades and cash, margin, liquidation and
// insurance events force an immediate flush, everything else batches.
package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	magic         = "CREJ"
	formatVersion = uint32(1)

	fileHeaderSize   = 64
	recordHeaderSize = 20

	// flushBatchSize is how many batchable records (funding, fees, order
	// lifecycle) accumulate before a forced flush; trades and cash, margin,
	// liquidation and insurance events always flush immediately.
	flushBatchSize = 100
)

// fileHeader is the first 64 bytes of a journal file.
type fileHeader struct {
	Magic      [4]byte
	Version    uint32
	CreatedTs  uint64
	LastSeq    uint64
	// reserved[40]
}

// Record is one decoded journal entry: a type tag plus its raw payload
// bytes. Callers decode Payload with the matching Decode*Event function.
type Record struct {
	Timestamp uint64
	Sequence  uint64
	Type      EventType
	Payload   []byte
}

// Writer appends records to a journal file, fsyncing on trades and cash,
// margin, liquidation and insurance events and batching otherwise.
type Writer struct {
	mu           sync.Mutex
	f            *os.File
	w            *bufio.Writer
	seq          uint64
	sinceFlush   int
}

// Open opens (creating if necessary) the journal file at path, writing a
// fresh file header if the file is empty, or validating and resuming from an
// existing one.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: stat %s: %w", path, err)
	}

	w := &Writer{f: f}

	if info.Size() == 0 {
		if err := w.writeFileHeader(0); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.Seek(fileHeaderSize, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("journal: seek past header %s: %w", path, err)
		}
	} else {
		hdr, err := readFileHeader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		w.seq = hdr.LastSeq
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, fmt.Errorf("journal: seek end %s: %w", path, err)
		}
	}

	w.w = bufio.NewWriterSize(f, 64*1024)
	return w, nil
}

func (w *Writer) writeFileHeader(lastSeq uint64) error {
	buf := make([]byte, fileHeaderSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(time.Now().Unix()))
	binary.LittleEndian.PutUint64(buf[16:24], lastSeq)
	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("journal: write file header: %w", err)
	}
	return nil
}

func readFileHeader(f *os.File) (fileHeader, error) {
	buf := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, fileHeaderSize), buf); err != nil {
		return fileHeader{}, fmt.Errorf("journal: read file header: %w", err)
	}
	var hdr fileHeader
	copy(hdr.Magic[:], buf[0:4])
	if string(hdr.Magic[:]) != magic {
		return fileHeader{}, fmt.Errorf("journal: bad magic %q, want %q", hdr.Magic, magic)
	}
	hdr.Version = binary.LittleEndian.Uint32(buf[4:8])
	hdr.CreatedTs = binary.LittleEndian.Uint64(buf[8:16])
	hdr.LastSeq = binary.LittleEndian.Uint64(buf[16:24])
	return hdr, nil
}

// xorChecksum folds payload into a 4-byte XOR checksum (spec.md §6: cheap,
// catches truncation and single-byte corruption, not a cryptographic
// guard), matching original_source/src/event_journal.h's checksum, which
// folds only the payload bytes, not the record header.
func xorChecksum(payload []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(payload); i += 4 {
		sum ^= binary.LittleEndian.Uint32(payload[i : i+4])
	}
	if rem := len(payload) % 4; rem != 0 {
		var tail [4]byte
		copy(tail[:], payload[len(payload)-rem:])
		sum ^= binary.LittleEndian.Uint32(tail[:])
	}
	return sum
}

// Append writes one record. Trades, deposits, withdrawals, margin
// lock/release, liquidation and insurance events are flushed to disk
// immediately; all other event types are batched and flushed every
// flushBatchSize records.
func (w *Writer) Append(typ EventType, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	seq := w.seq
	ts := uint64(time.Now().UnixMicro())

	hdr := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], ts)
	binary.LittleEndian.PutUint64(hdr[8:16], seq)
	hdr[16] = byte(typ)
	hdr[17] = 0 // reserved
	binary.LittleEndian.PutUint16(hdr[18:20], uint16(len(payload)))

	if _, err := w.w.Write(hdr); err != nil {
		return 0, fmt.Errorf("journal: write record header: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return 0, fmt.Errorf("journal: write payload: %w", err)
	}

	checksum := xorChecksum(payload)
	var cbuf [4]byte
	binary.LittleEndian.PutUint32(cbuf[:], checksum)
	if _, err := w.w.Write(cbuf[:]); err != nil {
		return 0, fmt.Errorf("journal: write checksum: %w", err)
	}

	w.sinceFlush++
	durable := false
	switch typ {
	case EventTrade, EventDeposit, EventWithdrawal, EventMarginLock, EventMarginRelease,
		EventLiquidation, EventInsuranceContribution, EventInsurancePayout:
		durable = true
	}
	if durable || w.sinceFlush >= flushBatchSize {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

func (w *Writer) flushLocked() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync: %w", err)
	}
	if err := w.writeFileHeader(w.seq); err != nil {
		return err
	}
	w.sinceFlush = 0
	return nil
}

// Flush forces any buffered records to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// LastSequence returns the highest sequence number assigned so far.
func (w *Writer) LastSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Reader replays a journal file from the beginning, for crash recovery or
// offline audit.
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	header fileHeader
}

// OpenReader opens path for sequential replay, starting just past the file
// header.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open reader %s: %w", path, err)
	}
	hdr, err := readFileHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(fileHeaderSize, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: seek past header: %w", err)
	}
	return &Reader{f: f, r: bufio.NewReader(f), header: hdr}, nil
}

// LastSequence reports the sequence recorded in the file header at open
// time (the durable watermark as of the last flush).
func (r *Reader) LastSequence() uint64 { return r.header.LastSeq }

// Next reads the next record, returning io.EOF when the file is exhausted.
// A checksum mismatch returns a non-EOF error; callers should treat it as
// the end of valid data (a crash mid-write can leave a trailing partial or
// corrupt record).
func (r *Reader) Next() (Record, error) {
	hdr := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, io.EOF
		}
		return Record{}, err
	}

	ts := binary.LittleEndian.Uint64(hdr[0:8])
	seq := binary.LittleEndian.Uint64(hdr[8:16])
	typ := EventType(hdr[16])
	size := binary.LittleEndian.Uint16(hdr[18:20])

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, fmt.Errorf("journal: truncated payload at seq %d: %w", seq, err)
	}

	var cbuf [4]byte
	if _, err := io.ReadFull(r.r, cbuf[:]); err != nil {
		return Record{}, fmt.Errorf("journal: truncated checksum at seq %d: %w", seq, err)
	}
	want := binary.LittleEndian.Uint32(cbuf[:])
	if got := xorChecksum(payload); got != want {
		return Record{}, fmt.Errorf("journal: checksum mismatch at seq %d: got %#x want %#x", seq, got, want)
	}

	return Record{Timestamp: ts, Sequence: seq, Type: typ, Payload: payload}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
