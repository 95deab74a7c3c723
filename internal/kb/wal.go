package kb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/kbeng/kb/internal/fsx"
)

// The repository WAL records a single pending mutation: the file-level op
// the caller intended to apply, written before the file and index are
// touched. If the process crashes between the file write and the index
// commit, the next Open replays this record to bring both stores back into
// agreement (spec §9 "Dual store coherence", adapted from the teacher's
// ticket WAL to a single-item-at-a-time repository).
const walMagic = "KBWAL001"

var walCRC32C = crc32.MakeTable(crc32.Castagnoli)

const (
	walOpWrite  = "write"
	walOpDelete = "delete"
)

type walRecord struct {
	Op      string `json:"op"`
	Type    string `json:"type"`
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// ErrWALCorrupt reports a WAL file whose checksum does not match its body.
var ErrWALCorrupt = errors.New("kb: wal corrupt")

// writeWAL persists rec to path, overwriting any prior content. The layout
// is magic + JSON body + crc32c(body), so a torn write is detectable on
// replay.
func writeWAL(path string, rec walRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kb: marshal wal record: %w", err)
	}

	var buf bytes.Buffer

	buf.WriteString(walMagic)
	buf.Write(body)

	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], crc32.Checksum(body, walCRC32C))
	buf.Write(crcBytes[:])

	return fsx.WriteFileAtomic(path, buf.Bytes(), 0o600)
}

// readWAL reads a pending WAL record, if any. A missing or empty file
// returns (walRecord{}, false, nil).
func readWAL(path string) (walRecord, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if fsx.IsNotExist(err) {
			return walRecord{}, false, nil
		}

		return walRecord{}, false, fmt.Errorf("kb: read wal: %w", err)
	}

	if len(data) == 0 {
		return walRecord{}, false, nil
	}

	if len(data) < len(walMagic)+4 || string(data[:len(walMagic)]) != walMagic {
		return walRecord{}, false, fmt.Errorf("%w: bad header", ErrWALCorrupt)
	}

	body := data[len(walMagic) : len(data)-4]
	wantCRC := binary.BigEndian.Uint32(data[len(data)-4:])

	if crc32.Checksum(body, walCRC32C) != wantCRC {
		return walRecord{}, false, fmt.Errorf("%w: checksum mismatch", ErrWALCorrupt)
	}

	var rec walRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return walRecord{}, false, fmt.Errorf("%w: %v", ErrWALCorrupt, err)
	}

	return rec, true, nil
}

// clearWAL truncates the WAL after a successful commit.
func clearWAL(path string) error {
	return fsx.RemoveFile(path)
}
