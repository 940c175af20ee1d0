package transport

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/mrt"
)

var archivePrefix = []byte("mrt/")

// ArchiveSink keeps every record in a badger database, keyed by
// timestamp and arrival order so iteration returns records in emit order.
type ArchiveSink struct {
	path string
	db   *badger.DB
	seq  uint64
}

// OpenArchiveSink opens or creates the archive at path.
func OpenArchiveSink(path string) (*ArchiveSink, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open archive: %w", err)
	}

	s := &ArchiveSink{path: path, db: db}
	if s.seq, err = s.lastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ArchiveSink) String() string {
	return fmt.Sprintf("archive-sink (%s)", s.path)
}

func archiveKey(timestamp uint32, seq uint64) []byte {
	key := make([]byte, len(archivePrefix)+12)
	n := copy(key, archivePrefix)
	binary.BigEndian.PutUint32(key[n:], timestamp)
	binary.BigEndian.PutUint64(key[n+4:], seq)
	return key
}

func parseArchiveKey(key []byte) (timestamp uint32, seq uint64) {
	key = key[len(archivePrefix):]
	return binary.BigEndian.Uint32(key), binary.BigEndian.Uint64(key[4:])
}

// lastSeq finds the highest sequence number in use, so reopened archives keep counting.
func (s *ArchiveSink) lastSeq() (seq uint64, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // keys only
		opts.Prefix = archivePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			_, keySeq := parseArchiveKey(it.Item().Key())
			seq = max(seq, keySeq)
		}
		return nil
	})
	return
}

func (s *ArchiveSink) WriteRecord(rec *Record) error {
	s.seq++
	key := archiveKey(rec.Timestamp, s.seq)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, rec.Data)
	})
}

// Records returns the archived records with a timestamp of at least since, in emit order.
func (s *ArchiveSink) Records(since uint32) ([]*Record, error) {
	records := make([]*Record, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = archivePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(archiveKey(since, 0)); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(data) < mrt.HeaderLength {
				return fmt.Errorf("archived record %x is truncated", item.Key())
			}

			timestamp, _ := parseArchiveKey(item.Key())
			records = append(records, &Record{
				Timestamp: timestamp,
				Type:      binary.BigEndian.Uint16(data[4:]),
				Subtype:   binary.BigEndian.Uint16(data[6:]),
				Data:      data,
			})
		}
		return nil
	})
	return records, err
}

func (s *ArchiveSink) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// badgerLogger routes badger's messages to the daemon log.
type badgerLogger struct{}

func (badgerLogger) String() string {
	return "badger"
}

func (l badgerLogger) Errorf(f string, v ...any) {
	core.Log.Error(l, strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Warningf(f string, v ...any) {
	core.Log.Warn(l, strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Infof(f string, v ...any) {
	core.Log.Debug(l, strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Debugf(f string, v ...any) {
	core.Log.Trace(l, strings.TrimSpace(fmt.Sprintf(f, v...)))
}
