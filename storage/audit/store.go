package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"homeescrow/core/events"
	"homeescrow/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrChainBroken reports a record whose hash or back-link does not match the
// recomputed chain.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Record is one committed listing event persisted with its chain hash.
type Record struct {
	ID         uint   `gorm:"primaryKey"`
	Sequence   uint64 `gorm:"uniqueIndex;not null"`
	Type       string `gorm:"size:64;index"`
	Timestamp  int64  `gorm:"index"`
	Attributes string `gorm:"type:text"`
	PrevHash   string `gorm:"size:64"`
	Hash       string `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
}

// TableName pins the table so the schema survives struct renames.
func (Record) TableName() string { return "listing_audit_records" }

// Store appends listing events to a relational table as a blake3 hash chain.
type Store struct {
	db  *gorm.DB
	log *slog.Logger

	mu   sync.Mutex
	head string
}

// Open connects to the configured backend and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("audit: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: nil database")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	store := &Store{db: db, log: log}
	var last Record
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("audit: load head: %w", err)
	}
	store.head = last.Hash
	return store, nil
}

// Emit implements events.Emitter. Events already recorded are skipped so a
// replayed stream does not fork the chain.
func (s *Store) Emit(evt events.Event) {
	body, ok := events.Body(evt)
	if !ok {
		return
	}
	if _, err := s.Append(body); err != nil {
		s.log.Error("audit append failed",
			slog.String("event", body.Type),
			slog.Uint64("sequence", body.Sequence),
			slog.Any("error", err))
	}
}

// Append links evt onto the chain head and persists it.
func (s *Store) Append(evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, fmt.Errorf("audit: nil event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int64
	if err := s.db.Model(&Record{}).Where("sequence = ?", evt.Sequence).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("audit: lookup sequence: %w", err)
	}
	if existing > 0 {
		return nil, nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("audit: encode attributes: %w", err)
	}
	hash, err := chainHash(s.head, evt)
	if err != nil {
		return nil, err
	}
	record := &Record{
		Sequence:   evt.Sequence,
		Type:       evt.Type,
		Timestamp:  evt.Timestamp,
		Attributes: string(attrs),
		PrevHash:   s.head,
		Hash:       hash,
	}
	if err := s.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("audit: insert: %w", err)
	}
	s.head = hash
	return record, nil
}

// Head returns the hash of the most recent record.
func (s *Store) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// List returns records with sequence greater than after, oldest first.
func (s *Store) List(after uint64, limit int) ([]Record, error) {
	query := s.db.Where("sequence > ?", after).Order("sequence asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return records, nil
}

// Event decodes the stored record back into its event form.
func (r Record) Event() (*types.Event, error) {
	evt := &types.Event{Type: r.Type, Sequence: r.Sequence, Timestamp: r.Timestamp}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &evt.Attributes); err != nil {
			return nil, fmt.Errorf("audit: decode attributes: %w", err)
		}
	}
	if evt.Attributes == nil {
		evt.Attributes = map[string]string{}
	}
	return evt, nil
}

// Verify walks the whole table and recomputes every link. It returns the
// number of records checked.
func (s *Store) Verify() (int, error) {
	var records []Record
	if err := s.db.Order("sequence asc").Find(&records).Error; err != nil {
		return 0, fmt.Errorf("audit: load: %w", err)
	}
	prev := ""
	for i, record := range records {
		if record.PrevHash != prev {
			return i, fmt.Errorf("%w: sequence %d links to %q, want %q", ErrChainBroken, record.Sequence, record.PrevHash, prev)
		}
		evt, err := record.Event()
		if err != nil {
			return i, err
		}
		hash, err := chainHash(prev, evt)
		if err != nil {
			return i, err
		}
		if hash != record.Hash {
			return i, fmt.Errorf("%w: sequence %d hash mismatch", ErrChainBroken, record.Sequence)
		}
		prev = hash
	}
	return len(records), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func chainHash(prev string, evt *types.Event) (string, error) {
	prevBytes, err := hex.DecodeString(prev)
	if err != nil {
		return "", fmt.Errorf("audit: decode previous hash: %w", err)
	}
	buf := new(bytes.Buffer)
	buf.Write(prevBytes)
	if err := binary.Write(buf, binary.BigEndian, evt.Sequence); err != nil {
		return "", err
	}
	if err := binary.Write(buf, binary.BigEndian, evt.Timestamp); err != nil {
		return "", err
	}
	writeField(buf, evt.Type)
	keys := make([]string, 0, len(evt.Attributes))
	for key := range evt.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		writeField(buf, key)
		writeField(buf, evt.Attributes[key])
	}
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func writeField(buf *bytes.Buffer, value string) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(value)))
	buf.Write(length[:])
	buf.WriteString(value)
}
