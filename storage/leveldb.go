package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB persists the escrow state on disk. Batches are written with fsync
// so a committed transition survives a crash.
type LevelDB struct {
	db   *leveldb.DB
	sync *opt.WriteOptions
}

// NewLevelDB opens or creates the database directory at path. The directory
// is locked for the lifetime of the handle.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db, sync: &opt.WriteOptions{Sync: true}}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (l *LevelDB) Put(key, value []byte) error { return l.db.Put(key, value, l.sync) }

func (l *LevelDB) Delete(key []byte) error { return l.db.Delete(key, l.sync) }

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{owner: l, batch: new(leveldb.Batch)}
}

func (l *LevelDB) Close() { _ = l.db.Close() }

type levelBatch struct {
	owner *LevelDB
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }

func (b *levelBatch) Delete(key []byte) { b.batch.Delete(key) }

func (b *levelBatch) Len() int { return b.batch.Len() }

func (b *levelBatch) Write() error {
	if err := b.owner.db.Write(b.batch, b.owner.sync); err != nil {
		return err
	}
	b.batch.Reset()
	return nil
}
