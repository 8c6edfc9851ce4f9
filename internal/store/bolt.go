package store

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"collabboard/internal/board"
)

// Bolt keeps the board in a local bbolt file, one bucket per board with
// big-endian sequence keys so iteration order is append order. It backs
// single-process deployments and the test suite; it is not shared between
// nodes.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

func NewBolt(path, boardID string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt open: %w", err)
	}
	bucket := []byte("board:" + boardID)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt open: %w", err)
	}
	return &Bolt{db: db, bucket: bucket}, nil
}

func (b *Bolt) Append(ctx context.Context, s board.Stroke) error {
	return b.AppendMany(ctx, []board.Stroke{s})
}

func (b *Bolt) AppendMany(_ context.Context, strokes []board.Stroke) error {
	if len(strokes) == 0 {
		return nil
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		for _, s := range strokes {
			enc, err := board.Encode(s)
			if err != nil {
				return err
			}
			seq, err := bkt.NextSequence()
			if err != nil {
				return err
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], seq)
			if err := bkt.Put(key[:], enc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt append: %w", err)
	}
	return nil
}

func (b *Bolt) ReadAll(_ context.Context) ([]board.Stroke, error) {
	var strokes []board.Stroke
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).ForEach(func(_, v []byte) error {
			s, err := board.Decode(v)
			if err != nil {
				return err
			}
			strokes = append(strokes, s)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt read all: %w", err)
	}
	return strokes, nil
}

func (b *Bolt) Clear(_ context.Context) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(b.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("bolt clear: %w", err)
	}
	return nil
}

func (b *Bolt) Close() error { return b.db.Close() }
