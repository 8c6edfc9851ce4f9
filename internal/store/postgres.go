package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabboard/internal/board"
)

const strokesSchema = `
CREATE TABLE IF NOT EXISTS strokes (
	seq       BIGSERIAL PRIMARY KEY,
	board_id  TEXT  NOT NULL,
	stroke_id TEXT  NOT NULL,
	user_id   TEXT  NOT NULL,
	payload   BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS strokes_board_seq_idx ON strokes (board_id, seq);`

// Postgres keeps the board in a strokes table ordered by a serial sequence
// column, so append order survives anything short of dropping the table.
type Postgres struct {
	pool    *pgxpool.Pool
	boardID string
}

// NewPostgres takes ownership of the pool and creates the schema if needed.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, boardID string) (*Postgres, error) {
	if _, err := pool.Exec(ctx, strokesSchema); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Postgres{pool: pool, boardID: boardID}, nil
}

func (p *Postgres) Append(ctx context.Context, s board.Stroke) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO strokes (board_id, stroke_id, user_id, payload) VALUES ($1, $2, $3, $4)`,
		p.boardID, s.ID, s.UserID, []byte(s.Payload))
	if err != nil {
		return fmt.Errorf("postgres append: %w", err)
	}
	return nil
}

func (p *Postgres) AppendMany(ctx context.Context, strokes []board.Stroke) error {
	if len(strokes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range strokes {
		batch.Queue(
			`INSERT INTO strokes (board_id, stroke_id, user_id, payload) VALUES ($1, $2, $3, $4)`,
			p.boardID, s.ID, s.UserID, []byte(s.Payload))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres append many: %w", err)
	}
	return nil
}

func (p *Postgres) ReadAll(ctx context.Context) ([]board.Stroke, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT stroke_id, user_id, payload FROM strokes WHERE board_id = $1 ORDER BY seq`,
		p.boardID)
	if err != nil {
		return nil, fmt.Errorf("postgres read all: %w", err)
	}
	defer rows.Close()

	var strokes []board.Stroke
	for rows.Next() {
		var s board.Stroke
		var payload []byte
		if err := rows.Scan(&s.ID, &s.UserID, &payload); err != nil {
			return nil, fmt.Errorf("postgres read all: %w", err)
		}
		s.Payload = payload
		strokes = append(strokes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres read all: %w", err)
	}
	return strokes, nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM strokes WHERE board_id = $1`, p.boardID); err != nil {
		return fmt.Errorf("postgres clear: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
