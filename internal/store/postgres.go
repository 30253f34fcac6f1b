package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Postgres keeps each game as a JSONB document next to the columns the
// queries filter on, and ratings in their own table.
type Postgres struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS chess_users (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL DEFAULT '',
  rating     INTEGER NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS chess_games (
  room_id         TEXT PRIMARY KEY,
  white_player_id TEXT NOT NULL,
  black_player_id TEXT NOT NULL DEFAULT '',
  status          TEXT NOT NULL,
  is_ongoing      BOOLEAN NOT NULL,
  time_control    TEXT NOT NULL,
  winner          TEXT NOT NULL DEFAULT '',
  reason          TEXT NOT NULL DEFAULT '',
  pgn             TEXT NOT NULL DEFAULT '',
  document        JSONB NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chess_games_white_idx ON chess_games (white_player_id);
CREATE INDEX IF NOT EXISTS chess_games_black_idx ON chess_games (black_player_id);
`

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Migrate creates the tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) CreateGame(ctx context.Context, g *GameRecord) error {
	if g == nil || strings.TrimSpace(g.RoomID) == "" {
		return ErrGameNotFound
	}
	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	q := `INSERT INTO chess_games (
        room_id, white_player_id, black_player_id, status, is_ongoing,
        time_control, winner, reason, pgn, document, created_at, updated_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
      ON CONFLICT (room_id) DO NOTHING`
	res, err := p.db.ExecContext(ctx, q,
		g.RoomID, g.WhitePlayerID, g.BlackPlayerID, g.Status, g.IsOngoing,
		g.TimeControl, g.Winner, g.Reason, g.PGN, string(doc), g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomExists
	}
	return nil
}

func (p *Postgres) FindGame(ctx context.Context, roomID string) (*GameRecord, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT document FROM chess_games WHERE room_id = $1`, strings.TrimSpace(roomID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeGame(raw)
}

const updateGameSQL = `UPDATE chess_games SET
        white_player_id=$2, black_player_id=$3, status=$4, is_ongoing=$5,
        time_control=$6, winner=$7, reason=$8, pgn=$9, document=$10, updated_at=$11
      WHERE room_id=$1`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execUpdate(ctx context.Context, e execer, g *GameRecord, extra string) (int64, error) {
	doc, err := json.Marshal(g)
	if err != nil {
		return 0, err
	}
	res, err := e.ExecContext(ctx, updateGameSQL+extra,
		g.RoomID, g.WhitePlayerID, g.BlackPlayerID, g.Status, g.IsOngoing,
		g.TimeControl, g.Winner, g.Reason, g.PGN, string(doc), g.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) UpdateGame(ctx context.Context, g *GameRecord) error {
	if g == nil {
		return ErrGameNotFound
	}
	n, err := execUpdate(ctx, p.db, g, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (p *Postgres) DeleteGame(ctx context.Context, roomID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM chess_games WHERE room_id = $1`, roomID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (p *Postgres) GamesByUser(ctx context.Context, userID string, finishedOnly bool) ([]*GameRecord, error) {
	q := `SELECT document FROM chess_games
      WHERE (white_player_id = $1 OR black_player_id = $1)
        AND ($2 = false OR is_ongoing = false)
      ORDER BY updated_at DESC, room_id DESC`
	rows, err := p.db.QueryContext(ctx, q, strings.TrimSpace(userID), finishedOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*GameRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		g, err := decodeGame(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) FindUser(ctx context.Context, userID string) (*User, error) {
	u := &User{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, rating, updated_at FROM chess_users WHERE id = $1`, strings.TrimSpace(userID),
	).Scan(&u.ID, &u.Name, &u.Rating, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *Postgres) SaveUser(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return ErrUserNotFound
	}
	ts := u.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO chess_users (id, name, rating, updated_at)
      VALUES ($1,$2,$3,$4)
      ON CONFLICT (id) DO UPDATE SET
        name=EXCLUDED.name,
        rating=EXCLUDED.rating,
        updated_at=EXCLUDED.updated_at`, u.ID, u.Name, u.Rating, ts)
	return err
}

// Settle updates the game row only while it is still ongoing and upserts both
// ratings in the same transaction.
func (p *Postgres) Settle(ctx context.Context, s Settlement) error {
	if err := validSettlement(s); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := execUpdate(ctx, tx, s.Game, " AND is_ongoing = true")
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM chess_games WHERE room_id = $1)`, s.Game.RoomID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrGameNotFound
		}
		return ErrAlreadyFinished
	}

	rating := `INSERT INTO chess_users (id, rating, updated_at) VALUES ($1,$2,$3)
      ON CONFLICT (id) DO UPDATE SET rating=EXCLUDED.rating, updated_at=EXCLUDED.updated_at`
	now := time.Now()
	if id := s.Game.WhitePlayerID; id != "" {
		if _, err := tx.ExecContext(ctx, rating, id, s.WhiteRating, now); err != nil {
			return err
		}
	}
	if id := s.Game.BlackPlayerID; id != "" {
		if _, err := tx.ExecContext(ctx, rating, id, s.BlackRating, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func decodeGame(raw []byte) (*GameRecord, error) {
	var g GameRecord
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game document: %w", err)
	}
	return &g, nil
}
