package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DoyleJ11/durak-server/internal/events"
	_ "modernc.org/sqlite"
)

const (
	baseRating  = 1000
	winRating   = 15
	lossRating  = 20
	chatHistory = 200
)

// Standing is one leaderboard row.
type Standing struct {
	PlayerID string `json:"playerId"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Draws    int    `json:"draws"`
	Rating   int    `json:"rating"`
	Net      int64  `json:"net"`
}

type Item struct {
	PlayerID   string    `json:"playerId"`
	ItemID     string    `json:"itemId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Store handles SQLite persistence of match history, chat and cosmetics.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS matches (
			room_id     TEXT PRIMARY KEY,
			fool        TEXT NOT NULL DEFAULT '',
			draw        INTEGER NOT NULL DEFAULT 0,
			result_json TEXT NOT NULL,
			finished_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS match_players (
			room_id   TEXT NOT NULL REFERENCES matches(room_id),
			player_id TEXT NOT NULL,
			place     INTEGER NOT NULL,
			stake     INTEGER NOT NULL,
			payout    INTEGER NOT NULL,
			PRIMARY KEY (room_id, player_id)
		);
		CREATE INDEX IF NOT EXISTS match_players_player ON match_players(player_id);
		CREATE TABLE IF NOT EXISTS chat (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id   TEXT NOT NULL,
			player_id TEXT NOT NULL,
			text      TEXT NOT NULL,
			at        DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chat_room ON chat(room_id, id);
		CREATE TABLE IF NOT EXISTS inventory (
			player_id   TEXT NOT NULL,
			item_id     TEXT NOT NULL,
			acquired_at DATETIME NOT NULL,
			PRIMARY KEY (player_id, item_id)
		);
	`)
	return err
}

// RecordMatch stores a settled match. Recording the same room twice is a no-op.
func (s *Store) RecordMatch(ctx context.Context, r events.MatchResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO matches (room_id, fool, draw, result_json, finished_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(room_id) DO NOTHING",
		r.RoomID, r.Fool, r.Draw, string(raw), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	if n == 0 {
		return nil
	}
	for place, player := range r.Ranked {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO match_players (room_id, player_id, place, stake, payout) VALUES (?, ?, ?, ?, ?)",
			r.RoomID, player, place+1, r.Stakes[player], r.Payouts[player],
		); err != nil {
			return fmt.Errorf("insert player %s: %w", player, err)
		}
	}
	return tx.Commit()
}

// Match returns the stored result for a room, or sql.ErrNoRows.
func (s *Store) Match(ctx context.Context, roomID string) (events.MatchResult, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, "SELECT result_json FROM matches WHERE room_id = ?", roomID).Scan(&raw); err != nil {
		return events.MatchResult{}, err
	}
	var r events.MatchResult
	err := json.Unmarshal([]byte(raw), &r)
	return r, err
}

// Leaderboard ranks players by rating, then wins. limit <= 0 returns everyone.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, wins, losses, draws, net, ? + ? * wins - ? * losses AS rating FROM (
			SELECT p.player_id,
			       SUM(CASE WHEN m.draw = 0 AND m.fool <> p.player_id THEN 1 ELSE 0 END) AS wins,
			       SUM(CASE WHEN m.fool = p.player_id THEN 1 ELSE 0 END)                 AS losses,
			       SUM(CASE WHEN m.draw = 1 THEN 1 ELSE 0 END)                            AS draws,
			       SUM(p.payout)                                                          AS net
			FROM match_players p JOIN matches m ON m.room_id = p.room_id
			GROUP BY p.player_id
		)
		ORDER BY rating DESC, wins DESC, player_id
		LIMIT ?`, baseRating, winRating, lossRating, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.PlayerID, &st.Wins, &st.Losses, &st.Draws, &st.Net, &st.Rating); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordChat appends a chat line and trims the room's history.
func (s *Store) RecordChat(ctx context.Context, c events.Chat) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO chat (room_id, player_id, text, at) VALUES (?, ?, ?, ?)",
		c.RoomID, c.PlayerID, c.Text, c.At.UTC(),
	); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chat WHERE room_id = ? AND id NOT IN (
			SELECT id FROM chat WHERE room_id = ? ORDER BY id DESC LIMIT ?
		)`, c.RoomID, c.RoomID, chatHistory)
	return err
}

// RecentChat returns up to limit lines of a room's chat, oldest first.
func (s *Store) RecentChat(ctx context.Context, roomID string, limit int) ([]events.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, player_id, text, at FROM (
			SELECT id, room_id, player_id, text, at FROM chat WHERE room_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []events.Chat
	for rows.Next() {
		var c events.Chat
		if err := rows.Scan(&c.RoomID, &c.PlayerID, &c.Text, &c.At); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GrantItem records that player owns item. It reports false if they already did.
func (s *Store) GrantItem(ctx context.Context, playerID, itemID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO inventory (player_id, item_id, acquired_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		playerID, itemID, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) RevokeItem(ctx context.Context, playerID, itemID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM inventory WHERE player_id = ? AND item_id = ?", playerID, itemID)
	return err
}

func (s *Store) Owns(ctx context.Context, playerID, itemID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inventory WHERE player_id = ? AND item_id = ?", playerID, itemID).Scan(&n)
	return n > 0, err
}

func (s *Store) Inventory(ctx context.Context, playerID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT player_id, item_id, acquired_at FROM inventory WHERE player_id = ? ORDER BY acquired_at, item_id", playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.PlayerID, &it.ItemID, &it.AcquiredAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
