package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/aplbridge/internal/protocol"
	"github.com/roach88/aplbridge/internal/session"
)

// Entry is one recorded envelope.
type Entry struct {
	ID        int64           `json:"id"`
	Session   string          `json:"session"`
	Direction string          `json:"direction"`
	Token     string          `json:"token"`
	Type      string          `json:"type"`
	Seqno     uint64          `json:"seqno,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Append writes an entry. Its ID is ignored and assigned by the database.
func (j *Journal) Append(ctx context.Context, e Entry) (int64, error) {
	payload := string(e.Payload)
	if payload == "" {
		payload = "null"
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO envelopes (session, direction, token, type, seqno, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Session, e.Direction, e.Token, e.Type, int64(e.Seqno), payload)
	if err != nil {
		return 0, fmt.Errorf("append envelope: %w", err)
	}
	return res.LastInsertId()
}

// Filter narrows a read. Empty fields match everything.
type Filter struct {
	Session string
	Token   string
}

// Entries returns matching entries in capture order. Returns an empty slice
// (not nil) when nothing matches.
func (j *Journal) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session, direction, token, type, seqno, payload
		FROM envelopes
		WHERE (? = '' OR session = ?) AND (? = '' OR token = ?)
		ORDER BY id ASC
	`, f.Session, f.Session, f.Token, f.Token)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			seqno   int64
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Direction, &e.Token, &e.Type, &seqno, &payload); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		e.Seqno = uint64(seqno)
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return entries, nil
}

// SessionSummary describes one recorded session.
type SessionSummary struct {
	Session  string `json:"session"`
	Entries  int    `json:"entries"`
	Tokens   int    `json:"tokens"`
	Incoming int    `json:"incoming"`
	Outgoing int    `json:"outgoing"`
}

// Sessions lists recorded sessions in the order they started.
func (j *Journal) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session,
		       COUNT(*),
		       COUNT(DISTINCT token),
		       SUM(CASE WHEN direction = 'in' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN direction = 'out' THEN 1 ELSE 0 END)
		FROM envelopes
		GROUP BY session
		ORDER BY MIN(id) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionSummary{}
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.Session, &s.Entries, &s.Tokens, &s.Incoming, &s.Outgoing); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Recorder writes one session's envelopes to a journal.
type Recorder struct {
	journal *Journal
	session string
}

var _ session.Recorder = (*Recorder)(nil)

// Recorder returns a session.Recorder that tags entries with sessionID.
func (j *Journal) Recorder(sessionID string) *Recorder {
	return &Recorder{journal: j, session: sessionID}
}

// Record implements session.Recorder. A failed write is logged and the
// session carries on.
func (r *Recorder) Record(direction, token string, raw []byte) {
	e := Decode(raw)
	e.Session = r.session
	e.Direction = direction
	e.Token = token
	if _, err := r.journal.Append(context.Background(), e); err != nil {
		slog.Error("journal write failed", "session", r.session, "type", e.Type, "error", err)
	}
}

// Decode splits a raw envelope into the journal's columns. The payload is
// canonicalized. An envelope that does not decode is kept whole as a JSON
// string with an empty type.
func Decode(raw []byte) Entry {
	var env struct {
		Type    string          `json:"type"`
		Seqno   uint64          `json:"seqno"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Entry{Payload: quoted(raw)}
	}
	payload := json.RawMessage("null")
	if len(env.Payload) > 0 {
		canonical, err := protocol.CanonicalizeJSON(env.Payload)
		if err != nil {
			return Entry{Type: env.Type, Seqno: env.Seqno, Payload: quoted(raw)}
		}
		payload = canonical
	}
	return Entry{Type: env.Type, Seqno: env.Seqno, Payload: payload}
}

func quoted(raw []byte) json.RawMessage {
	b, err := protocol.MarshalCanonical(string(raw))
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
