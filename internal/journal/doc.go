// Package journal persists the envelopes a session exchanges with the view
// host in SQLite.
//
// A journal is append-only. Each recorded envelope keeps its direction, the
// presentation token it belongs to, its type tag and seqno, and its payload
// in canonical JSON so two captures of the same conversation compare
// byte-equal. The trace command reads journals back; the serve command
// writes them when a journal path is configured.
package journal
