package sqlite

import (
	"context"

	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// NextSeq atomically increments and returns the next global sequence number.
// The increment commits before the caller uses the value, so a failed insert
// afterwards burns the number rather than reusing it.
func (r *Repository) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE seq_counter SET val = val + 1 WHERE id = 1 RETURNING val`,
	).Scan(&seq)
	if err != nil {
		return 0, errdefs.Storef("next_seq", err)
	}
	return seq, nil
}

// CurrentSeq returns the last allocated sequence number without advancing it.
func (r *Repository) CurrentSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.ro.QueryRowContext(ctx, `SELECT val FROM seq_counter WHERE id = 1`).Scan(&seq)
	if err != nil {
		return 0, errdefs.Storef("current_seq", err)
	}
	return seq, nil
}
