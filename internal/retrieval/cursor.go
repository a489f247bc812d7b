package retrieval

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// cursor is the keyset token advanced_search paginates on: hybrid_score DESC,
// release_date DESC, id DESC (spec §4.1). Encoded as base64 JSON so callers
// treat it as opaque.
type cursor struct {
	Score float64 `json:"score"`
	TS    int64   `json:"ts"` // release date, unix seconds
	ID    string  `json:"id"`
}

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(token string) (cursor, error) {
	var c cursor
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("retrieval: decode cursor: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return cursor{}, fmt.Errorf("retrieval: unmarshal cursor: %w", err)
	}
	return c, nil
}

// afterCursor reports whether (score, ts, id) sorts strictly after c in the
// advanced_search order (hybrid_score DESC, release_date DESC, id DESC) —
// i.e. whether it belongs on the next page.
func afterCursor(c cursor, score float64, ts int64, id string) bool {
	if score != c.Score {
		return score < c.Score
	}
	if ts != c.TS {
		return ts < c.TS
	}
	return id < c.ID
}
