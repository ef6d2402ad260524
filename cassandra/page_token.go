package cassandra

import (
	"encoding/base64"
	"fmt"
)

// Page tokens are gocql page states, base64 encoded so they survive a round
// trip through JSON and query strings. Opaque to clients.

func encodePageToken(pageState []byte) string {
	if len(pageState) == 0 {
		return ""
	}
	return base64.URLEncoding.EncodeToString(pageState)
}

func decodePageToken(token string) ([]byte, error) {
	ba, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("bad page token, details: %w", err)
	}
	return ba, nil
}
