package flow

import (
	"net/http"
	"time"
)

// SetClock replaces the client clock.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

func ClassifyResponse(status int, header http.Header, body []byte) error {
	return classifyResponse(status, header, body)
}

func ParseRetryAfter(header http.Header, body []byte) time.Duration {
	return parseRetryAfter(header, body)
}

var NewSessionID = newSessionID
