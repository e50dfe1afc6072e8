package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/roomapi"
)

// Subscribe streams the realtime feed of roomID to fn until ctx ends, in
// which case it returns nil, or the connection drops. fn runs on the reading
// goroutine.
func (c *Client) Subscribe(ctx context.Context, roomID string, fn func(roomapi.Frame)) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidPayload, "parse server url", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + roomPath(roomID, "ws")
	u.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			var e errorBody
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			if json.Unmarshal(raw, &e) == nil && e.Code != "" {
				return apperr.New(apperr.Code(e.Code), e.Message)
			}
			return apperr.New(apperr.CodeInternal, fmt.Sprintf("http %d", resp.StatusCode))
		}
		if ctx.Err() != nil {
			return nil
		}
		return apperr.Wrap(apperr.CodeInternal, "dial room feed", err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var f roomapi.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperr.Wrap(apperr.CodeInternal, "read room feed", err)
		}
		fn(f)
	}
}
