package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// maxFrameBytes bounds one request line.
const maxFrameBytes = 4 * 1024 * 1024

// Serve reads line-delimited JSON request frames from r and writes one
// response frame per request to w. The transport is whatever byte stream
// the embedder hands us; framing ends at EOF or context cancellation.
//
// Requests execute sequentially: the handler is synchronous and the
// protocol is one request, one response.
func (h *Handler) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	enc := json.NewEncoder(w)
	var writeMu sync.Mutex

	respond := func(resp Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(resp); err != nil {
			slog.Warn("response_write_failed", slog.String("error", err.Error()))
		}
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			respond(Response{
				Status: StatusError,
				Error: &ErrorPayload{
					Code:    "ERR_401_INVALID_INPUT",
					Kind:    "InvalidArgument",
					Message: "malformed request frame: " + err.Error(),
				},
			})
			continue
		}

		respond(h.Handle(ctx, req))
	}
	return scanner.Err()
}
