package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ServeLines runs the line-oriented protocol loop: one JSON Request per
// line of r, one JSON Response per line of w. A malformed input line
// produces a fault response rather than aborting the loop, since the
// transport must still emit exactly one line per request (spec §7).
func ServeLines(ctx context.Context, s *Server, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(Response{Fault: &FaultDTO{
				Kind: "validation", Code: "malformed_request", Message: err.Error(),
			}}); encErr != nil {
				return fmt.Errorf("writing fault response: %w", encErr)
			}

			continue
		}

		resp := s.Handle(ctx, req)

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}

	return nil
}
