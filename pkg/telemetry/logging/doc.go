// Package logging builds the service's slog logger.
//
// New returns a *slog.Logger writing JSON or text. With RedactPII enabled the
// output handler is wrapped in a RedactingHandler that masks bearer tokens,
// API keys, e-mail addresses and passwords in messages and attribute values:
//
//   - sk-abc123xyz        -> sk-a***
//   - user@example.com    -> u***@example.com
//   - Bearer eyJhbGciOi   -> Bearer ***
//
// Request, user and session identifiers travel in the context. FromContext
// attaches them, plus the active trace ID, to a logger:
//
//	ctx = logging.WithUserID(ctx, "alice")
//	logging.FromContext(ctx, logger).Info("allocation granted", "tokens", 300)
package logging
