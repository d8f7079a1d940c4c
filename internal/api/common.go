package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimbusfs/blockstream/internal/slogutil"
	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/nimbusfs/blockstream/internal/tokens"
)

// plainError writes status with a plain-text body of msg plus a
// trailing newline, matching the error-reporting policy: every error
// surfaced before streaming starts is a short plain-text body, never a
// JSON envelope.
func plainError(c *fiber.Ctx, status int, msg string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).SendString(msg + "\n")
}

// resolveToken looks up token and translates a missing/expired token
// into the 403 the dispatcher prelude promises.
func resolveToken(c *fiber.Ctx, mgr *tokens.Manager, token string) (storage.AccessRecord, bool) {
	rec, err := mgr.Query(c.Context(), token)
	if err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			plainError(c, fiber.StatusForbidden, "Access token not found")
			return storage.AccessRecord{}, false
		}
		plainError(c, fiber.StatusInternalServerError, "Failed to resolve access token")
		return storage.AccessRecord{}, false
	}
	return rec, true
}

// streamLogCtx attaches the access record's store/op/user as slog
// attributes to ctx, so every log line emitted through it (including
// logStreamErr's) carries the request's identity without having to
// thread those fields through every call by hand.
func streamLogCtx(ctx context.Context, rec storage.AccessRecord) context.Context {
	return slogutil.WithAttrs(ctx,
		slog.String("store_id", rec.StoreID),
		slog.String("op", string(rec.Op)),
		slog.String("username", rec.Username),
	)
}

// logStreamErr records a mid-stream failure. By the time this fires,
// headers and a partial body may already be on the wire, so there is
// nothing left to do but note it and let the transport connection
// close.
func (d *Dispatcher) logStreamErr(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if d.Logger != nil {
		d.Logger.WarnContext(ctx, "stream terminated early", "error", err)
	}
}

// checkConditional implements the common cache prelude shared by all
// three endpoints: presence of If-Modified-Since alone is treated as a
// cache hit (the request's repository state can't usefully be
// re-validated against a timestamp from this side), after which
// Last-Modified and Cache-Control are set on every other response.
// Returns true if the caller already replied 304 and should stop.
func checkConditional(c *fiber.Ctx) bool {
	if c.Get(fiber.HeaderIfModifiedSince) != "" {
		c.SendStatus(fiber.StatusNotModified)
		return true
	}
	c.Set(fiber.HeaderLastModified, time.Now().UTC().Format(http.TimeFormat))
	c.Set(fiber.HeaderCacheControl, "max-age=3600")
	return false
}
