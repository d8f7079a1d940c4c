package api

import (
	"bufio"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/nimbusfs/blockstream/internal/contenttype"
	"github.com/nimbusfs/blockstream/internal/engine"
	"github.com/nimbusfs/blockstream/internal/keys"
	"github.com/nimbusfs/blockstream/internal/rangeparse"
	"github.com/nimbusfs/blockstream/internal/storage"
)

// handleFile serves GET|HEAD /files/<token>/<filename>: whole-file or
// byte-range delivery, with transparent decryption for encrypted
// repositories.
func (d *Dispatcher) handleFile(c *fiber.Ctx) error {
	ctx := c.Context()
	token := c.Params("token")
	filename := c.Params("filename")

	rec, ok := resolveToken(c, d.Tokens, token)
	if !ok {
		return nil
	}
	if rec.Op != storage.OpView && rec.Op != storage.OpDownload && rec.Op != storage.OpDownloadLink {
		return plainError(c, fiber.StatusForbidden, "Operation not permitted for this token")
	}
	if checkConditional(c) {
		return nil
	}

	repo, err := d.Files.GetRepository(ctx, rec.StoreID)
	if err != nil {
		return plainError(c, fiber.StatusInternalServerError, "Failed to resolve repository")
	}
	version := strconv.Itoa(repo.Version)

	exists, err := d.Files.ObjectExists(ctx, rec.StoreID, version, rec.ObjID)
	if err != nil {
		return plainError(c, fiber.StatusInternalServerError, "Failed to check object existence")
	}
	if !exists {
		return plainError(c, fiber.StatusBadRequest, "Unknown file id")
	}

	file, err := d.Files.GetFile(ctx, rec.StoreID, version, rec.ObjID)
	if err != nil {
		return plainError(c, fiber.StatusInternalServerError, "Failed to load file")
	}

	var decryptKey *keys.DecryptKey
	if repo.Encrypted {
		k, err := d.Keys.GetDecryptKey(ctx, rec.StoreID, rec.Username)
		if err != nil {
			return plainError(c, fiber.StatusInternalServerError, "Repo is encrypted. Please provide password to view it.")
		}
		decryptKey = &k
	}

	contentType := contenttype.ByExtension(filename)
	disposition := contenttype.Inline
	if rec.Op == storage.OpDownload || rec.Op == storage.OpDownloadLink {
		disposition = contenttype.Attachment
	}
	userAgent := string(c.Request().Header.UserAgent())

	setContentHeaders(c, contentType, disposition, filename, userAgent)

	if c.Method() == fiber.MethodHead || file.NBlocks() == 0 {
		c.Set(fiber.HeaderContentLength, strconv.FormatInt(file.FileSize, 10))
		return c.SendStatus(fiber.StatusOK)
	}

	rangeHeader := string(c.Request().Header.Peek(fiber.HeaderRange))
	if rangeHeader != "" && !repo.Encrypted {
		rng, err := rangeparse.Parse(rangeHeader, file.FileSize)
		if err == nil {
			return d.streamFileRange(c, rec, version, file, rng)
		}
		if !errors.Is(err, rangeparse.ErrMultiRange) {
			c.Set(fiber.HeaderContentRange, rangeparse.UnsatisfiableContentRange(file.FileSize))
			return plainError(c, fiber.StatusRequestedRangeNotSatisfiable, "Range not satisfiable")
		}
		// Multi-range: fall back to whole-file, same as an absent Range header.
	}

	return d.streamFileWhole(c, rec, version, file, decryptKey)
}

func (d *Dispatcher) streamFileWhole(c *fiber.Ctx, rec storage.AccessRecord, version string, file storage.FileDescriptor, decryptKey *keys.DecryptKey) error {
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(file.FileSize, 10))
	c.Status(fiber.StatusOK)

	eng := &engine.FileEngine{
		Store: d.Blocks, Stats: d.Stats, StoreID: rec.StoreID, Version: version,
		Username: rec.Username, Op: rec.Op, File: file, Key: decryptKey,
	}
	logCtx := streamLogCtx(c.Context(), rec)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		d.logStreamErr(logCtx, eng.Stream(c.Context(), w))
		w.Flush()
	})
	return nil
}

func (d *Dispatcher) streamFileRange(c *fiber.Ctx, rec storage.AccessRecord, version string, file storage.FileDescriptor, rng rangeparse.Range) error {
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(rng.Len(), 10))
	c.Set(fiber.HeaderContentRange, rangeparse.ContentRange(rng, file.FileSize))
	c.Status(fiber.StatusPartialContent)

	eng := &engine.FileEngine{
		Store: d.Blocks, Stats: d.Stats, StoreID: rec.StoreID, Version: version,
		Username: rec.Username, Op: rec.Op, File: file, Range: &rng,
	}
	logCtx := streamLogCtx(c.Context(), rec)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		d.logStreamErr(logCtx, eng.Stream(c.Context(), w))
		w.Flush()
	})
	return nil
}

// setContentHeaders sets the content-type, disposition and security
// headers shared by all file and block responses.
func setContentHeaders(c *fiber.Ctx, contentType string, disposition contenttype.Disposition, filename, userAgent string) {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, contenttype.ContentDisposition(disposition, filename, userAgent))
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set("Content-Security-Policy", "sandbox")
	if contenttype.NoSniff(contentType) {
		c.Set("X-Content-Type-Options", "nosniff")
	}
}
