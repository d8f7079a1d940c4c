package api

import (
	"bufio"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/nimbusfs/blockstream/internal/contenttype"
	"github.com/nimbusfs/blockstream/internal/engine"
	"github.com/nimbusfs/blockstream/internal/storage"
)

// handleBlock serves GET /blks/<token>/<block_id>: a single raw block.
func (d *Dispatcher) handleBlock(c *fiber.Ctx) error {
	ctx := c.Context()
	token := c.Params("token")
	blockID := c.Params("blockID")

	rec, ok := resolveToken(c, d.Tokens, token)
	if !ok {
		return nil
	}
	if rec.Op != storage.OpDownloadBlocks {
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

	file, err := d.Files.GetFile(ctx, rec.StoreID, version, rec.ObjID)
	if err != nil {
		return plainError(c, fiber.StatusBadRequest, "Unknown file id")
	}
	if !blockIn(file.BlockIDs, blockID) {
		return plainError(c, fiber.StatusBadRequest, "Block not found in file")
	}

	meta, err := d.Blocks.Stat(ctx, rec.StoreID, version, blockID)
	if err != nil {
		return plainError(c, fiber.StatusBadRequest, "Block not found")
	}

	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderContentDisposition, contenttype.ContentDisposition(
		contenttype.Attachment, blockID, string(c.Request().Header.UserAgent())))
	c.Set(fiber.HeaderContentLength, strconv.FormatUint(uint64(meta.Size), 10))
	c.Status(fiber.StatusOK)

	eng := &engine.BlockEngine{
		Store: d.Blocks, Stats: d.Stats, StoreID: rec.StoreID, Version: version,
		BlockID: blockID, Username: rec.Username,
	}
	logCtx := streamLogCtx(c.Context(), rec)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		d.logStreamErr(logCtx, eng.Stream(c.Context(), w))
		w.Flush()
	})
	return nil
}

// blockIn reports whether blockID appears in ids, comparing as fixed
// 40-character hex strings.
func blockIn(ids []string, blockID string) bool {
	for _, id := range ids {
		if id == blockID {
			return true
		}
	}
	return false
}
