package api

import (
	"bufio"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimbusfs/blockstream/internal/archives"
	"github.com/nimbusfs/blockstream/internal/engine"
)

// zipObjPayload is the obj_id JSON payload carried by a zip-archive
// access token: either a single directory name, or a list of files to
// be named with today's date.
type zipObjPayload struct {
	DirName  string   `json:"dir_name"`
	FileList []string `json:"file_list"`
}

// handleZip serves GET /zip/<token>: a pre-built on-disk archive.
func (d *Dispatcher) handleZip(c *fiber.Ctx) error {
	ctx := c.Context()
	token := c.Params("token")

	rec, ok := resolveToken(c, d.Tokens, token)
	if !ok {
		return nil
	}

	logCtx := streamLogCtx(ctx, rec)
	if checkConditional(c) {
		// The client already has the content; the archive's progress
		// record is cleaned up here too since it will never be streamed.
		d.logStreamErr(logCtx, d.Archives.DelZipProgress(ctx, token))
		return nil
	}

	var payload zipObjPayload
	if err := json.Unmarshal([]byte(rec.ObjID), &payload); err != nil {
		return plainError(c, fiber.StatusInternalServerError, "Invalid archive descriptor")
	}

	filename := payload.DirName
	if filename == "" && len(payload.FileList) > 0 {
		filename = "documents-export-" + time.Now().Format("2006-01-02")
	}
	if filename == "" {
		return plainError(c, fiber.StatusInternalServerError, "Could not determine archive filename")
	}

	zipPath, err := d.Archives.GetZipFilePath(ctx, token)
	if err != nil {
		if err == archives.ErrNotFound {
			return plainError(c, fiber.StatusNotFound, "Archive not found")
		}
		return plainError(c, fiber.StatusInternalServerError, "Failed to resolve archive")
	}

	info, err := d.FS.Stat(zipPath)
	if err != nil {
		return plainError(c, fiber.StatusInternalServerError, "Archive is not available")
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(info.Size(), 10))
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`.zip"`)
	c.Status(fiber.StatusOK)

	eng := &engine.ZipEngine{
		FS: d.FS, Archives: d.Archives, Stats: d.Stats,
		StoreID: rec.StoreID, Username: rec.Username, Token: token, Op: rec.Op,
	}
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		d.logStreamErr(logCtx, eng.Stream(c.Context(), w, zipPath))
		w.Flush()
	})
	return nil
}
