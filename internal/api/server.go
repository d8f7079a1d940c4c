// Package api implements the request dispatcher: the three streaming
// routes (/files, /blks, /zip), the shared access-token/cache prelude,
// and the handoff into the matching streaming engine.
package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/afero"

	"github.com/nimbusfs/blockstream/internal/archives"
	"github.com/nimbusfs/blockstream/internal/keys"
	"github.com/nimbusfs/blockstream/internal/stats"
	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/nimbusfs/blockstream/internal/tokens"
)

// Dispatcher resolves the three streaming routes against their
// collaborators and hands off to the matching engine. It holds no
// per-request state: everything mutable lives on the Fiber context or
// inside the engine instance built for that one request.
type Dispatcher struct {
	Tokens   *tokens.Manager
	Files    storage.FileSystemManager
	Blocks   storage.BlockStore
	Keys     *keys.Manager
	Archives *archives.Manager
	Stats    *stats.Reporter
	FS       afero.Fs
	Logger   *slog.Logger
}

// NewApp builds a *fiber.App with cors and recover middleware
// installed and the three streaming routes registered against d.
func (d *Dispatcher) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
	}))

	app.Get("/files/:token/:filename", d.handleFile)
	app.Head("/files/:token/:filename", d.handleFile)
	app.Get("/blks/:token/:blockID", d.handleBlock)
	app.Get("/zip/:token", d.handleZip)

	return app
}
