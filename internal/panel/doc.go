// Package panel serves the battery status web UI as an embedded asset.
//
// The page is embedded into the Go binary using the go:embed directive,
// eliminating any runtime dependency on external files. The Handler
// function returns an http.Handler that serves these assets with SPA
// (Single Page Application) fallback routing: if a requested file does
// not exist, index.html is served.
//
// The page fetches the current snapshot from /api/v1/batteries and
// subscribes to the websocket endpoint for live updates, so low-battery
// changes appear without a refresh.
package panel
