// Command oxyshader compiles shader documents, keeps watched documents hot and serves
// pipeline diagnostics.
//
// Usage:
//
//	oxyshader compile [-config oxyshader.yaml] [-cache-dir dir] <document>...
//	oxyshader watch   [-config oxyshader.yaml] [document]...
//	oxyshader serve   [-config oxyshader.yaml] [-addr host:port] [document]...
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
