// Package server runs the admin HTTP API with graceful shutdown.
//
// The listen address is either host:port or unix:/path/to.sock; a stale
// socket file is removed before listening.
//
//	srv, err := server.NewFromConfig(cfg.Admin, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, router))
//	return g.Wait()
//
// Run returns nil once the context is cancelled and the server has shut
// down within the configured timeout.
package server
