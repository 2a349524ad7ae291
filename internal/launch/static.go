package launch

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"bootseq/internal/bootstrap"
	"bootseq/internal/safeio"
	"bootseq/internal/server"
)

// Info is what the in-process app reports about the artifact.
func (in *Instance) Info() server.AppInfo {
	return server.AppInfo{
		Name:         in.Config.Name,
		Version:      in.Config.Version,
		ArtifactID:   in.ID,
		Base:         in.Config.Base,
		Requirements: in.Config.Requirements,
	}
}

// serveStatic serves the materialized tree on the bound listener until ctx
// is cancelled, then shuts down gracefully.
func (in *Instance) serveStatic(ctx context.Context) error {
	l := in.launcher
	files, err := safeio.NewSafeFS(in.appDir())
	if err != nil {
		return bootstrap.Launch("open app directory", err)
	}
	handler := server.NewRouter(server.RouterDeps{
		Info:        in.Info(),
		Files:       files,
		Metrics:     l.Metrics,
		Logger:      l.logger(),
		CORSOrigins: l.CORSOrigins,
	})
	srv := server.New(handler, l.logger())
	ln := in.ln

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return bootstrap.Launch("serve", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		l.logger().Info("server stopped", "addr", ln.Addr().String())
		return nil
	})
	err = g.Wait()
	in.ln = nil
	return err
}
