package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/dejavu/metrics"
	"github.com/always-cache/dejavu/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	var listen, origin string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New("dejavu")
			e, err := setup(ctx, flags, m)
			if err != nil {
				return err
			}
			defer e.Close()

			if listen != "" {
				e.config.Listen = listen
			}
			if origin != "" {
				e.config.Origin = origin
				if err := e.config.Validate(); err != nil {
					return err
				}
			}
			if e.config.Origin == "" {
				return errors.New("no origin configured")
			}
			originURL, err := url.Parse(e.config.Origin)
			if err != nil {
				return err
			}

			cache := middleware.New(middleware.Config{
				Dejavu:             e.dejavu,
				Rules:              e.config.Rules,
				HeaderName:         e.config.HeaderName,
				HonourCacheControl: e.config.HonourCacheControl,
				Logger:             &e.log,
			})
			handler := newRouter(cache.Middleware(newProxy(originURL, e.config.OriginHost)), m, e.config.MetricsPath)
			server := &http.Server{
				Addr:              e.config.Listen,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				e.log.Info().Msgf("Proxying %s to %s", e.config.Listen, originURL)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				e.log.Info().Msg("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				err := server.Shutdown(shutdownCtx)
				cache.Wait()
				return err
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on")
	cmd.Flags().StringVarP(&origin, "origin", "o", "", "URL of the origin server")
	return cmd
}

// newRouter serves metrics on metricsPath, if set, and proxies everything else.
func newRouter(proxy http.Handler, m *metrics.Metrics, metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	if metricsPath != "" {
		r.Method(http.MethodGet, metricsPath, m.Handler())
	}
	r.Handle("/*", proxy)
	return r
}

// newProxy forwards requests to origin. A non-empty hostHeader replaces the
// Host header and the TLS server name.
func newProxy(origin *url.URL, hostHeader string) *httputil.ReverseProxy {
	host := origin.Host
	transport := http.DefaultTransport
	if hostHeader != "" {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: hostHeader,
			},
		}
	} else {
		hostHeader = host
	}
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = origin.Scheme
			req.URL.Host = host
			req.Host = hostHeader
		},
		Transport: transport,
	}
}
