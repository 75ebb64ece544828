package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nairobi-verified/marketplace-client/pkg/client"
	"github.com/nairobi-verified/marketplace-client/pkg/fetch"
	"github.com/nairobi-verified/marketplace-client/pkg/logging"
	"github.com/nairobi-verified/marketplace-client/pkg/metrics"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// statusClientClosedRequest is logged when the caller went away mid-request.
const statusClientClosedRequest = 499

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a caching proxy for the product and merchant lists",
		Long: `serve exposes /api/products and /api/merchants backed by the marketplace
client, so every caller shares its cache, retry policy and rate limit budget.
/health, /ready and /metrics are served alongside.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != 0 {
				a.cfg.Server.Port = port
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	clientCfg := a.cfg.ClientConfig()
	if clientCfg.Redis != nil {
		if err := clientCfg.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		a.logger.Info().Str("addr", a.cfg.Redis.Addr).Msg("Connected to Redis")
		defer clientCfg.Redis.Close()
	}

	c, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create marketplace client: %w", err)
	}
	defer c.Close()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           logging.Middleware(a.logger, newServeMux(c, clientCfg.Redis, a.logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info().
			Str("addr", srv.Addr).
			Str("api", a.cfg.API.BaseURL).
			Msg("Starting catalog proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info().Msg("Shutting down catalog proxy")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newServeMux(c *client.Client, rdb *redis.Client, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(rdb))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /api/products", listHandler(c.ListProducts, "products", logger))
	mux.Handle("GET /api/merchants", listHandler(c.ListMerchants, "merchants", logger))
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports 503 while the shared Redis layer is unreachable.
func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func listHandler[T any](fn fetch.FetchFunc[T], label string, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, limit, err := query.FromParams(r.URL.Query())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		page, err := fn(r.Context(), f, limit)
		if err != nil {
			status := statusFor(err)
			if status != statusClientClosedRequest {
				zerolog.Ctx(r.Context()).Warn().
					Err(err).
					Str("list", label).
					Int("status", status).
					Msg("Upstream list request failed")
			}
			writeJSONError(w, status, fmt.Sprintf("Failed to load %s", label))
			return
		}

		writeJSON(w, http.StatusOK, newListResponse(page, f, limit))
	})
}

// statusFor maps a client error to the proxy's response status.
func statusFor(err error) int {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case client.ClassOf(err) == client.ErrorClassRateLimit:
		return http.StatusTooManyRequests
	case errors.As(err, &apiErr) && apiErr.Class == client.ErrorClassClient:
		return apiErr.StatusCode
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
