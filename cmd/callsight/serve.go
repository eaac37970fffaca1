package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callsight/internal/config"
	"callsight/internal/logger"
	"callsight/internal/store"
	"callsight/internal/vectorindex"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search and call-record API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gw, err := openGateway(cfg)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			ix, err := vectorindex.Open(cfg.IndexDB, gw)
			if err != nil {
				return err
			}
			defer ix.Close()

			log := logger.New()
			mux := http.NewServeMux()

			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				log.WithRequest(r).Info("health check")
				fmt.Fprint(w, "ok")
			})

			mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
				reqLog := log.WithRequest(r).WithField("handler", "search")

				query := r.URL.Query().Get("q")
				if query == "" {
					reqLog.Warn("missing q")
					http.Error(w, "missing q", http.StatusBadRequest)
					return
				}
				topK := 5
				if k := r.URL.Query().Get("top_k"); k != "" {
					if n, err := strconv.Atoi(k); err == nil {
						topK = n
					}
				}
				filters := vectorindex.Filters{
					ClientID:  r.URL.Query().Get("client"),
					Sentiment: r.URL.Query().Get("sentiment"),
				}
				if risk := r.URL.Query().Get("risk"); risk != "" {
					filters.RiskLevels = strings.Split(risk, ",")
				}
				if mq := r.URL.Query().Get("min_quality"); mq != "" {
					if n, err := strconv.Atoi(mq); err == nil {
						filters.MinQuality = &n
					}
				}

				start := time.Now()
				matches, err := ix.Search(r.Context(), query, topK, filters)
				reqLog.WithField("duration_ms", time.Since(start).Milliseconds()).
					WithField("matches", len(matches)).Info("search finished")
				if err != nil {
					reqLog.WithField("error", err.Error()).Error("search failed")
					http.Error(w, "search failed", http.StatusInternalServerError)
					return
				}
				writeJSON(w, matches)
			})

			mux.HandleFunc("/calls/", func(w http.ResponseWriter, r *http.Request) {
				reqLog := log.WithRequest(r).WithField("handler", "calls")

				callID := strings.TrimPrefix(r.URL.Path, "/calls/")
				if callID == "" {
					http.Error(w, "missing call id", http.StatusBadRequest)
					return
				}
				rec, err := st.Get(callID)
				if errors.Is(err, store.ErrNotFound) {
					http.Error(w, "call not found", http.StatusNotFound)
					return
				}
				if err != nil {
					reqLog.WithField("error", err.Error()).Error("store read failed")
					http.Error(w, "store read failed", http.StatusInternalServerError)
					return
				}
				writeJSON(w, rec)
			})

			srv := &http.Server{
				Addr:         addr,
				Handler:      mux,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			ctx, cancel := signalContext()
			defer cancel()
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.WithField("addr", addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
