// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/particula/pkg/smc"
	"github.com/AleutianAI/particula/pkg/telemetry"
)

var (
	serveAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve estimation runs over HTTP",
		Long: `Starts an HTTP server that accepts estimation requests referencing
server-local scenario files, runs them asynchronously, and exposes run
status, results, and Prometheus metrics.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

// runState is one tracked estimation run.
type runState struct {
	ID       string      `json:"id"`
	Scenario string      `json:"scenario"`
	Status   string      `json:"status"` // running, done, failed
	Error    string      `json:"error,omitempty"`
	Started  time.Time   `json:"started"`
	Result   *smc.Result `json:"result,omitempty"`
}

// runRegistry tracks in-flight and finished runs.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*runState
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*runState)}
}

func (r *runRegistry) put(s *runState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[s.ID] = s
}

// get returns a copy of the tracked state. Handlers serialize the copy
// outside the lock while the run goroutine keeps writing the original.
func (r *runRegistry) get(id string) (runState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.runs[id]
	if !ok {
		return runState{}, false
	}
	return *s, true
}

func (r *runRegistry) list() []runState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]runState, 0, len(r.runs))
	for _, s := range r.runs {
		out = append(out, *s)
	}
	return out
}

func (r *runRegistry) setDone(id string, result *smc.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.runs[id]
	if !ok {
		return
	}
	if err != nil {
		s.Status = "failed"
		s.Error = err.Error()
		return
	}
	s.Status = "done"
	s.Result = result
}

type startRunRequest struct {
	ScenarioPath string `json:"scenario_path" binding:"required"`
	RunID        string `json:"run_id"`
}

func runServe(cmd *cobra.Command, args []string) error {
	metrics := telemetry.NewRunMetrics(nil)
	registry := newRunRegistry()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.POST("/v1/runs", func(c *gin.Context) {
		var req startRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state, err := startRun(c.Request.Context(), req, registry, metrics)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, state)
	})

	router.GET("/v1/runs", func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.list())
	})

	router.GET("/v1/runs/:id", func(c *gin.Context) {
		state, ok := registry.get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
		c.JSON(http.StatusOK, state)
	})

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", serveAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startRun validates the request, registers the run, and launches the
// estimation in the background. Estimations outlive the originating HTTP
// request, so the background context is deliberate.
func startRun(_ context.Context, req startRunRequest, registry *runRegistry, metrics *telemetry.RunMetrics) (runState, error) {
	sc, err := LoadScenario(req.ScenarioPath)
	if err != nil {
		return runState{}, err
	}
	m, err := sc.BuildModel()
	if err != nil {
		return runState{}, err
	}
	data, err := sc.LoadData()
	if err != nil {
		return runState{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = newRunID(sc.Name)
	}
	if err := validateRunID(runID); err != nil {
		return runState{}, err
	}
	runLogger := logger.With("run_id", runID)

	sampler, err := smc.New(m, sc.Sampler,
		smc.WithRunID(runID),
		smc.WithReporter(smc.LogReporter{Logger: runLogger}),
		smc.WithReporter(metrics),
	)
	if err != nil {
		return runState{}, err
	}

	state := &runState{
		ID:       runID,
		Scenario: sc.Name,
		Status:   "running",
		Started:  time.Now(),
	}
	registry.put(state)
	accepted := *state

	go func() {
		result, err := sampler.Run(context.Background(), data)
		if err != nil {
			runLogger.Error("estimation failed", "error", err)
		} else {
			runLogger.Info("estimation finished", "duration", result.Duration.Round(time.Millisecond).String())
		}
		registry.setDone(runID, result, err)
	}()
	return accepted, nil
}
