// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var (
	serveListen   string
	serveInterval int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve decoded telemetry over HTTP and WebSocket",
	Long: `Decode ESC telemetry and serve it to other tools.

REST endpoints (JSON):
  GET /motors          every motor's reading
  GET /motors/{id}     one motor's reading
  GET /combined        the combined reading across all motors
  GET /stats           decoder counters

WebSocket endpoint:
  GET /stream          binary CBOR snapshots at --interval`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "127.0.0.1:8000", "HTTP listen address")
	serveCmd.Flags().IntVar(&serveInterval, "interval", 100, "Stream snapshot interval (milliseconds)")
}

type combinedResponse struct {
	Valid   bool              `json:"valid"`
	Reading escsensor.Reading `json:"reading"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// apiServer serves one decoder over HTTP
type apiServer struct {
	telemetry *escsensor.Telemetry
	interval  time.Duration
	upgrader  websocket.Upgrader
}

func newAPIRouter(telemetry *escsensor.Telemetry, interval time.Duration) *mux.Router {
	s := &apiServer{
		telemetry: telemetry,
		interval:  interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/motors", s.motorsHandler).Methods("GET")
	r.HandleFunc("/motors/{id:[0-9]+}", s.motorHandler).Methods("GET")
	r.HandleFunc("/combined", s.combinedHandler).Methods("GET")
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	r.HandleFunc("/stream", s.streamHandler).Methods("GET")
	return r
}

func (s *apiServer) motor(id int) (escsensor.MotorSnapshot, error) {
	reading, err := s.telemetry.Reading(id)
	if err != nil {
		return escsensor.MotorSnapshot{}, err
	}
	return escsensor.MotorSnapshot{
		Motor:   id,
		Reading: reading,
		Valid:   s.telemetry.Valid(id),
		RPM:     escsensor.MechanicalRPM(int(reading.RPM), s.telemetry.Config().PoleCount),
	}, nil
}

func (s *apiServer) motorsHandler(w http.ResponseWriter, r *http.Request) {
	motors := s.telemetry.Snapshot(time.Now()).Motors
	if motors == nil {
		motors = []escsensor.MotorSnapshot{}
	}
	respondJSON(w, http.StatusOK, motors)
}

func (s *apiServer) motorHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid motor id")
		return
	}

	m, err := s.motor(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *apiServer) combinedHandler(w http.ResponseWriter, r *http.Request) {
	reading, err := s.telemetry.Combined()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, combinedResponse{
		Valid:   s.telemetry.CombinedValid(),
		Reading: reading,
	})
}

func (s *apiServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.telemetry.Stats())
}

// streamHandler pushes a CBOR snapshot every interval until the client
// goes away
func (s *apiServer) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain client messages so close frames are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case now := <-ticker.C:
			data, err := escsensor.EncodeSnapshot(s.telemetry.Snapshot(now))
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveInterval <= 0 {
		return fmt.Errorf("invalid --interval: %d", serveInterval)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	done := s.start(ctx)

	server := &http.Server{
		Addr:    serveListen,
		Handler: newAPIRouter(s.telemetry, time.Duration(serveInterval)*time.Millisecond),
	}

	fmt.Printf("Escstat - Telemetry Server\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Listening on http://%s\n", serveListen)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return s.Err()
}
