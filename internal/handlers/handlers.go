// Package handlers serves the HTTP endpoint game servers push signals and
// poll observations to.
package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/parser"
	"github.com/eventui/server/internal/queue"
	"github.com/eventui/server/pkg/core"
)

const maxBodySize = 1 << 20

// maxErrors caps the error strings echoed back in one response.
const maxErrors = 20

// SecretHeader carries the shared secret when one is configured.
const SecretHeader = "X-EventUI-Secret"

// Engine is the part of the progression engine fed by ingestion.
type Engine interface {
	Enqueue(s core.Signal) error
	CheckLocation(player uuid.UUID, dimension string, x, y float64) (int, error)
	CheckObjective(player uuid.UUID, missionID, objectiveID string, observed int) (bool, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Engine Engine
	Parser *parser.Parser
	Logger *slog.Logger
	// Secret, when set, must match the SecretHeader of every request.
	Secret string
}

// Batch is the request body. Each record is positional, see the parser
// for the layouts.
type Batch struct {
	Signals      [][]string `json:"signals"`
	Positions    [][]string `json:"positions"`
	Observations [][]string `json:"observations"`
}

// Response reports how many records were accepted.
type Response struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *Response) reject(section string, i int, err error) {
	r.Rejected++
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("%s[%d]: %v", section, i, err))
	}
}

// Service provides the ingestion endpoint.
type Service struct {
	deps Dependencies
}

// NewService creates a new ingestion service
func NewService(deps Dependencies) *Service {
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(deps.Logger, nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// ServeHTTP accepts a POSTed Batch. Malformed records are rejected one by
// one; a full signal queue answers 503 so the sender can retry the rest.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Secret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(s.deps.Secret)) != 1 {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}

	var batch Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&batch); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, full := s.Ingest(batch)
	status := http.StatusOK
	if full {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.deps.Logger.Error("Failed to write ingest response", "error", err)
	}
}

// Ingest applies a batch and reports whether the signal queue overflowed.
func (s *Service) Ingest(batch Batch) (Response, bool) {
	var resp Response
	var full bool

	for i, rec := range batch.Signals {
		sig, err := s.deps.Parser.ParseSignal(rec)
		if err == nil {
			err = s.deps.Engine.Enqueue(sig)
			full = full || errors.Is(err, queue.ErrFull)
		}
		if err != nil {
			resp.reject("signals", i, err)
			continue
		}
		resp.Accepted++
	}

	for i, rec := range batch.Positions {
		pos, err := s.deps.Parser.ParsePosition(rec)
		if err == nil {
			_, err = s.deps.Engine.CheckLocation(pos.Player, pos.Dimension, pos.X, pos.Y)
		}
		if err != nil {
			resp.reject("positions", i, err)
			continue
		}
		resp.Accepted++
	}

	for i, rec := range batch.Observations {
		obs, err := s.deps.Parser.ParseObservation(rec)
		if err == nil {
			_, err = s.deps.Engine.CheckObjective(obs.Player, obs.MissionID, obs.ObjectiveID, obs.Observed)
		}
		if err != nil {
			resp.reject("observations", i, err)
			continue
		}
		resp.Accepted++
	}

	if resp.Rejected > 0 {
		s.deps.Logger.Debug("Rejected ingest records",
			"accepted", resp.Accepted,
			"rejected", resp.Rejected,
			"queueFull", full)
	}
	return resp, full
}
