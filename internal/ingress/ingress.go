// Package ingress exposes the two inbound RPCs of the cascade engine as
// JSON-over-HTTP endpoints: a container observation batch and an explicit
// state-change request. Handlers are stateless: they decode the wire DTO,
// normalize raw status strings, generate a transition id when the caller
// omitted one, and call straight into the cascade engine. They hold no
// locks and retain no state between requests.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetform/cascade/internal/cascade"
	"github.com/fleetform/cascade/internal/rules"
	"github.com/fleetform/cascade/internal/types"
	"github.com/fleetform/cascade/pkg/logging"
	pkgstrings "github.com/fleetform/cascade/pkg/strings"
)

// maxSourceLen bounds the caller-supplied "source" field before it is
// placed in an audit log line; callers are other internal services and
// should never send anything this long, but audit output must not be
// unbounded by an untrusted field.
const maxSourceLen = 120

// Engine is the subset of the cascade engine the ingress calls into.
type Engine interface {
	ProcessObservationBatch(ctx context.Context, batch []cascade.NormalizedObservation) ([]types.TransitionResult, error)
	ProcessStateChangeRequest(ctx context.Context, req types.StateChangeRequest) types.TransitionResult
}

// RequestTimeout bounds how long a single ingress RPC may take before the
// request context is canceled.
const RequestTimeout = 15 * time.Second

// NewRouter builds the chi router serving the ingress RPCs, a health check,
// and a Prometheus metrics endpoint.
func NewRouter(engine Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	h := &handlers{engine: engine}

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/observations", h.postObservations)
	r.Post("/v1/state-changes", h.postStateChange)

	return r
}

type handlers struct {
	engine Engine
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// observationContainerDTO is one entry of an observation batch request.
type observationContainerDTO struct {
	ID        string `json:"id"`
	ModelName string `json:"model_name"`
	Status    string `json:"status"`
}

type observationBatchRequest struct {
	Containers []observationContainerDTO `json:"containers"`
}

type transitionResultDTO struct {
	TransitionID string `json:"transition_id"`
	Outcome      string `json:"outcome"`
	Message      string `json:"message"`
}

type observationBatchResponse struct {
	Results []transitionResultDTO `json:"results"`
}

func (h *handlers) postObservations(w http.ResponseWriter, r *http.Request) {
	var req observationBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	batch := make([]cascade.NormalizedObservation, 0, len(req.Containers))
	for _, c := range req.Containers {
		if c.ID == "" || c.ModelName == "" {
			logging.Warn("Ingress", "dropping malformed observation entry: %+v", c)
			continue
		}
		batch = append(batch, cascade.NormalizedObservation{
			ContainerID: c.ID,
			ModelName:   c.ModelName,
			Status:      rules.NormalizeStatus(c.Status),
		})
	}

	results, err := h.engine.ProcessObservationBatch(r.Context(), batch)
	if err != nil {
		logging.Error("Ingress", err, "observation batch processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := observationBatchResponse{Results: make([]transitionResultDTO, len(results))}
	for i, res := range results {
		resp.Results[i] = transitionResultDTO{
			TransitionID: res.TransitionID,
			Outcome:      string(res.Outcome),
			Message:      res.Message,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type stateChangeRequestDTO struct {
	ResourceKind      string `json:"resource_kind"`
	ResourceName      string `json:"resource_name"`
	TargetState       string `json:"target_state"`
	TransitionID      string `json:"transition_id"`
	OriginTimestampNs int64  `json:"origin_timestamp_ns"`
	Source            string `json:"source"`
}

func (h *handlers) postStateChange(w http.ResponseWriter, r *http.Request) {
	var dto stateChangeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if dto.ResourceKind != string(types.ResourceModel) && dto.ResourceKind != string(types.ResourcePackage) {
		writeError(w, http.StatusBadRequest, "resource_kind must be Model or Package")
		return
	}

	transitionID := dto.TransitionID
	if transitionID == "" {
		transitionID = uuid.NewString()
	}

	logging.Audit(logging.AuditEvent{
		Action:       "state_change_request",
		Outcome:      "received",
		Resource:     dto.ResourceKind + "/" + dto.ResourceName,
		TransitionID: transitionID,
		Details:      "source=" + pkgstrings.TruncateDescription(dto.Source, maxSourceLen),
	})

	result := h.engine.ProcessStateChangeRequest(r.Context(), types.StateChangeRequest{
		ResourceKind:      types.ResourceKind(dto.ResourceKind),
		ResourceName:      dto.ResourceName,
		TargetState:       dto.TargetState,
		TransitionID:      transitionID,
		OriginTimestampNs: dto.OriginTimestampNs,
		Source:            dto.Source,
	})

	writeJSON(w, http.StatusOK, transitionResultDTO{
		TransitionID: result.TransitionID,
		Outcome:      string(result.Outcome),
		Message:      result.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
