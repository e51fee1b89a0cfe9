package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/tripsync/internal/domain"
)

// TripExistsResponse is the body of GET /trips/{tripId}/exists.
type TripExistsResponse struct {
	TripID string `json:"tripId"`
	Exists bool   `json:"exists"`
}

// GetTripExists handles GET /trips/{tripId}/exists.
// It is the HTTP twin of the websocket checkTrip event.
func (s *Server) GetTripExists(w http.ResponseWriter, r *http.Request) {
	var tripID string
	err := runtime.BindStyledParameterWithOptions("simple", "tripId", chi.URLParam(r, "tripId"), &tripID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeJSON(w, r, http.StatusUnprocessableEntity, requestBody(fmt.Sprintf("invalid tripId: %s", err)))
		return
	}

	exists, err := s.trips.Exists(r.Context(), tripID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeJSON(w, r, http.StatusUnprocessableEntity, validationBody(err))
			return
		}
		slog.ErrorContext(r.Context(), "check trip exists", "trip_id", tripID, "error", err)
		writeJSON(w, r, http.StatusInternalServerError, internalBody())
		return
	}

	writeJSON(w, r, http.StatusOK, TripExistsResponse{TripID: strings.TrimSpace(tripID), Exists: exists})
}
