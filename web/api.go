package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"ranging-go/calibration"
)

type startRequest struct {
	Distance float64 `json:"distance"`
}

type completeRequest struct {
	Comment string `json:"comment"`
}

type calibrationView struct {
	Progress calibration.Progress `json:"progress"`
	Results  []calibration.Result `json:"results"`
}

type completeResponse struct {
	Result    calibration.Result `json:"result"`
	Persisted bool               `json:"persisted"`
	Error     string             `json:"error,omitempty"`
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.engine.Peers())
	})
	mux.HandleFunc("GET /api/model", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.engine.ModelInfo())
	})
	mux.HandleFunc("GET /api/calibration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, calibrationView{
			Progress: s.engine.CalibrationProgress(),
			Results:  s.engine.CalibrationResults(),
		})
	})
	mux.HandleFunc("POST /api/calibration/start", s.handleStart)
	mux.HandleFunc("POST /api/calibration/complete", s.handleComplete)
	mux.HandleFunc("POST /api/calibration/cancel", func(w http.ResponseWriter, r *http.Request) {
		s.engine.CancelCalibration()
		writeJSON(w, http.StatusOK, s.engine.CalibrationProgress())
	})
	mux.HandleFunc("POST /api/calibration/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := s.engine.ClearCalibration(); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, s.engine.ModelInfo())
	})
	mux.HandleFunc("DELETE /api/calibration/{distance}", s.handleRemove)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.StartCalibration(req.Distance); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.CalibrationProgress())
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	res, err := s.engine.CompleteCalibration(req.Comment)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, completeResponse{Result: res, Persisted: true})
	case errors.Is(err, calibration.ErrPersist):
		// the point is in the model, only the save failed
		writeJSON(w, http.StatusOK, completeResponse{Result: res, Error: err.Error()})
	default:
		writeError(w, statusFor(err), err)
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	d, err := strconv.ParseFloat(r.PathValue("distance"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.RemoveCalibration(d); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.ModelInfo())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calibration.ErrNoDistance):
		return http.StatusBadRequest
	case errors.Is(err, calibration.ErrNotReady):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
