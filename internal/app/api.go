package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/polyvox/internal/soundbank"
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

// maxBodyBytes caps request bodies of the control API.
const maxBodyBytes = 64 << 10

type playRequest struct {
	Event    string     `json:"event"`
	Position audio.Vec3 `json:"position"`
}

type voiceRef struct {
	Index int      `json:"index"`
	ID    voice.ID `json:"id"`
}

type errorBody struct {
	Error string `json:"error"`
}

// registerAPI adds the control routes that let tools outside the game
// process trigger and stop events.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /play", a.handlePlay)
	mux.HandleFunc("POST /stop", a.handleStop)
	mux.HandleFunc("PUT /listener", a.handleListener)
}

func (a *App) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ref, err := a.engine.Play(r.Context(), req.Event, req.Position)
	switch {
	case errors.Is(err, soundbank.ErrUnknownEvent):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, voiceRef{Index: ref.Index, ID: ref.ID})
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	var req voiceRef
	if !decodeBody(w, r, &req) {
		return
	}
	a.engine.Stop(voice.Ref{Index: req.Index, ID: req.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleListener(w http.ResponseWriter, r *http.Request) {
	var pos audio.Vec3
	if !decodeBody(w, r, &pos) {
		return
	}
	a.engine.SetListener(pos)
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
