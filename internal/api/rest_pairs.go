package api

import (
	"net/http"
	"strings"

	"github.com/thedongcc/Tcom-sub002/internal/ports"
	"github.com/thedongcc/Tcom-sub002/internal/session"
)

type createPairRequest struct {
	PortA string `json:"portA"`
	PortB string `json:"portB"`
}

type suggestPairResponse struct {
	PortA string `json:"portA"`
	PortB string `json:"portB"`
}

func (h *RestHandler) handlePairs(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requirePairing(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Pairing.Pairs())
		return nil
	case http.MethodPost:
		return h.createPair(w, r)
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

func (h *RestHandler) handlePairByID(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requirePairing(); err != nil {
		return err
	}

	id, ok := parsePairPath(r.URL.Path)
	if !ok || id == "" {
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}

	if id == "suggest" {
		return h.suggestPair(w, r)
	}

	if r.Method != http.MethodDelete {
		return methodNotAllowed(w, "DELETE")
	}
	if removeErr := h.Pairing.RemovePair(r.Context(), id); removeErr != nil {
		return faultError(removeErr)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *RestHandler) createPair(w http.ResponseWriter, r *http.Request) *apiError {
	var request createPairRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}

	pair, createErr := h.Pairing.CreatePair(r.Context(), request.PortA, request.PortB)
	if createErr != nil {
		return faultError(createErr)
	}
	writeJSON(w, http.StatusCreated, pair)
	return nil
}

func (h *RestHandler) suggestPair(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	portA, portB, err := h.Pairing.Suggest(r.Context())
	if err != nil {
		return faultError(err)
	}
	writeJSON(w, http.StatusOK, suggestPairResponse{PortA: portA, PortB: portB})
	return nil
}

func (h *RestHandler) handlePorts(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	options := ports.ListOptions{BusyPaths: h.busyPaths()}
	if h.Pairing != nil {
		options.Pairs = h.Pairing.Pairs()
	}
	list := h.ListPorts
	if list == nil {
		list = ports.List
	}
	listing, err := list(options)
	if err != nil {
		return faultError(err)
	}
	writeJSON(w, http.StatusOK, listing)
	return nil
}

// busyPaths collects the port paths held open by connected sessions. A
// monitor session holds both the physical device and its side of the pair.
func (h *RestHandler) busyPaths() map[string]bool {
	if h.Registry == nil {
		return nil
	}

	busy := make(map[string]bool)
	for _, info := range h.Registry.List() {
		if !info.Connected {
			continue
		}
		target, err := h.Registry.Get(info.ID)
		if err != nil {
			continue
		}
		config := target.Config()
		switch config.Kind {
		case session.KindSerial:
			if config.Serial != nil && config.Serial.Path != "" {
				busy[config.Serial.Path] = true
			}
		case session.KindMonitor:
			if config.Monitor != nil {
				if config.Monitor.PhysicalPort != "" {
					busy[config.Monitor.PhysicalPort] = true
				}
				if config.Monitor.PairedPort != "" {
					busy[config.Monitor.PairedPort] = true
				}
			}
		}
	}
	return busy
}

func parsePairPath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/api/pairs/")
	if trimmed == path {
		return "", false
	}

	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
