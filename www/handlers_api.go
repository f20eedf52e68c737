package www

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	user, err := h.engine.DB().GetAdminUser(creds.Username)
	if err != nil || !checkPassword(user.PasswordHash, creds.Password) {
		h.jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = true
	session.Values["username"] = creds.Username
	if err := session.Save(r, w); err != nil {
		h.jsonError(w, "session error", http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = false
	delete(session.Values, "username")
	session.Save(r, w)
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	h.jsonOK(w, map[string]any{
		"node":       status,
		"draining":   h.engine.Dispatcher().Draining(),
		"sync_clock": h.engine.Sync().Clock(),
	})
}

func (h *Handlers) apiMirrors(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("include_evicted") == "1" {
		records, err := h.engine.DB().ListMirrors(true)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.jsonOK(w, records)
		return
	}
	h.jsonOK(w, h.engine.Pool().List())
}

func (h *Handlers) apiTasks(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "1" {
		h.jsonOK(w, h.engine.Dispatcher().ActiveTasks())
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	state := r.URL.Query().Get("state")
	if state != "" {
		tasks, err := h.engine.DB().ListTasksByState(state, limit)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.jsonOK(w, tasks)
		return
	}
	tasks, err := h.engine.DB().ListRecentTasks(limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, tasks)
}

func (h *Handlers) apiTaskDetail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.jsonError(w, "missing id", http.StatusBadRequest)
		return
	}
	task, err := h.engine.DB().GetTask(id)
	if err != nil {
		h.jsonError(w, "not found", http.StatusNotFound)
		return
	}
	h.jsonOK(w, task)
}

func (h *Handlers) apiPeers(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.PeerView().Peers())
}

func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "ok"}
	if err := h.engine.Backend().Ping(); err != nil {
		health["status"] = "degraded"
		health["engine"] = err.Error()
	} else {
		health["engine"] = "ok"
	}
	if h.engine.MsgClient().IsConnected() {
		health["messaging"] = "ok"
	} else {
		health["status"] = "degraded"
		health["messaging"] = "disconnected"
	}
	if err := h.engine.DB().Ping(); err != nil {
		health["status"] = "degraded"
		health["database"] = err.Error()
	} else {
		health["database"] = "ok"
	}
	h.jsonOK(w, health)
}

func (h *Handlers) apiMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	h.jsonOK(w, h.engine.Dispatcher().MessageLog().Recent(limit))
}

func (h *Handlers) apiTickets(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Ledger().Outstanding())
}

func (h *Handlers) apiDrain(w http.ResponseWriter, r *http.Request) {
	h.engine.Drain()
	h.jsonOK(w, map[string]string{"status": "draining"})
}

func (h *Handlers) apiResume(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume()
	h.jsonOK(w, map[string]string{"status": "admitting"})
}

func (h *Handlers) apiEvictMirror(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.jsonError(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := h.engine.Pool().Evict(id); err != nil {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.jsonOK(w, map[string]string{"status": "evicted", "mirror_id": id})
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
