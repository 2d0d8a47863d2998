package fakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/model"
)

// SessionCookie carries the session token over HTTP.
const SessionCookie = "session"

// Handler serves the task server's REST API. Errors are JSON {"error": msg}
// with 401 (unauthorized), 404 (not found), 400 (validation) or 503 (network).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(OpLogin, s.handleLogin)
	mux.HandleFunc(OpFetchUser, func(w http.ResponseWriter, r *http.Request) {
		p, err := s.fetchUser(r.Context(), token(r))
		reply(w, http.StatusOK, p, err)
	})
	mux.HandleFunc(OpUpdateProfile, func(w http.ResponseWriter, r *http.Request) {
		var body model.ProfileUpdate
		if !decode(w, r, OpUpdateProfile, &body) {
			return
		}
		err := s.updateProfile(r.Context(), token(r), body.CurrentPassword, body.Patch)
		reply(w, http.StatusNoContent, nil, err)
	})
	mux.HandleFunc(OpDeleteProfile, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CurrentPassword string `json:"current_password"`
		}
		if !decode(w, r, OpDeleteProfile, &body) {
			return
		}
		err := s.deleteProfile(r.Context(), token(r), body.CurrentPassword)
		if err == nil {
			clearSession(w)
		}
		reply(w, http.StatusNoContent, nil, err)
	})
	mux.HandleFunc(OpLogout, func(w http.ResponseWriter, r *http.Request) {
		err := s.logout(r.Context(), token(r))
		if err == nil {
			clearSession(w)
		}
		reply(w, http.StatusNoContent, nil, err)
	})
	mux.HandleFunc(OpFetchTasks, s.handleFetchTasks)
	mux.HandleFunc(OpCreateTask, func(w http.ResponseWriter, r *http.Request) {
		var body model.NewTask
		if !decode(w, r, OpCreateTask, &body) {
			return
		}
		t, err := s.createTask(r.Context(), token(r), body)
		reply(w, http.StatusCreated, t, err)
	})
	mux.HandleFunc(OpUpdateTask, func(w http.ResponseWriter, r *http.Request) {
		var body model.TaskPatch
		if !decode(w, r, OpUpdateTask, &body) {
			return
		}
		t, err := s.updateTask(r.Context(), token(r), r.PathValue("id"), body)
		reply(w, http.StatusOK, t, err)
	})
	mux.HandleFunc(OpDeleteTask, func(w http.ResponseWriter, r *http.Request) {
		err := s.deleteTask(r.Context(), token(r), r.PathValue("id"))
		reply(w, http.StatusNoContent, nil, err)
	})
	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, OpLogin, &body) {
		return
	}
	tok, err := s.login(r.Context(), body.Username, body.Password)
	if err == nil {
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: tok, Path: "/", HttpOnly: true})
	}
	reply(w, http.StatusNoContent, nil, err)
}

func (s *Server) handleFetchTasks(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := model.PageQuery{Phrase: qs.Get("phrase")}
	if raw, ok := qs["state"]; ok {
		q.States = []model.State{}
		for _, v := range raw {
			if v == "" {
				continue
			}
			st, err := model.ParseState(v)
			if err != nil {
				writeErr(w, &api.Error{Kind: api.KindValidation, Op: OpFetchTasks, Msg: err.Error()})
				return
			}
			q.States = append(q.States, st)
		}
	}
	limit, err1 := atoiOr(qs.Get("limit"), 0)
	offset, err2 := atoiOr(qs.Get("offset"), 0)
	if err := errors.Join(err1, err2); err != nil {
		writeErr(w, &api.Error{Kind: api.KindValidation, Op: OpFetchTasks, Msg: err.Error()})
		return
	}
	page, err := s.fetchTasks(r.Context(), token(r), q, limit, offset)
	reply(w, http.StatusOK, page, err)
}

func atoiOr(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func token(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})
}

func decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErr(w, &api.Error{Kind: api.KindValidation, Op: op, Msg: "malformed body: " + err.Error()})
		return false
	}
	return true
}

func reply(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		writeErr(w, err)
		return
	}
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch api.KindOf(err) {
	case api.KindUnauthorized:
		status = http.StatusUnauthorized
	case api.KindNotFound:
		status = http.StatusNotFound
	case api.KindValidation:
		status = http.StatusBadRequest
	case api.KindNetwork:
		status = http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) {
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	var ae *api.Error
	if errors.As(err, &ae) && ae.Msg != "" {
		msg = ae.Msg
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
