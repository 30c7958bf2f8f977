package channel

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/getdoover/digital-matter/core/logger"
)

// API exposes a Store, Directory and ConnectionReporter over REST. It
// serves the routes the cloudapi client expects, which makes a local store
// a drop-in replacement for the hosted channel system.
type API struct {
	store     Store
	directory Directory
	reporter  ConnectionReporter
}

// MustNewAPI creates the REST routes on the router. Directory and reporter
// are optional; their routes respond with 501 when absent.
func MustNewAPI(router *mux.Router, store Store, directory Directory, reporter ConnectionReporter) *API {
	if router == nil {
		panic("please specify a router")
	}
	if store == nil {
		panic("please specify a store")
	}
	a := &API{store: store, directory: directory, reporter: reporter}

	router.HandleFunc("/agents/{agent}/channels/{name}/aggregate", a.getAggregate).Methods(http.MethodGet)
	router.HandleFunc("/agents/{agent}/channels/{name}/messages", a.postMessage).Methods(http.MethodPost)
	router.HandleFunc("/agents/{agent}/channels/{name}/messages", a.getMessages).Methods(http.MethodGet)
	router.HandleFunc("/agents", a.listAgents).Methods(http.MethodGet)
	router.HandleFunc("/agents/{agent}/connection_ping", a.postPing).Methods(http.MethodPost)
	return a
}

// ArchiveLister lists the archived message object keys of one channel.
type ArchiveLister interface {
	ListArchived(ctx context.Context, agentID, name string) ([]string, error)
}

// AddArchiveRoute serves a channel's archived object keys on GET
// /agents/{agent}/channels/{name}/archive.
func AddArchiveRoute(router *mux.Router, lister ArchiveLister) {
	router.HandleFunc("/agents/{agent}/channels/{name}/archive", func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		keys, err := lister.ListArchived(r.Context(), params["agent"], params["name"])
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Error("cannot list archive")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		writeJSON(w, http.StatusOK, keys)
	}).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	encoded, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(encoded)
}

func (a *API) getAggregate(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	aggregate, err := a.store.GetAggregate(r.Context(), params["agent"], params["name"])
	if err == ErrNotFound {
		http.Error(w, "no such channel", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("cannot read aggregate")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, aggregate)
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	var body struct {
		Payload Document `json:"payload"`
		SaveLog bool     `json:"save_log"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Payload == nil {
		http.Error(w, "invalid message body", http.StatusBadRequest)
		return
	}
	err := a.store.Publish(r.Context(), params["agent"], params["name"], body.Payload, body.SaveLog)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("cannot publish")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getMessages(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	query := r.URL.Query()
	start, err := time.Parse(time.RFC3339, query.Get("start"))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, query.Get("end"))
	if err != nil {
		http.Error(w, "invalid end", http.StatusBadRequest)
		return
	}
	messages, err := a.store.MessagesInWindow(r.Context(), params["agent"], params["name"], start, end)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("cannot read messages")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	if a.directory == nil {
		http.Error(w, "no agent directory", http.StatusNotImplemented)
		return
	}
	agents, err := a.directory.ListAgents(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("cannot list agents")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (a *API) postPing(w http.ResponseWriter, r *http.Request) {
	if a.reporter == nil {
		http.Error(w, "no connection reporter", http.StatusNotImplemented)
		return
	}
	params := mux.Vars(r)
	var body struct {
		OnlineAt  time.Time        `json:"online_at"`
		Status    ConnectionStatus `json:"connection_status"`
		OfflineAt time.Time        `json:"offline_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid ping body", http.StatusBadRequest)
		return
	}
	err := a.reporter.PingConnection(r.Context(), params["agent"], body.OnlineAt, body.Status, body.OfflineAt)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("cannot record ping")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
