package w1kit

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/w1kit/drivers"
)

const httpTimeout = 5 * time.Second
const maxReadBodyBytes = 1 << 16

// HttpServer answers reads over http, every request takes its own snapshot.
type HttpServer struct {
	source drivers.DeviceSource
	node   *Node
	logger *log.Logger
	server *http.Server
}

func NewHttpServer(addr string, source drivers.DeviceSource, node *Node) *HttpServer {
	if node == nil {
		node = &Node{}
	}
	hs := &HttpServer{
		source: source,
		node:   node,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "HttpServer: ",
			Level:  log.GetLevel(),
		}),
	}

	hs.server = &http.Server{
		Addr:              addr,
		Handler:           hs.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      2 * httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}
	return hs
}

func (hs *HttpServer) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/devices", hs.handleDevices)
	router.GET("/read", hs.handleReadQuery)
	router.POST("/read", hs.handleReadBody)
	return router
}

func (hs *HttpServer) ListenAndServe() error {
	hs.logger.Info("listening", "addr", hs.server.Addr)
	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (hs *HttpServer) Close() error {
	return hs.server.Close()
}

func (hs *HttpServer) handleDevices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	devices, err := hs.source.Devices(r.Context())
	if err != nil {
		hs.writeError(w, err)
		return
	}

	writeJson(w, devices)
}

func (hs *HttpServer) handleReadQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	msg := Message{}
	if query.Has("topic") {
		msg["topic"] = query.Get("topic")
	}
	if query.Has("array") {
		array, _ := strconv.ParseBool(query.Get("array"))
		msg["array"] = array
	}

	hs.read(w, r, msg)
}

func (hs *HttpServer) handleReadBody(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	msg := Message{}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReadBodyBytes)).Decode(&msg)
	if err != nil {
		http.Error(w, "body must be a json object", http.StatusBadRequest)
		return
	}

	hs.read(w, r, msg)
}

func (hs *HttpServer) read(w http.ResponseWriter, r *http.Request, msg Message) {
	msgs, err := Read(r.Context(), hs.source, hs.node.Request(msg))
	if err != nil {
		hs.writeError(w, err)
		return
	}

	writeJson(w, msgs)
}

func (hs *HttpServer) writeError(w http.ResponseWriter, err error) {
	hs.logger.Error("read failed", "err", err)

	status := http.StatusInternalServerError
	if errors.Is(err, drivers.ErrBulkReadTimeout) {
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

func writeJson(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
