// Package health reports liveness together with the state of the delivery
// pipeline.
package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"auditrelay/pkg/platform/audit/publisher"
	"auditrelay/pkg/platform/httputil"
)

type BufferSizer interface {
	Size() int
}

type PublisherStater interface {
	State() publisher.ConnState
}

type ConsumerStater interface {
	Connected() bool
}

// Response is the /health body. The endpoint always answers 200 while the
// process is serving; pipeline fields are informational.
type Response struct {
	Status            string `json:"status"`
	BufferSize        int    `json:"buffer_size"`
	PublisherState    string `json:"publisher_state"`
	ConsumerConnected bool   `json:"consumer_connected"`
}

type Handler struct {
	buffer    BufferSizer
	publisher PublisherStater
	consumer  ConsumerStater
}

func New(buffer BufferSizer, publisher PublisherStater, consumer ConsumerStater) *Handler {
	return &Handler{buffer: buffer, publisher: publisher, consumer: consumer}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, Response{
		Status:            "ok",
		BufferSize:        h.buffer.Size(),
		PublisherState:    h.publisher.State().String(),
		ConsumerConnected: h.consumer.Connected(),
	})
}
