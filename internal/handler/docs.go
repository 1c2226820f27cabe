package handler

import (
	"fmt"
	"net/http"

	"github.com/jbogacz/beacon-relay-gateway/internal/model"
	"github.com/jbogacz/beacon-relay-gateway/internal/schema"
)

type docsResponse struct {
	Endpoint      string            `json:"endpoint"`
	Method        string            `json:"method"`
	Description   string            `json:"description"`
	EventTypes    []model.EventType `json:"eventTypes"`
	Strict        bool              `json:"strict"`
	Schema        map[string]any    `json:"schema"`
	Examples      []map[string]any  `json:"examples"`
	BatchEndpoint string            `json:"batchEndpoint"`
	BatchSchema   map[string]any    `json:"batchSchema"`
}

// describe serves the schema the validator was compiled from.
func (h *Handler) describe(w http.ResponseWriter, _ *http.Request) {
	s := h.validator.Schema()
	types := s.EventTypes()
	h.writeJSON(w, http.StatusOK, docsResponse{
		Endpoint:      routeEvents,
		Method:        http.MethodPost,
		Description:   fmt.Sprintf("Process beacon proximity events (%s)", joinTypes(types)),
		EventTypes:    types,
		Strict:        s.Strict(),
		Schema:        s.Document(),
		Examples:      []map[string]any{schema.Example()},
		BatchEndpoint: routeBatch,
		BatchSchema:   s.BatchDocument(),
	})
}
