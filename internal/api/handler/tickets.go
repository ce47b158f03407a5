package handler

import (
	"net/http"

	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/auth"
	"github.com/d9705996/helpdesk/internal/ticket"
)

// TicketHandler handles /api/v1/tickets routes. Every route runs behind
// RequireAuth and is scoped to the caller's organisation.
type TicketHandler struct {
	store  *ticket.Store
	render *respond.Renderer
}

// NewTicketHandler creates a TicketHandler.
func NewTicketHandler(store *ticket.Store, render *respond.Renderer) *TicketHandler {
	return &TicketHandler{store: store, render: render}
}

type ticketBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type listResponse struct {
	Message    string             `json:"message"`
	Tickets    []ticket.View      `json:"tickets"`
	Pagination respond.Pagination `json:"pagination"`
}

// List handles GET /api/v1/tickets.
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if id == nil {
		h.render.Error(w, r, auth.ErrAuthRequired)
		return
	}
	f := ticket.Filter{
		OrganisationID: id.OrganisationID,
		Limit:          queryInt(r, "limit", ticket.DefaultLimit),
		Offset:         queryInt(r, "offset", 0),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := ticket.ParseStatus(s)
		if err != nil {
			h.render.Error(w, r, err)
			return
		}
		f.Status = status
	}
	views, total, err := h.store.List(r.Context(), f)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	if views == nil {
		views = []ticket.View{}
	}
	limit, offset := ticket.Page(f.Limit, f.Offset)
	respond.JSON(w, http.StatusOK, listResponse{
		Message:    "Tickets retrieved successfully",
		Tickets:    views,
		Pagination: respond.Pagination{Total: total, Limit: limit, Offset: offset},
	})
}

// Get handles GET /api/v1/tickets/{id}.
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.load(w, r, "view")
	if !ok {
		return
	}
	respond.Message(w, http.StatusOK, "Ticket retrieved successfully", map[string]any{"ticket": t})
}

// Create handles POST /api/v1/tickets. The author and organisation come from
// the caller's identity, never from the body.
func (h *TicketHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if id == nil {
		h.render.Error(w, r, auth.ErrAuthRequired)
		return
	}
	var body ticketBody
	if err := decodeJSON(r, &body); err != nil {
		h.render.Error(w, r, err)
		return
	}
	in := ticket.Input{
		Description:    body.Description,
		UserID:         id.ID,
		OrganisationID: id.OrganisationID,
	}
	if body.Title != nil {
		in.Title = *body.Title
	}
	if body.Status != nil {
		status, err := ticket.ParseStatus(*body.Status)
		if err != nil {
			h.render.Error(w, r, err)
			return
		}
		in.Status = status
	}
	t, err := h.store.Create(r.Context(), in)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.Message(w, http.StatusCreated, "Ticket created successfully", map[string]any{"ticket": t})
}

// Update handles PATCH /api/v1/tickets/{id}.
func (h *TicketHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.load(w, r, "update")
	if !ok {
		return
	}
	var body ticketBody
	if err := decodeJSON(r, &body); err != nil {
		h.render.Error(w, r, err)
		return
	}
	p := ticket.Patch{Title: body.Title, Description: body.Description}
	if body.Status != nil {
		status, err := ticket.ParseStatus(*body.Status)
		if err != nil {
			h.render.Error(w, r, err)
			return
		}
		p.Status = &status
	}
	t, err := h.store.Update(r.Context(), existing.ID, p)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "Ticket updated successfully", map[string]any{"ticket": t})
}

// Delete handles DELETE /api/v1/tickets/{id}.
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.load(w, r, "delete")
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), existing.ID); err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.NoContent(w)
}

// load fetches the ticket named by the path and checks it belongs to the
// caller's organisation. A missing ticket is reported before a foreign one.
func (h *TicketHandler) load(w http.ResponseWriter, r *http.Request, verb string) (*ticket.View, bool) {
	id := auth.IdentityFrom(r.Context())
	if id == nil {
		h.render.Error(w, r, auth.ErrAuthRequired)
		return nil, false
	}
	ticketID, err := pathID(r, "id")
	if err != nil {
		h.render.Error(w, r, err)
		return nil, false
	}
	t, err := h.store.Get(r.Context(), ticketID)
	if err != nil {
		h.render.Error(w, r, err)
		return nil, false
	}
	if err := auth.AuthorizeOrganisation(id, t.OrganisationID, verb); err != nil {
		h.render.Error(w, r, err)
		return nil, false
	}
	return t, true
}
