package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"live-challenge-service/internal/app"
	"live-challenge-service/internal/domain"
)

// ChallengeHandler serves the operator and participant REST surface.
type ChallengeHandler struct {
	service *app.ChallengeService
	grader  *app.Grader
}

func NewChallengeHandler(service *app.ChallengeService, grader *app.Grader) *ChallengeHandler {
	return &ChallengeHandler{service: service, grader: grader}
}

// restTimeout bounds every challenge route except submit, whose grading is only
// bounded by the judge client's own per-run timeout.
const restTimeout = 60 * time.Second

func (h *ChallengeHandler) RegisterRoutes(r chi.Router) {
	// registered before /{id} so "submit" is never taken for an id
	r.Post("/submit", h.submit)

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(restTimeout))
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/start", h.transition(app.OpStart, "Challenge started"))
			r.Post("/pause", h.transition(app.OpPause, "Challenge paused"))
			r.Post("/resume", h.transition(app.OpResume, "Challenge resumed"))
			r.Post("/stop", h.transition(app.OpStop, "Challenge ended"))
			r.Get("/submissions", h.submissions)
		})
	})
}

func (h *ChallengeHandler) create(w http.ResponseWriter, r *http.Request) {
	var def domain.ChallengeDefinition
	if err := decode(r, &def); err != nil {
		respondError(w, r, err)
		return
	}
	c, err := h.service.Create(r.Context(), identityFrom(r.Context()), def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *ChallengeHandler) list(w http.ResponseWriter, r *http.Request) {
	challenges, err := h.service.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	caller := identityFrom(r.Context())
	views := make([]any, 0, len(challenges))
	for _, c := range challenges {
		views = append(views, viewFor(caller, c))
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *ChallengeHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewFor(identityFrom(r.Context()), c))
}

func (h *ChallengeHandler) update(w http.ResponseWriter, r *http.Request) {
	var def domain.ChallengeDefinition
	if err := decode(r, &def); err != nil {
		respondError(w, r, err)
		return
	}
	c, err := h.service.Update(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *ChallengeHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Challenge deleted"})
}

func (h *ChallengeHandler) transition(op app.Op, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.service.Transition(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), op); err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, messageResponse{Message: message})
	}
}

func (h *ChallengeHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmissionRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.grader.Submit(r.Context(), identityFrom(r.Context()), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *ChallengeHandler) submissions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Leaderboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// viewFor hides test case answers and correct options from anyone who cannot operate c.
func viewFor(caller domain.Identity, c domain.Challenge) any {
	if c.CanOperate(caller) {
		return c
	}
	return c.Public()
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrValidation, err)
	}
	return nil
}
