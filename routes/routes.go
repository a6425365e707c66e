package routes

import (
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tauict/feedback/app"
	"github.com/tauict/feedback/routes/middlewares"
)

var validate = validator.New()

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	// public surface: active form, office list, feedback intake
	api.Get("/form", PublicGetActiveForm(app))
	api.Get("/offices", PublicListOffices(app))
	api.Post("/feedback", SubmitFeedback(app))

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app.TokenSecret))

		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get("/forms/active", GetActiveForm(app))
		r.Put("/forms/active", SetActiveForm(app))

		r.Post("/offices", CreateOffice(app))
		r.Get(`/offices/{id:^\d+$}/metrics`, GetOfficeMetrics(app))
		r.Get(`/offices/{id:^\d+$}/evaluations`, GetOfficeEvaluations(app))

		r.Post(`/submissions/{id:^\d+$}/reply`, SendReply(app))
		r.Get(`/submissions/{id:^\d+$}/emails`, GetSubmissionEmailLog(app))
	})

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}
