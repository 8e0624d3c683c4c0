package main

import (
	"net/http"

	"github.com/dvloznov/statement-categorizer/internal/api/handlers"
	"github.com/dvloznov/statement-categorizer/internal/api/middleware"
	"github.com/rs/zerolog"
)

func newRouter(statements *handlers.StatementsHandler, tokens *handlers.TokensHandler, jobsHandler *handlers.JobsHandler, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Statement endpoints
	mux.HandleFunc("POST /api/statements/process", statements.Process)
	mux.HandleFunc("POST /api/statements/process-base64", statements.ProcessBase64)
	mux.HandleFunc("POST /api/statements/process-url", statements.ProcessURL)

	// Token counting
	mux.HandleFunc("POST /api/tokens/count", tokens.Count)

	// Jobs endpoints
	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		jobsHandler.GetJob(w, r, r.PathValue("id"))
	})

	// Health check endpoint
	mux.HandleFunc("GET /health", handlers.Health)

	return middleware.Instrument(middleware.Chain(mux, log), "statement-api")
}
