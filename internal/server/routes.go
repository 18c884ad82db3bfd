package server

import "net/http"

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	mux.HandleFunc("/api/topics", s.routeTopics)
	mux.HandleFunc("/api/processing-status", s.handleProcessingStatus)
	mux.HandleFunc("/api/processing-status/chart.png", s.handleStatusChart)

	mux.HandleFunc("/api/admin/login", s.handleAdminLogin)
	mux.Handle("/api/admin/requeue", adminJWTMiddleware(s.app.Config)(http.HandlerFunc(s.handleAdminRequeue)))
}

// routeTopics dispatches POST /api/topics (submit) and GET /api/topics
// (paginated listing) on the same path per method.
func (s *Server) routeTopics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTopics(w, r)
	case http.MethodGet:
		s.handleListTopics(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
