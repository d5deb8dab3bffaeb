package api

// NotFoundResponse is returned when no provider profile can serve a model.
type NotFoundResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ModelNotFound builds the canonical not-found payload.
func ModelNotFound() NotFoundResponse {
	return NotFoundResponse{Success: false, Error: "Model not found"}
}

// HealthResponse is served on /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Uptime    string   `json:"uptime"`
	Providers []string `json:"providers"`
}
