package httpapi

import (
	"net/http"

	"github.com/John-Robertt/submerge-go/internal/callback"
)

func NewMux(opt Options) *http.ServeMux {
	opt = opt.withDefaults()
	h := subHandler{opt: opt, log: opt.Logger.WithField("component", "httpapi")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /metrics", handleMetrics)
	mux.HandleFunc("GET "+callback.Path, h.handleCallback)
	mux.HandleFunc("GET /{token}", h.handleSubscription)
	mux.HandleFunc("GET /{token}/{profile}", h.handleSubscription)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}
