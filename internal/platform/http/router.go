package http

import (
	"encoding/json"
	stdhttp "net/http"
	"os"
	"strings"
	"sync"

	"github.com/faeln1/go-whatsapp-council/internal/app/controllers"
	"github.com/faeln1/go-whatsapp-council/internal/platform/metrics"
	"github.com/faeln1/go-whatsapp-council/internal/platform/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"
	yaml "gopkg.in/yaml.v3"
)

type RouterConfig struct {
	GovernanceCtrl  *controllers.GovernanceController
	CircleCtrl      *controllers.CircleController
	LeaderboardCtrl *controllers.LeaderboardController
	SchedulerCtrl   *controllers.SchedulerController
	SessionCtrl     *controllers.SessionController
	Logger          waLog.Logger
	// Communities lists the configured community ids. Requests for any
	// other id are answered with 404.
	Communities   []string
	SwaggerEnable bool
	DocsPath      string
	MasterToken   string
}

func NewRouter(cfg RouterConfig) stdhttp.Handler {
	if cfg.Logger == nil {
		cfg.Logger = waLog.Noop
	}
	if cfg.DocsPath == "" {
		cfg.DocsPath = "docs/openapi.yaml"
	}
	mux := stdhttp.NewServeMux()

	known := make(map[string]bool, len(cfg.Communities))
	for _, id := range cfg.Communities {
		known[id] = true
	}

	mux.HandleFunc("/", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/" {
			w.WriteHeader(stdhttp.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "endpoint not found"})
			return
		}
		if r.Method != stdhttp.MethodGet {
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
			json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"name":        "Go WhatsApp Council",
			"version":     "0.1.0",
			"description": "Quorum voting, weekly ballots and leaderboards for WhatsApp communities",
			"communities": len(cfg.Communities),
			"endpoints": map[string]string{
				"health":        "/health",
				"metrics":       "/metrics",
				"documentation": "/docs",
				"openapi_yaml":  "/openapi.yaml",
				"openapi_json":  "/openapi.json",
			},
		})
	})

	mux.HandleFunc("/health", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.Handle("/metrics", metrics.Handler())

	splitSegments := func(path string) []string {
		raw := strings.Split(path, "/")
		out := make([]string, 0, len(raw))
		for _, segment := range raw {
			if segment == "" {
				continue
			}
			out = append(out, controllers.DecodePathSegment(segment))
		}
		return out
	}

	if cfg.SwaggerEnable {
		var (
			once     sync.Once
			yamlData []byte
			yamlErr  error
		)
		loadYAML := func() ([]byte, error) {
			once.Do(func() { yamlData, yamlErr = os.ReadFile(cfg.DocsPath) })
			return yamlData, yamlErr
		}
		mux.HandleFunc("/openapi.yaml", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			data, err := loadYAML()
			if err != nil {
				w.WriteHeader(stdhttp.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
			w.Write(data)
		})
		mux.HandleFunc("/openapi.json", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			data, err := loadYAML()
			if err != nil {
				w.WriteHeader(stdhttp.StatusNotFound)
				return
			}
			var v interface{}
			if err := yaml.Unmarshal(data, &v); err != nil {
				w.WriteHeader(stdhttp.StatusInternalServerError)
				return
			}
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				w.WriteHeader(stdhttp.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Write(jsonBytes)
		})
		mux.HandleFunc("/docs", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<!DOCTYPE html><html><head><title>Council API Docs</title><link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/></head><body><div id="swagger-ui"></div><script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script><script>window.onload=()=>{SwaggerUIBundle({url:'/openapi.yaml',dom_id:'#swagger-ui'});};</script></body></html>`))
		})
	}

	auth := middleware.BearerAuth(func(token string, r *stdhttp.Request) bool {
		return cfg.MasterToken != "" && token == cfg.MasterToken
	})

	if cfg.SessionCtrl != nil {
		sessionMux := stdhttp.NewServeMux()
		sessionMux.HandleFunc("/session", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if r.Method != stdhttp.MethodGet {
				w.WriteHeader(stdhttp.StatusMethodNotAllowed)
				return
			}
			cfg.SessionCtrl.Status(w, r)
		})
		sessionMux.HandleFunc("/session/qr", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if r.Method != stdhttp.MethodGet {
				w.WriteHeader(stdhttp.StatusMethodNotAllowed)
				return
			}
			cfg.SessionCtrl.QR(w, r)
		})
		sessionMux.HandleFunc("/session/pair", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if r.Method != stdhttp.MethodPost {
				w.WriteHeader(stdhttp.StatusMethodNotAllowed)
				return
			}
			cfg.SessionCtrl.Pair(w, r)
		})
		authenticatedSession := auth(sessionMux)
		mux.Handle("/session", authenticatedSession)
		mux.Handle("/session/", authenticatedSession)
	}

	if cfg.SchedulerCtrl != nil {
		mux.Handle("/scheduler/tick", auth(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if r.Method != stdhttp.MethodPost {
				w.WriteHeader(stdhttp.StatusMethodNotAllowed)
				return
			}
			cfg.SchedulerCtrl.Tick(w, r)
		})))
	}

	communityMux := stdhttp.NewServeMux()
	communityMux.HandleFunc("/", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		segments := splitSegments(strings.TrimPrefix(r.URL.EscapedPath(), "/communities"))
		if len(segments) == 0 {
			if r.Method != stdhttp.MethodGet {
				w.WriteHeader(stdhttp.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			ids := cfg.Communities
			if ids == nil {
				ids = []string{}
			}
			json.NewEncoder(w).Encode(ids)
			return
		}
		communityID := segments[0]
		if len(known) > 0 && !known[communityID] {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(stdhttp.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown community"})
			return
		}
		if len(segments) < 2 {
			w.WriteHeader(stdhttp.StatusNotFound)
			return
		}
		routeCommunity(w, r, cfg, communityID, segments[1:])
	})

	authenticatedCommunities := auth(communityMux)
	mux.Handle("/communities", authenticatedCommunities)
	mux.Handle("/communities/", authenticatedCommunities)

	var handler stdhttp.Handler = mux
	handler = middleware.Logging(cfg.Logger)(handler)
	handler = middleware.CORS(handler)
	return handler
}

// routeCommunity dispatches /communities/{id}/{sub...}.
func routeCommunity(w stdhttp.ResponseWriter, r *stdhttp.Request, cfg RouterConfig, communityID string, sub []string) {
	gov := cfg.GovernanceCtrl
	method := r.Method
	switch sub[0] {
	case "recommendations":
		if gov == nil || len(sub) != 1 {
			break
		}
		switch method {
		case stdhttp.MethodGet:
			gov.ListRecommendations(w, r, communityID)
		case stdhttp.MethodPost:
			gov.Recommend(w, r, communityID)
		default:
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
		}
		return
	case "exclusions":
		if gov == nil || len(sub) != 1 {
			break
		}
		switch method {
		case stdhttp.MethodGet:
			gov.ListExclusions(w, r, communityID)
		case stdhttp.MethodPost:
			gov.RequestExclusion(w, r, communityID)
		default:
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
		}
		return
	case "proposals":
		if gov == nil {
			break
		}
		switch {
		case len(sub) == 1 && method == stdhttp.MethodGet:
			gov.ListProposals(w, r, communityID)
		case len(sub) == 1 && method == stdhttp.MethodPost:
			gov.ProposeEvent(w, r, communityID)
		case len(sub) == 2 && method == stdhttp.MethodGet:
			gov.GetProposal(w, r, communityID, sub[1])
		case len(sub) == 3 && sub[2] == "ratings" && method == stdhttp.MethodPost:
			gov.Rate(w, r, communityID, sub[1])
		default:
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
		}
		return
	case "decisions":
		if gov == nil || method != stdhttp.MethodGet {
			break
		}
		switch len(sub) {
		case 1:
			gov.DecisionHistory(w, r, communityID)
			return
		case 2:
			gov.Decision(w, r, communityID, sub[1])
			return
		}
	case "votes":
		if gov == nil || len(sub) != 1 {
			break
		}
		if method != stdhttp.MethodPost {
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
			return
		}
		gov.Vote(w, r, communityID)
		return
	case "participants":
		if gov == nil || len(sub) != 3 || sub[2] != "leave" {
			break
		}
		if method != stdhttp.MethodPost {
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
			return
		}
		gov.ParticipantLeft(w, r, communityID, sub[1])
		return
	case "ballot":
		if gov == nil {
			break
		}
		switch {
		case len(sub) == 1 && method == stdhttp.MethodGet:
			gov.CurrentBallot(w, r, communityID)
		case len(sub) == 2 && sub[1] == "votes" && method == stdhttp.MethodPost:
			gov.CastBallotVote(w, r, communityID)
		case len(sub) == 3 && sub[1] == "votes" && method == stdhttp.MethodDelete:
			gov.RetractBallotVote(w, r, communityID, sub[2])
		default:
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
		}
		return
	case "circles":
		circles := cfg.CircleCtrl
		if circles == nil {
			break
		}
		switch {
		case len(sub) == 1 && method == stdhttp.MethodGet:
			circles.List(w, r, communityID)
		case len(sub) == 1 && method == stdhttp.MethodPost:
			circles.Create(w, r, communityID)
		case len(sub) == 2 && sub[1] == "leave" && method == stdhttp.MethodPost:
			circles.Leave(w, r, communityID)
		case len(sub) == 2 && method == stdhttp.MethodGet:
			circles.Get(w, r, communityID, sub[1])
		case len(sub) == 3 && sub[2] == "members" && method == stdhttp.MethodPost:
			circles.Join(w, r, communityID, sub[1])
		default:
			w.WriteHeader(stdhttp.StatusMethodNotAllowed)
		}
		return
	case "leaderboard":
		if cfg.LeaderboardCtrl == nil || len(sub) != 1 || method != stdhttp.MethodGet {
			break
		}
		cfg.LeaderboardCtrl.Leaderboard(w, r, communityID)
		return
	case "calendar":
		if cfg.LeaderboardCtrl == nil || len(sub) != 1 || method != stdhttp.MethodGet {
			break
		}
		cfg.LeaderboardCtrl.Calendar(w, r, communityID)
		return
	case "checkpoints":
		if cfg.SchedulerCtrl == nil || len(sub) != 1 || method != stdhttp.MethodGet {
			break
		}
		cfg.SchedulerCtrl.Checkpoints(w, r, communityID)
		return
	}
	w.WriteHeader(stdhttp.StatusNotFound)
}
