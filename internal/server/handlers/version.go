package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"
)

var (
	versionMu   sync.RWMutex
	buildInfo   = AppInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *appidentity.Identity
	plannerInfo PlannerInfo
)

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	buildInfo.Version = version
	buildInfo.Commit = commit
	buildInfo.BuildDate = buildDate
}

// AppVersionString returns the version recorded by SetVersionInfo.
func AppVersionString() string {
	versionMu.RLock()
	defer versionMu.RUnlock()
	return buildInfo.Version
}

// SetAppIdentity sets the identity whose binary name is reported.
func SetAppIdentity(identity *appidentity.Identity) {
	versionMu.Lock()
	defer versionMu.Unlock()
	appIdentity = identity
}

// SetPlannerInfo records which providers the planner was wired with.
func SetPlannerInfo(info PlannerInfo) {
	versionMu.Lock()
	defer versionMu.Unlock()
	plannerInfo = info
}

// VersionResponse is the /version body.
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Planner      PlannerInfo `json:"planner"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// AppInfo contains application version details.
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// PlannerInfo names the providers behind the planner. It never carries keys.
type PlannerInfo struct {
	LLMProvider    string `json:"llm_provider,omitempty"`
	LLMModel       string `json:"llm_model,omitempty"`
	SearchProvider string `json:"search_provider,omitempty"`
	StoreDriver    string `json:"store_driver,omitempty"`
}

// DepInfo contains dependency version information.
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo contains runtime environment information.
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler reports build, planner and runtime details.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	app := buildInfo
	identity := appIdentity
	planner := plannerInfo
	versionMu.RUnlock()

	app.Name = "unknown"
	if identity != nil && identity.BinaryName != "" {
		app.Name = identity.BinaryName
	} else if len(os.Args) > 0 && os.Args[0] != "" {
		app.Name = filepath.Base(os.Args[0])
	}
	app.GoVersion = runtime.Version()

	deps := crucible.GetVersion()
	response := VersionResponse{
		App:          app,
		Planner:      planner,
		Dependencies: DepInfo{Gofulmen: deps.Gofulmen, Crucible: deps.Crucible},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
