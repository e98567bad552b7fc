package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vox-studio/voxserve/internal/history"
)

func (s *Server) handleUsageSnapshot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.usage.Snapshot())
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := strings.TrimSpace(r.URL.Query().Get("limit")); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondErrorParam(w, http.StatusBadRequest, "invalid_request", "limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

// hfModelDirName is the hub cache folder the default VoxCPM checkpoint
// resolves to.
const hfModelDirName = "models--openbmb--VoxCPM1.5"

type systemPathsResponse struct {
	VoicesDir    string `json:"voices_dir"`
	OutputsDir   string `json:"outputs_dir"`
	TempDir      string `json:"temp_dir"`
	ModelDir     string `json:"model_dir"`
	ModelPresent bool   `json:"model_present"`
}

func (s *Server) handleSystemPaths(w http.ResponseWriter, _ *http.Request) {
	modelDir, present := s.resolveModelDir()
	respondJSON(w, http.StatusOK, systemPathsResponse{
		VoicesDir:    absPath(s.voices.Dir()),
		OutputsDir:   absPath(s.cfg.Storage.OutputsDir),
		TempDir:      absPath(s.cfg.Storage.EffectiveTempDir()),
		ModelDir:     modelDir,
		ModelPresent: present,
	})
}

// resolveModelDir prefers the configured checkpoint directory and falls back
// to the Hugging Face hub cache location the runner downloads into. When the
// checkpoint folder is absent the cache root itself is reported, so clients
// can still open the right neighborhood.
func (s *Server) resolveModelDir() (string, bool) {
	if dir := strings.TrimSpace(s.cfg.Engine.ModelDir); dir != "" {
		return dir, dirExists(dir)
	}
	hub := strings.TrimSpace(os.Getenv("HF_HOME"))
	if hub == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		hub = filepath.Join(home, ".cache", "huggingface", "hub")
	}
	candidate := filepath.Join(hub, hfModelDirName)
	if dirExists(candidate) {
		return candidate, true
	}
	return hub, false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
