package api

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports liveness plus coarse host pressure so an operator
// can tell a struggling box from a struggling engine.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"wsClients": s.broadcaster.ClientCount(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memUsedPercent"] = round1(vm.UsedPercent)
	}
	if avg, err := load.Avg(); err == nil {
		resp["load1"] = avg.Load1
	}

	writeJSON(w, http.StatusOK, resp)
}
