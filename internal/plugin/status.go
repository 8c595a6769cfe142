package plugin

import (
	"sort"
	"time"
)

// Snapshot is a point-in-time view of plugin runtime state.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Plugins []Status  `json:"plugins"`
}

type Status struct {
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Running  bool     `json:"running"`
	Bindings []string `json:"bindings,omitempty"`
	// LastErr is the most recent init/config/start failure, cleared on a
	// successful start or config apply.
	LastErr string `json:"last_err,omitempty"`
}

func (s Snapshot) Find(name string) (Status, bool) {
	for _, st := range s.Plugins {
		if st.Name == name {
			return st, true
		}
	}
	return Status{}, false
}

func sortStatuses(in []Status) {
	sort.Slice(in, func(i, j int) bool { return in[i].Name < in[j].Name })
}
