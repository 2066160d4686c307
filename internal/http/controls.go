package httpapi

import (
	"encoding/json"
	"net/http"

	"heatsurface/broker/internal/scene"
)

// ControlDoc describes a single button or keyboard shortcut that the viewer
// exposes.
type ControlDoc struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Shortcut    string `json:"shortcut,omitempty"`
}

var controlDocs = map[scene.Action]ControlDoc{
	scene.ActionToggleRun: {
		ID:          "run-toggle",
		Label:       "Run / Pause",
		Description: "Start or pause simulated time. While running, time advances with the wall clock.",
		Shortcut:    "Space",
	},
	scene.ActionTimeForward: {
		ID:          "time-forward",
		Label:       "Step Forward",
		Description: "Advance simulated time by one step and rebuild the surface.",
		Shortcut:    "Arrow Right",
	},
	scene.ActionTimeBack: {
		ID:          "time-back",
		Label:       "Step Back",
		Description: "Rewind simulated time by one step. Time never goes below zero.",
		Shortcut:    "Arrow Left",
	},
	scene.ActionCoefficientsUp: {
		ID:          "coefficients-up",
		Label:       "More Coefficients",
		Description: "Add a Fourier term to the truncated series.",
		Shortcut:    "Arrow Up",
	},
	scene.ActionCoefficientsDown: {
		ID:          "coefficients-down",
		Label:       "Fewer Coefficients",
		Description: "Drop the highest Fourier term. At least one term is always kept.",
		Shortcut:    "Arrow Down",
	},
	scene.ActionDragStart: {
		ID:          "drag-start",
		Label:       "Grab",
		Description: "Press on the canvas to start rotating the surface.",
		Shortcut:    "Mouse down",
	},
	scene.ActionDragMove: {
		ID:          "drag-move",
		Label:       "Rotate",
		Description: "Drag horizontally to spin around the vertical axis and vertically to tilt.",
		Shortcut:    "Mouse move",
	},
	scene.ActionDragEnd: {
		ID:          "drag-end",
		Label:       "Release",
		Description: "Stop rotating; the orientation is kept.",
		Shortcut:    "Mouse up",
	},
	scene.ActionReset: {
		ID:          "reset",
		Label:       "Reset",
		Description: "Return to time zero, pause, and restore the default orientation.",
		Shortcut:    "Keyboard R",
	},
}

// ControlDocs returns the documentation for every action in presentation order.
func ControlDocs() []ControlDoc {
	docs := make([]ControlDoc, 0, len(scene.Actions))
	for _, action := range scene.Actions {
		doc, ok := controlDocs[action]
		if !ok {
			doc = ControlDoc{ID: string(action), Label: string(action)}
		}
		doc.Action = string(action)
		docs = append(docs, doc)
	}
	return docs
}

// ControlDocsHandler serves ControlDocs as JSON.
func ControlDocsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(ControlDocs()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
