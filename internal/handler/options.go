package handler

import (
	"net/http"

	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/service"
)

type OptionsHandler struct{}

func NewOptionsHandler() *OptionsHandler {
	return &OptionsHandler{}
}

type poseOption struct {
	Seed   int    `json:"seed"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

type optionsResponse struct {
	FabricTypes []string     `json:"fabricTypes"`
	Lightings   []string     `json:"lightings"`
	Backgrounds []string     `json:"backgrounds"`
	Fits        []string     `json:"fits"`
	Poses       []poseOption `json:"poses"`
}

// GET /api/options
func (h *OptionsHandler) Options(w http.ResponseWriter, r *http.Request) {
	poses := make([]poseOption, 0, model.MaxSeeds)
	for i, prompt := range service.PosePrompts {
		seed := model.Seed(i)
		poses = append(poses, poseOption{Seed: i, Label: seed.Label(), Prompt: prompt})
	}

	writeJSON(w, http.StatusOK, optionsResponse{
		FabricTypes: model.FabricTypes,
		Lightings:   model.Lightings,
		Backgrounds: model.Backgrounds,
		Fits:        model.Fits,
		Poses:       poses,
	})
}

// POST /api/prompt
func (h *OptionsHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	var opts model.GenerationOptions
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"prompt": service.BuildPrompt(opts)})
}
