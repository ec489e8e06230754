package service

import (
	"fmt"
	"strings"

	"github.com/fabricviz/fabricviz-server/internal/model"
)

// PosePrompts are the fixed per-slot pose instructions, indexed by seed.
var PosePrompts = [model.MaxSeeds]string{
	"standing front view, hands relaxed at sides",
	"three-quarter view, one hand in pocket",
	"side profile view, walking pose",
	"standing back view, looking over shoulder",
}

const (
	swatchInstruction     = "Strictly use the FIRST reference image for fabric texture/color."
	silhouetteInstruction = " Strictly use the SECOND reference image for the exact garment silhouette and structure. The final output must match the shape of the second image perfectly."
	refineInstruction     = "Maintain the fabric texture from the second reference and strictly follow the garment design from the third reference image."
)

// BuildPosePrompts returns one prompt per slot, in seed order.
func BuildPosePrompts(prompt string, fanOut int, hasSilhouette bool) []string {
	if fanOut > len(PosePrompts) {
		fanOut = len(PosePrompts)
	}
	prompts := make([]string, 0, fanOut)
	for _, pose := range PosePrompts[:fanOut] {
		p := fmt.Sprintf("%s. Model pose: %s. %s", prompt, pose, swatchInstruction)
		if hasSilhouette {
			p += silhouetteInstruction
		}
		prompts = append(prompts, p)
	}
	return prompts
}

func BuildRefinePrompt(prompt string) string {
	return fmt.Sprintf("%s. %s", prompt, refineInstruction)
}

// BuildPrompt renders the base prompt for a style configuration.
func BuildPrompt(opts model.GenerationOptions) string {
	return fmt.Sprintf(
		"A photorealistic product image of a male model wearing a %s fit garment made from %s fabric. "+
			"The garment should accurately replicate the texture, color, and pattern of the provided fabric swatch. "+
			"%s lighting, %s background. High-end fashion photography, editorial quality, 8K resolution.",
		strings.ToLower(opts.Fit),
		strings.ToLower(opts.FabricType),
		opts.Lighting,
		strings.ToLower(opts.Background),
	)
}
