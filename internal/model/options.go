package model

// GenerationOptions is the style configuration a prompt is built from.
type GenerationOptions struct {
	FabricType string `json:"fabricType" validate:"required,oneof=Cotton Linen Silk Denim Polyester Wool Tweed Velvet"`
	Lighting   string `json:"lighting" validate:"required,oneof=Studio Natural Warm Cool Dramatic"`
	Background string `json:"background" validate:"required,oneof='White Studio' 'Grey Gradient' Outdoor Minimalist"`
	Fit        string `json:"fit" validate:"required,oneof=Slim Regular Relaxed Oversized"`
}

var (
	FabricTypes = []string{"Cotton", "Linen", "Silk", "Denim", "Polyester", "Wool", "Tweed", "Velvet"}
	Lightings   = []string{"Studio", "Natural", "Warm", "Cool", "Dramatic"}
	Backgrounds = []string{"White Studio", "Grey Gradient", "Outdoor", "Minimalist"}
	Fits        = []string{"Slim", "Regular", "Relaxed", "Oversized"}
)
