package orchestrator

import (
	"fmt"

	"github.com/lamim/classforge/internal/config"
	"github.com/lamim/classforge/internal/generation"
	"github.com/lamim/classforge/internal/util"
	"github.com/lamim/classforge/pkg/models"
)

// specRequest builds the streaming specification call. A video basis sends
// the video as a message part with the user's details alongside; a topic
// basis renders the topic template and turns on search augmentation.
func specRequest(templates config.PromptTemplates, basis models.ContentBasis) (generation.Request, error) {
	complexity := "Complexity instruction: " + templates.ComplexityInstruction(basis.Complexity)

	if basis.HasVideo() {
		supplementary := complexity
		if basis.HasTopic() {
			supplementary = fmt.Sprintf("User-provided details: %s\n%s", basis.TopicOrDetails, complexity)
		}
		return generation.Request{
			Stage:             models.StageGeneratingSpec,
			Role:              config.RoleMain,
			BasePrompt:        templates.SpecFromVideo,
			SupplementaryText: supplementary,
			VideoURL:          basis.VideoURL,
		}, nil
	}

	prompt, err := util.RenderTemplate(templates.SpecFromTopic, map[string]any{"Topic": basis.TopicOrDetails})
	if err != nil {
		return generation.Request{}, fmt.Errorf("failed to render spec prompt: %w", err)
	}
	return generation.Request{
		Stage:             models.StageGeneratingSpec,
		Role:              config.RoleMain,
		BasePrompt:        prompt,
		SupplementaryText: complexity,
		UseSearch:         true,
	}, nil
}

// codeRequest sends the full specification as the prompt
func codeRequest(spec string) generation.Request {
	return generation.Request{
		Stage:      models.StageGeneratingCode,
		Role:       config.RoleCode,
		BasePrompt: spec,
	}
}

// refineRequest renders the structured-output refinement call
func refineRequest(templates config.PromptTemplates, eff refineSpecEffect) (generation.Request, error) {
	instructions := eff.instructions +
		"\n\nMaintain the overall complexity level of the app, which is set to: " +
		templates.ComplexityInstruction(eff.complexity)

	prompt, err := util.RenderTemplate(templates.RefineSpec, map[string]any{
		"Spec":         stripAddendum(eff.spec, templates.SpecAddendum),
		"Instructions": instructions,
	})
	if err != nil {
		return generation.Request{}, fmt.Errorf("failed to render refine prompt: %w", err)
	}
	return generation.Request{
		Stage:      models.StageGeneratingSpec,
		Role:       config.RoleRefine,
		BasePrompt: prompt,
		JSONOutput: true,
	}, nil
}
