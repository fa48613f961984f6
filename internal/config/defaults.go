package config

// GetDefaultSpecFromVideoTemplate returns the default instruction for building a
// specification from a video. The video and the user's details are attached as
// separate message parts.
func GetDefaultSpecFromVideoTemplate() string {
	return `You are a pedagogist and product designer with deep expertise in crafting engaging learning experiences via interactive web apps.

Examine the contents of the attached video. Then, write a detailed and carefully considered spec for an interactive web app designed to complement the video and reinforce its key idea or ideas. The recipient of the spec does not have access to the video, so the spec must be thorough and self-contained (the spec must not mention that it is based on a video).

The goal of the app is to enhance understanding through simple and playful design. The provided spec should not be overly complex, i.e., a junior web developer should be able to implement it in a single html file (with all styles and scripts inline). Most importantly, the spec must clearly outline the core mechanics of the app, and those mechanics must be highly effective in reinforcing the given idea(s).

Provide the result as a markdown document. Do not wrap the document in a code fence.`
}

// GetDefaultSpecFromTopicTemplate returns the default instruction for building a
// specification from a topic
func GetDefaultSpecFromTopicTemplate() string {
	return `You are a pedagogist and product designer with deep expertise in crafting engaging learning experiences via interactive web apps.

Write a detailed and carefully considered spec for an interactive web app that teaches the following topic:

"{{.Topic}}"

Research the topic so the facts in the spec are accurate. The spec must be thorough and self-contained. The goal of the app is to enhance understanding through simple and playful design. A junior web developer should be able to implement it in a single html file (with all styles and scripts inline). The spec must clearly outline the core mechanics of the app, and those mechanics must be highly effective in reinforcing the key ideas of the topic.

Provide the result as a markdown document. Do not wrap the document in a code fence.`
}

// GetDefaultSpecAddendum returns the fixed text appended to every specification
func GetDefaultSpecAddendum() string {
	return `

The app must be fully responsive and function properly on both desktop and mobile. Provide the code as a single, self-contained HTML document. All styles and scripts must be inline. In the result, encase the code between "` + "```" + `" and "` + "```" + `" for easy parsing.`
}

// GetDefaultRefineTemplate returns the default template for refining a specification
func GetDefaultRefineTemplate() string {
	return `You are revising the specification of an interactive learning web app.

CURRENT SPECIFICATION:
{{.Spec}}

REVISION INSTRUCTIONS:
{{.Instructions}}

Apply the instructions and return the complete revised specification. Keep every part of the current specification that the instructions do not ask you to change.

Return ONLY a valid JSON object with this exact structure (no markdown, no additional text):
{"spec": "<the complete revised specification as markdown>"}`
}

// GetDefaultLessonPlanTemplate returns the default template for a lesson plan
func GetDefaultLessonPlanTemplate() string {
	return `You are an experienced teacher. Write a lesson plan for a single class session built around the interactive learning app described below.

Include: learning objectives, required materials, a timed sequence of activities (introduction, guided use of the app, independent practice, wrap-up), discussion questions, and a short assessment idea.

APP SPECIFICATION:
{{.Spec}}

Format the lesson plan as markdown.`
}

// GetDefaultHandoutTemplate returns the default template for a student handout
func GetDefaultHandoutTemplate() string {
	return `You are an experienced teacher. Write a one-page student handout that accompanies the interactive learning app described below.

Include: a short summary of the key ideas, a glossary of important terms, step-by-step instructions for exploring the app, and three reflection questions.

APP SPECIFICATION:
{{.Spec}}

Format the handout as markdown and address the student directly.`
}

// GetDefaultQuizTemplate returns the default template for a review quiz
func GetDefaultQuizTemplate() string {
	return `You are an experienced teacher. Write a review quiz of 5 multiple-choice questions that checks understanding of the key ideas taught by the interactive learning app described below.

APP SPECIFICATION:
{{.Spec}}

Each question must have exactly 4 options and exactly one correct answer. The correct answer must be copied verbatim from the options.

Return ONLY a valid JSON object with this exact structure (no markdown, no additional text):
{"quiz": [{"question": "...", "options": ["...", "...", "...", "..."], "correctAnswer": "...", "explanation": "..."}]}`
}
