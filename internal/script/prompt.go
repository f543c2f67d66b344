package script

import (
	"fmt"
	"strings"
)

const promptHeader = `You are a professional video script generator. Create a detailed video script for the following requirements.

IMPORTANT INSTRUCTIONS:
1. You must respond with ONLY a valid JSON object
2. Do NOT use markdown formatting (no code fences)
3. Do NOT include any explanations or additional text
4. The response must be a single, valid JSON object

Requirements:
`

var toneInstructions = map[string]string{
	"casual":       "Maintain a conversational, friendly tone throughout the script.",
	"professional": "Maintain a formal, authoritative tone throughout the script.",
	"humorous":     "Incorporate appropriate humor and light-hearted elements throughout the script.",
	"serious":      "Maintain a serious, straightforward tone appropriate for weighty topics.",
	"inspiring":    "Use language that motivates and uplifts throughout the script.",
	"informative":  "Focus on clear, educational delivery of information throughout the script.",
}

// BuildPrompt renders the generation prompt from the request, emitting only
// the fields that are actually set.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	if req.ScriptType != "" {
		fmt.Fprintf(&b, "Type: %s\n", req.ScriptType)
	}
	if req.TargetAudience != "" {
		fmt.Fprintf(&b, "Target Audience: %s\n", req.TargetAudience)
	}
	if req.DurationSeconds > 0 {
		fmt.Fprintf(&b, "Duration: %d seconds\n", req.DurationSeconds)
	}
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	if req.StyleDescription != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.StyleDescription)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	if req.SourceData != "" {
		fmt.Fprintf(&b, "\nSource Data:\n%s\n", req.SourceData)
	}

	durationText := "an appropriate duration"
	if req.DurationSeconds > 0 {
		durationText = fmt.Sprintf("%d seconds", req.DurationSeconds)
	}

	fmt.Fprintf(&b, `
Required JSON Structure:
{
  "scenes": [
    {
      "scene_id": "scene1",
      "time": "00:00-00:30",
      "script": "The script text for this scene...",
      "visual": "Detailed visual description for image generation...",
      "voiceover": true
    }
  ],
  "metadata": {
    "title": "Video Title",
    "duration": "MM:SS",
    "target_audience": "Description of target audience",
    "tone": "The tone of the video",
    "style": "The visual style"
  }
}

Instructions:
1. Divide %s into 4-8 logical scenes with appropriate timing
2. Make the script engaging and impactful for the target audience
3. The visual descriptions should be detailed enough to generate compelling images
4. Return ONLY the JSON object, no other text or explanation
`, durationText)

	if req.TargetAudience != "" && req.Tone != "" {
		if instruction, ok := toneInstructions[strings.ToLower(req.Tone)]; ok {
			fmt.Fprintf(&b, "\nAudience guidance for %s viewers: %s\n", req.TargetAudience, instruction)
		}
	}

	return b.String()
}
