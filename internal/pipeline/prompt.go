package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/project"
)

// brainstormTruncateRunes bounds how much prior brainstorm content is embedded
// in a write prompt. The bound is part of the prompt contract.
const brainstormTruncateRunes = 2000

type tonePreset struct {
	Brainstorm string
	Write      string
}

// Tone presets are a fixed enumeration selected by a short key. Unknown keys
// fall back to neutral; lookup never errors.
var tonePresets = map[string]tonePreset{
	"neutral": {
		Brainstorm: "Generate creative and balanced ideas",
		Write:      "Write in a clear, balanced style",
	},
	"cheesy-romcom": {
		Brainstorm: "Generate lighthearted, romantic comedy ideas with playful banter and meet-cute scenarios",
		Write:      "Write in a lighthearted, romantic comedy style with playful dialogue and sweet moments",
	},
	"romantic-dramedy": {
		Brainstorm: "Generate heartfelt romantic drama ideas with emotional depth and character growth",
		Write:      "Write in a heartfelt romantic drama style with emotional depth and character development",
	},
	"shakespearean-romance": {
		Brainstorm: "Generate romantic ideas inspired by Shakespearean themes, wit, and dramatic tension",
		Write:      "Write in an elevated, poetic style inspired by Shakespearean romance with rich language",
	},
	"professional": {
		Brainstorm: "Generate professional, business-focused ideas with clear structure and objectives",
		Write:      "Write in a professional, business-appropriate style with clear structure",
	},
	"academic": {
		Brainstorm: "Generate scholarly, research-oriented ideas with analytical depth",
		Write:      "Write in a scholarly, analytical style with proper academic tone",
	},
	"creative": {
		Brainstorm: "Generate innovative, out-of-the-box creative concepts",
		Write:      "Write in an innovative, artistic style with creative flair",
	},
}

const defaultTone = "neutral"

// ToneKeys lists the available tone preset keys, sorted.
func ToneKeys() []string {
	keys := make([]string, 0, len(tonePresets))
	for key := range tonePresets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func resolveTone(key string) (string, tonePreset) {
	trimmed := strings.TrimSpace(key)
	if preset, ok := tonePresets[trimmed]; ok {
		return trimmed, preset
	}
	return defaultTone, tonePresets[defaultTone]
}

// rowContext carries the resolved source rows plus the table's column order,
// minus the implicit id column, for deterministic prompt formatting.
type rowContext struct {
	Table   string
	Columns []string
	Rows    []project.Row
}

func (c rowContext) format(label string) string {
	if len(c.Rows) == 0 {
		return "No source data selected."
	}
	formatted := make([]string, 0, len(c.Rows))
	for i, row := range c.Rows {
		var b strings.Builder
		fmt.Fprintf(&b, "%s %d:", label, i+1)
		for _, col := range c.Columns {
			fmt.Fprintf(&b, "\n  %s: %s", col, row.Values[col])
		}
		formatted = append(formatted, b.String())
	}
	return strings.Join(formatted, "\n\n")
}

// buildBrainstormPrompt assembles the brainstorm prompt in its fixed section
// order: task header, tone instruction, row context, bucket guidance, task
// body, special instruction, custom instructions.
func buildBrainstormPrompt(tone string, rows rowContext, guidance []string, special, custom string) string {
	_, preset := resolveTone(tone)
	parts := []string{
		"BRAINSTORMING TASK:",
		"Tone/Style: " + preset.Brainstorm,
		"",
		"SOURCE CONTEXT from " + rows.Table + ":",
		rows.format("Row"),
		"",
	}
	if len(guidance) > 0 {
		parts = append(parts,
			"BUCKET GUIDANCE:",
			strings.Join(guidance, "\n"),
			"",
		)
	}
	parts = append(parts,
		"TASK:",
		"Generate creative brainstorming ideas based on the source context above.",
		"Use the knowledge from the selected buckets to inform your suggestions.",
		"Provide specific, actionable ideas that build on the given context.",
	)
	if strings.TrimSpace(special) != "" {
		parts = append(parts, "", "SPECIAL INSTRUCTION: "+special)
	}
	if strings.TrimSpace(custom) != "" {
		parts = append(parts, "", "ADDITIONAL INSTRUCTIONS: "+custom)
	}
	return strings.Join(parts, "\n")
}

// buildWritePrompt assembles the write prompt: task header, style
// instruction, source material, truncated brainstorm insights, writing
// instructions, custom instructions, closing directive.
func buildWritePrompt(tone string, rows rowContext, brainstorm *project.Artifact, custom string) string {
	_, preset := resolveTone(tone)
	parts := []string{
		"=== WRITING TASK ===",
		"Style: " + preset.Write,
		"",
	}
	if len(rows.Rows) > 0 {
		parts = append(parts,
			"SOURCE MATERIAL from "+rows.Table+":",
			rows.format("Item"),
			"",
		)
	}
	if brainstorm != nil {
		parts = append(parts,
			fmt.Sprintf("BRAINSTORM INSIGHTS (Version %d):", brainstorm.Version),
			truncateRunes(brainstorm.Content, brainstormTruncateRunes),
			"",
		)
	}
	parts = append(parts,
		"WRITING INSTRUCTIONS:",
		"1. Create engaging, well-structured content based on the source material and brainstorm insights",
		"2. Maintain consistency with the specified tone and style",
		"3. Develop ideas from the brainstorm into polished written content",
		"4. Ensure natural flow and coherent narrative/structure",
	)
	if strings.TrimSpace(custom) != "" {
		parts = append(parts, "", "ADDITIONAL INSTRUCTIONS: "+custom)
	}
	parts = append(parts, "", "Generate the written content now:")
	return strings.Join(parts, "\n")
}

// buildEditPrompt embeds the original content and the edit instructions.
func buildEditPrompt(original, instructions string) string {
	parts := []string{
		"=== CONTENT EDITING TASK ===",
		"",
		"ORIGINAL CONTENT:",
		original,
		"",
		"EDIT INSTRUCTIONS:",
		instructions,
		"",
		"Revise the original content according to the edit instructions while maintaining the overall style and quality.",
	}
	return strings.Join(parts, "\n")
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// countWords splits on whitespace: a deterministic, locale-independent
// approximation, not a linguistic word count.
func countWords(text string) int {
	return len(strings.Fields(text))
}
