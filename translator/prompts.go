package translator

import "fmt"

// BlockSeparator 批量翻译时分隔文本块的标记
const BlockSeparator = "---"

// PlaceholderTranslation 译文缺失时使用的占位文本
const PlaceholderTranslation = "translation error"

const detectionPrompt = "Detect the text blocks in this image, such as speech bubbles or logically connected groups of text. " +
	"For each block: " +
	"1. Join all of its text into a single string under the 'text' key (keep line breaks or join with spaces). " +
	"2. Give one bounding box enclosing the whole block under the 'box' key, formatted as [ymin, xmin, ymax, xmax] and normalized to 0-1000. " +
	"Return the result as a JSON list. For example: " +
	`[{"text": "WHAT DOES IT\nMEAN TO BE\nHUMAN...?", "box": [100, 780, 210, 970]}]`

// DetectionPrompt 区域检测提示词
func DetectionPrompt() string {
	return detectionPrompt
}

// TranslationPrompt 批量翻译提示词
func TranslationPrompt(targetLanguage, joined string) string {
	return fmt.Sprintf("Translate the following text blocks into %s. "+
		"I separated the blocks with %s; return the translations in the same order, also separated with %s:\n\n%s",
		targetLanguage, BlockSeparator, BlockSeparator, joined)
}
