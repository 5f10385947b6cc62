package render

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	codeSpanBothEnds = regexp.MustCompile("`\\s+([^`]+?)\\s+`")
	codeSpanLeading  = regexp.MustCompile("`\\s+([^`]+)`")
	codeSpanTrailing = regexp.MustCompile("`([^`]+?)\\s+`")
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
)

// Clean normalizes generated Markdown for lint compliance: trailing spaces
// and hard tabs removed, code-span padding stripped, repeated sub-headings
// disambiguated with a counter, runs of blank lines collapsed, fenced code
// blocks surrounded by blank lines, and exactly one trailing newline.
func Clean(content string) string {
	content = cleanLines(content)
	content = fixCodeSpans(content)
	content = fixDuplicateHeadings(content)
	content = excessBlankLines.ReplaceAllString(content, "\n\n")
	content = fixCodeBlockSpacing(content)

	content = strings.TrimLeft(content, "\n")
	return strings.TrimRight(content, "\n ") + "\n"
}

func cleanLines(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		line = strings.ReplaceAll(line, "\t", "    ")
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n")
}

func fixCodeSpans(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		line = codeSpanLeading.ReplaceAllString(line, "`$1`")
		line = codeSpanTrailing.ReplaceAllString(line, "`$1`")
		line = codeSpanBothEnds.ReplaceAllString(line, "`$1`")
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// fixDuplicateHeadings appends an occurrence counter to repeated
// sub-headings. Top-level headings are left alone.
func fixDuplicateHeadings(content string) string {
	seen := make(map[string]int)
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "#") {
			continue
		}
		text := strings.TrimSpace(strings.TrimLeft(line, "#"))
		level := len(line) - len(strings.TrimLeft(line, "#"))
		seen[text]++
		if seen[text] > 1 && level > 1 {
			lines[i] = strings.Repeat("#", level) + " " + text + " (" + strconv.Itoa(seen[text]) + ")"
		}
	}
	return strings.Join(lines, "\n")
}

func fixCodeBlockSpacing(content string) string {
	lines := strings.Split(content, "\n")
	result := make([]string, 0, len(lines))
	inBlock := false

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if !inBlock {
				if len(result) > 0 && strings.TrimSpace(result[len(result)-1]) != "" {
					result = append(result, "")
				}
				result = append(result, line)
				inBlock = true
			} else {
				result = append(result, line)
				if i < len(lines)-1 && strings.TrimSpace(lines[i+1]) != "" {
					result = append(result, "")
				}
				inBlock = false
			}
			continue
		}
		result = append(result, line)
	}

	return excessBlankLines.ReplaceAllString(strings.Join(result, "\n"), "\n\n")
}
