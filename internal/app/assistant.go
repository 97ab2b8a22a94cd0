package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docstrat/pkg/domain"
)

const maxCompareChunksPerDocument = 10

// GenerateAnswer produces a grounded answer for a query over the
// document's full chunk set. Chunks are sent in order, never truncated.
func (a *App) GenerateAnswer(ctx context.Context, query string, chunkTexts []string, documentName string) (string, error) {
	if a.generator == nil {
		return "", ErrAIUnavailable
	}
	system, user := buildAnswerPrompt(query, chunkTexts, documentName)
	answer, err := a.generator.GenerateText(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return answer, nil
}

// CompareDocuments gathers 2..5 owner documents and produces a structured
// comparison. compareType selects the analysis focus; unknown values get
// the comprehensive framing.
func (a *App) CompareDocuments(ctx context.Context, documentIDs []string, ownerID, compareType string) (domain.Comparison, error) {
	documents, documentsChunks, err := a.collectComparison(ctx, documentIDs, ownerID)
	if err != nil {
		return domain.Comparison{}, err
	}
	if a.generator == nil {
		return domain.Comparison{}, ErrAIUnavailable
	}

	system, user := buildComparisonPrompt(documents, documentsChunks, compareType)
	raw, err := a.generator.GenerateText(ctx, system, user)
	if err != nil {
		return domain.Comparison{}, fmt.Errorf("generate comparison: %w", err)
	}
	return parseComparison(raw, documents), nil
}

func buildAnswerPrompt(query string, chunkTexts []string, documentName string) (string, string) {
	var system strings.Builder
	system.WriteString("You are a Strategic Insight Analyst. Your role is to analyze business documents and provide strategic insights based on the provided content.\n\n")
	system.WriteString("INSTRUCTIONS:\n")
	system.WriteString("1. Analyze the provided document content carefully\n")
	system.WriteString("2. Focus on insights, and key findings\n")
	system.WriteString("3. Base your analysis ONLY on the provided document content\n")
	system.WriteString("4. If specific information is not available in the document, clearly state this\n")
	system.WriteString("5. Provide structured, actionable insights\n")
	system.WriteString("6. Use bullet points or numbered lists when appropriate for clarity\n")

	var user strings.Builder
	user.WriteString(fmt.Sprintf("DOCUMENT: %s\n\n", documentName))
	user.WriteString("DOCUMENT CONTENT:\n")
	for i, chunk := range chunkTexts {
		user.WriteString(fmt.Sprintf("--- Chunk %d ---\n%s\n\n", i+1, chunk))
	}
	user.WriteString(fmt.Sprintf("USER QUERY: %s\n\n", query))
	user.WriteString("STRATEGIC ANALYSIS:\n")
	user.WriteString("Please provide your strategic analysis and insights based on the above document content and user query.")

	return system.String(), user.String()
}

func buildComparisonPrompt(documents []domain.Document, documentsChunks [][]string, compareType string) (string, string) {
	var system strings.Builder
	system.WriteString("You are a Strategic Document Comparison Analyst. Your role is to analyze and compare multiple business documents, providing structured insights.\n\n")
	system.WriteString("INSTRUCTIONS:\n")
	system.WriteString("1. Analyze each document's content carefully\n")
	system.WriteString("2. Identify key similarities and differences between documents\n")
	system.WriteString("3. Extract common themes and unique aspects\n")
	system.WriteString("4. Provide strategic insights based on the comparison\n")
	system.WriteString("5. Structure your response with clear sections\n")
	system.WriteString("6. Base analysis ONLY on provided document content\n")

	var user strings.Builder
	switch compareType {
	case "summary":
		user.WriteString("FOCUS: Provide a high-level comparison summary\n")
	case "detailed":
		user.WriteString("FOCUS: Provide detailed analysis with specific examples\n")
	case "themes":
		user.WriteString("FOCUS: Identify and compare major themes across documents\n")
	case "differences":
		user.WriteString("FOCUS: Highlight key differences and contrasts\n")
	default:
		user.WriteString("FOCUS: Provide comprehensive comparison analysis\n")
	}

	user.WriteString("\nDOCUMENTS TO COMPARE:\n")
	for i, doc := range documents {
		user.WriteString(fmt.Sprintf("\n--- DOCUMENT %d: %s ---\n", i+1, doc.FileName))
		for j, chunk := range documentsChunks[i] {
			if j >= maxCompareChunksPerDocument {
				break
			}
			user.WriteString(fmt.Sprintf("Content Part %d: %s\n\n", j+1, chunk))
		}
	}

	user.WriteString("\nPlease provide your comparison analysis in the following format:\n")
	user.WriteString("SUMMARY: [Overall comparison summary]\n")
	user.WriteString("SIMILARITIES: [Key similarities between documents]\n")
	user.WriteString("DIFFERENCES: [Key differences between documents]\n")
	user.WriteString("KEY_THEMES: [Common themes and topics]\n")
	user.WriteString("INSIGHTS: [Strategic insights and recommendations]\n")

	return system.String(), user.String()
}

// parseComparison turns the marker-delimited model output into a
// Comparison. Text before any marker, and everything after SUMMARY:,
// accumulates space-joined into Summary. Bullets are stripped from list
// items. Responses without markers become pure summary text.
func parseComparison(response string, documents []domain.Document) domain.Comparison {
	comparison := domain.Comparison{
		Documents:    append([]domain.Document(nil), documents...),
		Similarities: []string{},
		Differences:  []string{},
		KeyThemes:    []string{},
		Insights:     []string{},
		ComparedAt:   time.Now().UTC(),
	}

	sections := map[string]*[]string{
		"SUMMARY:":      nil,
		"SIMILARITIES:": &comparison.Similarities,
		"DIFFERENCES:":  &comparison.Differences,
		"KEY_THEMES:":   &comparison.KeyThemes,
		"INSIGHTS:":     &comparison.Insights,
	}

	var currentSection *[]string
	var summaryBuilder strings.Builder

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sectionFound := false
		for sectionName, sectionSlice := range sections {
			if strings.HasPrefix(strings.ToUpper(line), sectionName) {
				if sectionName == "SUMMARY:" {
					currentSection = nil
					if rest := strings.TrimSpace(line[len(sectionName):]); rest != "" {
						summaryBuilder.WriteString(rest)
					}
				} else {
					currentSection = sectionSlice
				}
				sectionFound = true
				break
			}
		}
		if sectionFound {
			continue
		}

		if currentSection != nil {
			if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•") || strings.HasPrefix(line, "*") {
				content := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(strings.TrimPrefix(line, "-"), "•"), "*"))
				if content != "" {
					*currentSection = append(*currentSection, content)
				}
			} else {
				*currentSection = append(*currentSection, line)
			}
			continue
		}

		if summaryBuilder.Len() > 0 {
			summaryBuilder.WriteString(" ")
		}
		summaryBuilder.WriteString(line)
	}

	comparison.Summary = summaryBuilder.String()
	if comparison.Summary == "" {
		comparison.Summary = "Document comparison completed. Please review the detailed analysis below."
	}
	return comparison
}
