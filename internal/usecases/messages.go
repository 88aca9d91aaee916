package usecases

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/entities"
	"github.com/abelzeko/station-reducer/internal/integration/openai"
	"github.com/abelzeko/station-reducer/internal/reduction"
	"github.com/abelzeko/station-reducer/internal/repository"
)

// FormatFieldList lists the fields of a batch for display
func (uc *ReductionUseCase) FormatFieldList(batch *entities.Batch) string {
	if batch.Empty() {
		return "No fields loaded. Send a field document first."
	}
	var result strings.Builder
	result.WriteString("Loaded fields:\n")
	for _, f := range batch.Fields {
		status := "not reduced"
		if f.Processed() {
			status = fmt.Sprintf("%d groups", len(f.Groups))
		}
		result.WriteString(fmt.Sprintf("• %s %s (%d stations, %s)\n", f.ID, f.Name, len(f.Stations), status))
	}
	return result.String()
}

// FormatFieldSummary describes the reduced groups of a field
func (uc *ReductionUseCase) FormatFieldSummary(f *entities.Field) string {
	if f == nil {
		return "Field not found."
	}
	if !f.Processed() {
		return fmt.Sprintf("Field %s has not been reduced.", f.ID)
	}

	stats := reduction.StatsOf(f)
	var result strings.Builder
	result.WriteString(fmt.Sprintf("🌾 Field %s: %s\n", f.ID, f.Name))
	result.WriteString(fmt.Sprintf("%d stations reduced to %d (%d merged)\n\n", stats.Stations, stats.Groups, stats.Merged))

	for _, g := range f.Groups {
		result.WriteString(fmt.Sprintf("📍 %s: %s\n", g.Representative().ID, g.Label()))
		if len(g.Totals) == 0 {
			result.WriteString("   no activity\n")
			continue
		}
		for _, t := range g.Totals {
			result.WriteString(fmt.Sprintf("   %s %s = %d\n", t.Category, t.SensorID, t.Value))
		}
	}
	return result.String()
}

// FormatFieldPatterns lists each station's soil and crop signatures
func (uc *ReductionUseCase) FormatFieldPatterns(f *entities.Field) string {
	if f == nil {
		return "Field not found."
	}
	reduction.BuildProfiles(f)

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Patterns of field %s: %s\n", f.ID, f.Name))
	for _, st := range f.Stations {
		soil, crop, _ := st.Signatures()
		result.WriteString(fmt.Sprintf("%s soil %s crop %s\n", st.Name, soil, crop))
	}
	return result.String()
}

// FormatRuns lists stored runs for display
func (uc *ReductionUseCase) FormatRuns(runs []repository.RunSummary) string {
	if len(runs) == 0 {
		return "No reductions stored yet."
	}
	var result strings.Builder
	result.WriteString("Recent reductions:\n\n")
	for _, r := range runs {
		result.WriteString(fmt.Sprintf("🕒 %s  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05 MST"), r.Source))
		result.WriteString(fmt.Sprintf("   run %s: %d fields, %d stations → %d groups\n", r.ID, r.Fields, r.Stations, r.Groups))
	}
	return result.String()
}

// FormatReport describes the outcome of a ProcessBatch call
func (uc *ReductionUseCase) FormatReport(report *Report) string {
	if report == nil {
		return ""
	}
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Run %s: %d of %d fields reduced\n", report.RunID, report.Succeeded(), len(report.Outcomes)))
	for _, o := range report.Outcomes {
		if o.Err != nil {
			result.WriteString(fmt.Sprintf("✗ %s: %v\n", o.FieldID, o.Err))
			continue
		}
		result.WriteString(fmt.Sprintf("✓ %s: %d stations → %d groups\n", o.FieldID, o.Stats.Stations, o.Stats.Groups))
	}
	return result.String()
}

// HandleNaturalLanguageQuery interprets a user's free-text query using the AI service
// and returns an appropriate response string for the given batch.
func (uc *ReductionUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string, batch *entities.Batch) (string, error) {
	if uc.assistant == nil {
		return "Free-text questions are not enabled. Use /help to see the commands.", nil
	}
	uc.logger.Info("Interpreting natural language query", zap.String("query", query))

	var known []string
	if !batch.Empty() {
		for _, f := range batch.Fields {
			known = append(known, f.ID)
		}
	}

	agentResp, err := uc.assistant.InterpretUserQuery(ctx, query, known)
	if err != nil {
		uc.logger.Warn("Error interpreting user query via OpenAI", zap.Error(err))
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	uc.logger.Info("Agent response",
		zap.String("command", agentResp.CommandName),
		zap.String("field", agentResp.FieldID))

	prefix := func(body string) string {
		if agentResp.UserMessage == "" {
			return body
		}
		return agentResp.UserMessage + "\n\n" + body
	}

	switch agentResp.CommandName {
	case openai.CommandListFields:
		return prefix(uc.FormatFieldList(batch)), nil
	case openai.CommandShowField, openai.CommandShowPatterns:
		if agentResp.FieldID == "" {
			return agentResp.UserMessage, nil
		}
		var f *entities.Field
		if !batch.Empty() {
			f = batch.Field(agentResp.FieldID)
		}
		if f == nil {
			return prefix(fmt.Sprintf("However, I couldn't find field '%s'. Use /fields to see the loaded ones.", agentResp.FieldID)), nil
		}
		if agentResp.CommandName == openai.CommandShowPatterns {
			return prefix(uc.FormatFieldPatterns(f)), nil
		}
		return prefix(uc.FormatFieldSummary(f)), nil
	case openai.CommandGeneralQuery:
		return agentResp.UserMessage, nil
	default:
		uc.logger.Warn("Agent returned unexpected command", zap.String("command", agentResp.CommandName))
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}
}
