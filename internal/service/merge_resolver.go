package service

import (
	"strings"

	"github.com/casedesk/case-service/internal/domain"
)

// MergeSeparator joins concatenated text fields of merged cases.
const MergeSeparator = "\n\n--- merged ---\n\n"

// ResolveMergePatch computes the fields the survivor should receive from its
// candidates (ordered oldest first). A field the survivor already holds is
// never part of the result.
func ResolveMergePatch(survivor domain.Case, candidates []domain.Case) domain.CasePatch {
	var patch domain.CasePatch

	patch.Conversation = concatField(survivor, candidates, func(c domain.Case) string { return c.Conversation })
	patch.Notes = concatField(survivor, candidates, func(c domain.Case) string { return c.Notes })

	if isBlank(survivor.Testimony) {
		for _, c := range candidates {
			if !isBlank(c.Testimony) {
				patch.Testimony = strPtr(c.Testimony)
				break
			}
		}
	}

	patch.Summary = mostRecentText(survivor.Summary, candidates, func(c domain.Case) string { return c.Summary })
	patch.Outcome = mostRecentText(survivor.Outcome, candidates, func(c domain.Case) string { return c.Outcome })
	patch.LawsuitNumber = mostRecentText(survivor.LawsuitNumber, candidates, func(c domain.Case) string { return c.LawsuitNumber })
	patch.LawsuitSummary = mostRecentText(survivor.LawsuitSummary, candidates, func(c domain.Case) string { return c.LawsuitSummary })
	patch.ExternalCaseRef = mostRecentText(survivor.ExternalCaseRef, candidates, func(c domain.Case) string { return c.ExternalCaseRef })

	if survivor.MonetaryValue == nil {
		for i := len(candidates) - 1; i >= 0; i-- {
			if v := candidates[i].MonetaryValue; v != nil {
				value := *v
				patch.MonetaryValue = &value
				break
			}
		}
	}
	if survivor.LawsuitActive == nil {
		for i := len(candidates) - 1; i >= 0; i-- {
			if v := candidates[i].LawsuitActive; v != nil {
				value := *v
				patch.LawsuitActive = &value
				break
			}
		}
	}
	return patch
}

// concatField returns nil unless at least two non-empty values exist.
func concatField(survivor domain.Case, candidates []domain.Case, get func(domain.Case) string) *string {
	parts := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		if v := get(c); !isBlank(v) {
			parts = append(parts, v)
		}
	}
	if v := get(survivor); !isBlank(v) {
		parts = append(parts, v)
	}
	if len(parts) < 2 {
		return nil
	}
	return strPtr(strings.Join(parts, MergeSeparator))
}

func mostRecentText(current string, candidates []domain.Case, get func(domain.Case) string) *string {
	if !isBlank(current) {
		return nil
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		if v := get(candidates[i]); !isBlank(v) {
			return strPtr(v)
		}
	}
	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func strPtr(v string) *string {
	return &v
}
