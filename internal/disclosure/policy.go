// Package disclosure computes which requested fields an employee's consent
// settings permit a requester to see. Evaluate is pure and deterministic:
// the same requester class, settings and field list always produce the same
// partition, which is what makes the policy testable in isolation.
package disclosure

import "travlr/pkg/domain"

// Classification labels the overall result of a disclosure evaluation.
type Classification string

const (
	ClassificationFull       Classification = "full"
	ClassificationAnonymized Classification = "anonymized"
	ClassificationDenied     Classification = "denied"
)

// Decision is the disclosed/denied partition for one evaluation.
type Decision struct {
	Disclosed      []domain.DataField
	Denied         []domain.DataField
	Classification Classification
}

// automatedDisclosable are the only categories an automated requester may
// ever receive, and only in anonymized form.
var automatedDisclosable = map[domain.FieldCategory]bool{
	domain.CategoryFlight: true,
	domain.CategoryHotel:  true,
}

// Evaluate partitions the requested fields.
//
// Rules, in order:
//  1. automated requester without automated-processing consent: everything
//     denied.
//  2. automated requester with consent: only flight and hotel categories are
//     disclosable, anonymized.
//  3. admin requester: each field disclosed iff its category's flag is set.
//  4. fields outside the canonical list are always denied.
func Evaluate(class domain.RequesterClass, settings domain.ConsentSettings, requested []domain.DataField) Decision {
	d := Decision{Classification: ClassificationDenied}

	for _, field := range requested {
		category, known := domain.CategoryOf(field)
		if !known || !settings.Allows(category) {
			d.Denied = append(d.Denied, field)
			continue
		}

		switch class {
		case domain.RequesterAutomated:
			if settings.AutomatedProcessing && automatedDisclosable[category] {
				d.Disclosed = append(d.Disclosed, field)
			} else {
				d.Denied = append(d.Denied, field)
			}
		default:
			d.Disclosed = append(d.Disclosed, field)
		}
	}

	if len(d.Disclosed) > 0 {
		if class == domain.RequesterAutomated {
			d.Classification = ClassificationAnonymized
		} else {
			d.Classification = ClassificationFull
		}
	}
	return d
}

// identifyingCollections are nested keys whose literal values identify the
// employee to third parties. Under anonymization they collapse to their
// cardinality. Both casings appear in stored profiles.
var identifyingCollections = map[string]bool{
	"frequent_flyer_numbers":  true,
	"frequentFlyerNumbers":    true,
	"loyalty_program_numbers": true,
	"loyaltyPrograms":         true,
	"loyalty_programs":        true,
	"membership_numbers":      true,
	"membershipNumbers":       true,
}

// FilterProfile projects the profile onto the decision's disclosed fields,
// applying the anonymization transform when the classification demands it.
// The input profile is not mutated.
func FilterProfile(decision Decision, profile map[string]any) map[string]any {
	out := make(map[string]any, len(decision.Disclosed))
	for _, field := range decision.Disclosed {
		value, ok := profile[string(field)]
		if !ok {
			continue
		}
		if decision.Classification == ClassificationAnonymized {
			value = anonymize(value)
		}
		out[string(field)] = value
	}
	return out
}

// anonymize deep-copies a value, replacing identifying collections with
// {"count": n}. Structure is otherwise retained so automated consumers can
// still reason about shape.
func anonymize(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if identifyingCollections[k] {
			out[k] = map[string]any{"count": collectionSize(v)}
			continue
		}
		out[k] = anonymize(v)
	}
	return out
}

func collectionSize(v any) int {
	switch t := v.(type) {
	case map[string]any:
		return len(t)
	case []any:
		return len(t)
	case nil:
		return 0
	}
	return 1
}
