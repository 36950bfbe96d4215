package substrate

import "garden-of-memory/pkg/garden"

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	return append([]string(nil), values...)
}

func cloneFragment(fragment garden.Fragment) garden.Fragment {
	cloned := fragment
	cloned.Keywords = cloneStrings(fragment.Keywords)

	return cloned
}

func cloneEdge(edge garden.RefinementEdge) garden.RefinementEdge {
	cloned := edge
	cloned.ContextRefs = cloneStrings(edge.ContextRefs)

	return cloned
}

func cloneAmendment(amendment garden.Amendment) garden.Amendment {
	cloned := amendment
	if amendment.Confidence != nil {
		confidence := *amendment.Confidence
		cloned.Confidence = &confidence
	}
	cloned.Keywords = cloneStrings(amendment.Keywords)

	return cloned
}

func clonePayload(payload garden.TransactionPayload) garden.TransactionPayload {
	cloned := garden.TransactionPayload{}
	if payload.Fragment != nil {
		draft := *payload.Fragment
		draft.Keywords = cloneStrings(payload.Fragment.Keywords)
		cloned.Fragment = &draft
	}
	if payload.Edge != nil {
		draft := *payload.Edge
		draft.ContextRefs = cloneStrings(payload.Edge.ContextRefs)
		cloned.Edge = &draft
	}
	if payload.Amendment != nil {
		amendment := cloneAmendment(*payload.Amendment)
		cloned.Amendment = &amendment
	}

	return cloned
}

func cloneRecord(record garden.TransactionRecord) garden.TransactionRecord {
	cloned := record
	cloned.Payload = clonePayload(record.Payload)

	return cloned
}
