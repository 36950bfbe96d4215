package garden

// Capability describes one kind of task a membrane can perform and what it
// needs from the runtime to perform it.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
	Metadata         map[string]string
}

// InterestSet describes event selection criteria for capability negotiation
// and subscription filtering.
type InterestSet struct {
	// Topics limits delivery to the listed topics; empty means any topic.
	Topics []Topic
	// Aspects limits delivery to store events touching the listed aspects.
	Aspects []Aspect
	// Origins limits delivery to events caused by the listed workers.
	Origins []string
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Topics) > 0 && !containsTopic(i.Topics, event.Topic) {
		return false
	}
	if len(i.Aspects) > 0 {
		aspect, ok := event.AspectOf()
		if !ok || !containsAspect(i.Aspects, aspect) {
			return false
		}
	}
	if len(i.Origins) > 0 && !containsString(i.Origins, event.Origin) {
		return false
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
//
// An empty dimension on the declaring side allows any value on that dimension.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Topics) > 0 && !allTopicsIncluded(filter.Topics, i.Topics) {
		return false
	}
	if len(i.Aspects) > 0 && !allAspectsIncluded(filter.Aspects, i.Aspects) {
		return false
	}
	if len(i.Origins) > 0 && !allStringsIncluded(filter.Origins, i.Origins) {
		return false
	}

	return true
}

// containsTopic reports whether target is present in topics.
func containsTopic(topics []Topic, target Topic) bool {
	for _, candidate := range topics {
		if candidate == target {
			return true
		}
	}

	return false
}

// containsAspect reports whether target is present in aspects.
func containsAspect(aspects []Aspect, target Aspect) bool {
	for _, candidate := range aspects {
		if candidate == target {
			return true
		}
	}

	return false
}

// containsString reports whether target is present in values.
func containsString(values []string, target string) bool {
	for _, candidate := range values {
		if candidate == target {
			return true
		}
	}

	return false
}

// allTopicsIncluded reports whether subset is fully contained in allowed.
//
// An empty subset means "any topic" and is only allowed by an unrestricted side.
func allTopicsIncluded(subset, allowed []Topic) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !containsTopic(allowed, item) {
			return false
		}
	}

	return true
}

// allAspectsIncluded reports whether subset is fully contained in allowed.
func allAspectsIncluded(subset, allowed []Aspect) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !containsAspect(allowed, item) {
			return false
		}
	}

	return true
}

// allStringsIncluded reports whether subset is fully contained in allowed.
func allStringsIncluded(subset, allowed []string) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !containsString(allowed, item) {
			return false
		}
	}

	return true
}
