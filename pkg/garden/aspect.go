package garden

import "fmt"

// Aspect partitions fragments into the identity dimensions the substrate tracks.
//
// The set is closed: proposals naming an aspect outside it are rejected at
// validation, and every refinement edge stays inside a single aspect.
type Aspect string

const (
	// AspectSelfReference holds statements the system makes about itself.
	AspectSelfReference Aspect = "self_reference"
	// AspectMetaReflection holds reflections about the system's own reasoning.
	AspectMetaReflection Aspect = "meta_reflection"
	// AspectCognitiveFunction holds descriptions of reasoning abilities.
	AspectCognitiveFunction Aspect = "cognitive_function"
	// AspectTechnicalCapability holds concrete technical skills.
	AspectTechnicalCapability Aspect = "technical_capability"
	// AspectKnowledgeDomain holds subject-matter knowledge areas.
	AspectKnowledgeDomain Aspect = "knowledge_domain"
	// AspectBehavioralPattern holds recurring behavioral observations.
	AspectBehavioralPattern Aspect = "behavioral_pattern"
	// AspectPersonalityTrait holds stable disposition statements.
	AspectPersonalityTrait Aspect = "personality_trait"
	// AspectValuePrinciple holds guiding values and principles.
	AspectValuePrinciple Aspect = "value_principle"
)

// Aspects returns the closed aspect set in stable lexicographic order.
func Aspects() []Aspect {
	return []Aspect{
		AspectBehavioralPattern,
		AspectCognitiveFunction,
		AspectKnowledgeDomain,
		AspectMetaReflection,
		AspectPersonalityTrait,
		AspectSelfReference,
		AspectTechnicalCapability,
		AspectValuePrinciple,
	}
}

// Validate checks that the aspect belongs to the closed set.
func (a Aspect) Validate() error {
	switch a {
	case AspectSelfReference, AspectMetaReflection, AspectCognitiveFunction,
		AspectTechnicalCapability, AspectKnowledgeDomain, AspectBehavioralPattern,
		AspectPersonalityTrait, AspectValuePrinciple:
		return nil
	default:
		return fmt.Errorf("validate aspect: unknown aspect %q", string(a))
	}
}
