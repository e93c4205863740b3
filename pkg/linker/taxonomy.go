package linker

import "github.com/orneryd/bifrost/pkg/storage"

// The closed relation taxonomy. Links carry exactly one of these; any
// other value is rejected at validation time.
const (
	RelationClarifies   storage.RelationType = "clarifies"
	RelationContradicts storage.RelationType = "contradicts"
	RelationElaborates  storage.RelationType = "elaborates"
	RelationExampleOf   storage.RelationType = "example-of"
	RelationCauses      storage.RelationType = "causes"
	RelationDependsOn   storage.RelationType = "depends-on"
	RelationSimilarTo   storage.RelationType = "similar-to"
	RelationReferences  storage.RelationType = "references"
	RelationRelated     storage.RelationType = "related"
)

// relationTypes is the taxonomy in stable order. The mock labeler
// indexes into this slice, so the order is part of its determinism.
var relationTypes = []storage.RelationType{
	RelationClarifies,
	RelationContradicts,
	RelationElaborates,
	RelationExampleOf,
	RelationCauses,
	RelationDependsOn,
	RelationSimilarTo,
	RelationReferences,
	RelationRelated,
}

var relationSet = func() map[storage.RelationType]struct{} {
	m := make(map[storage.RelationType]struct{}, len(relationTypes))
	for _, t := range relationTypes {
		m[t] = struct{}{}
	}
	return m
}()

// RelationTypes returns the taxonomy in stable order.
func RelationTypes() []storage.RelationType {
	out := make([]storage.RelationType, len(relationTypes))
	copy(out, relationTypes)
	return out
}

// ValidRelationType reports whether t is in the taxonomy.
func ValidRelationType(t storage.RelationType) bool {
	_, ok := relationSet[t]
	return ok
}
