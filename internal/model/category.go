package model

// Category identifies one of the raw source table types an EDC export
// produces for a study.
type Category string

const (
	CategoryCPIDMetrics     Category = "cpid_metrics"
	CategoryVisitProjection Category = "visit_projection"
	CategoryMissingPages    Category = "missing_pages"
	CategorySAE             Category = "sae"
	CategoryCoding          Category = "coding"
	CategoryEDRR            Category = "edrr"
)

// Categories lists every category in display order. Coverage percentages
// use this as the denominator.
var Categories = []Category{
	CategoryCPIDMetrics,
	CategoryVisitProjection,
	CategoryMissingPages,
	CategorySAE,
	CategoryCoding,
	CategoryEDRR,
}

// CategoryPrecedence is the fixed order used to break ties when the site
// identifier disagrees across categories for one subject.
var CategoryPrecedence = []Category{
	CategoryCPIDMetrics,
	CategoryVisitProjection,
	CategorySAE,
	CategoryCoding,
	CategoryMissingPages,
	CategoryEDRR,
}

// PrecedenceRank returns the position of c in CategoryPrecedence, or
// len(CategoryPrecedence) for unknown categories.
func PrecedenceRank(c Category) int {
	for i, p := range CategoryPrecedence {
		if p == c {
			return i
		}
	}
	return len(CategoryPrecedence)
}
