package gmaps

// FilterOp is the operator encoding used by rating and review-count filters.
type FilterOp string

const (
	OpGt  FilterOp = "gt"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpLte FilterOp = "lte"
)

// RatingFilter keeps listings whose rating satisfies Op against Value.
type RatingFilter struct {
	Op    FilterOp `json:"op"`
	Value float64  `json:"value"`
}

// ReviewCountFilter keeps listings whose review count satisfies Op
// against Value.
type ReviewCountFilter struct {
	Op    FilterOp `json:"op"`
	Value int      `json:"value"`
}

// Matches reports whether rating passes the filter. A nil rating is
// kept only when the filter itself is absent; callers handle that case.
func (f *RatingFilter) Matches(rating float64) bool {
	if f == nil {
		return true
	}

	switch f.Op {
	case OpGt:
		return rating > f.Value
	case OpGte:
		return rating >= f.Value
	case OpLt:
		return rating < f.Value
	case OpLte:
		return rating <= f.Value
	default:
		return true
	}
}

func (f *ReviewCountFilter) Matches(count int) bool {
	if f == nil {
		return true
	}

	switch f.Op {
	case OpGt:
		return count > f.Value
	case OpGte:
		return count >= f.Value
	case OpLt:
		return count < f.Value
	case OpLte:
		return count <= f.Value
	default:
		return true
	}
}
