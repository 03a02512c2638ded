package assembly

// CharsPerToken converts token budgets to character budgets.
const CharsPerToken = 4

// DefaultModelID is the model whose window sizes apply when a budget names
// no model.
const DefaultModelID = "opus-4.5"

// Model describes the context window of a model.
type Model struct {
	ID             string
	ContextTokens  int
	ReservedTokens int
}

var models = map[string]Model{
	"opus-4.5": {ID: "opus-4.5", ContextTokens: 200000, ReservedTokens: 60000},
}

// LookupModel returns the window sizes of a known model.
func LookupModel(id string) (Model, bool) {
	m, ok := models[id]
	return m, ok
}

// Budget bounds the assembled context. Fields are consulted in order:
// MaxTokens, then MaxChars, then the model window (ContextTokens minus
// ReservedTokens, or minus ReservedFraction of it), falling back to the
// model table entry of ModelID.
type Budget struct {
	MaxChars         int
	MaxTokens        int
	ContextTokens    int
	ReservedTokens   int
	ReservedFraction float64
	ModelID          string
}

// Chars resolves the budget to a character count.
func (b Budget) Chars() int {
	if b.MaxTokens > 0 {
		return b.MaxTokens * CharsPerToken
	}
	if b.MaxChars > 0 {
		return b.MaxChars
	}

	id := b.ModelID
	if id == "" {
		id = DefaultModelID
	}
	m, ok := LookupModel(id)
	if !ok {
		m, _ = LookupModel(DefaultModelID)
	}

	total := b.ContextTokens
	if total <= 0 {
		total = m.ContextTokens
	}
	reserved := b.ReservedTokens
	switch {
	case reserved > 0:
	case b.ReservedFraction > 0 && b.ReservedFraction < 1:
		reserved = int(float64(total) * b.ReservedFraction)
	default:
		reserved = m.ReservedTokens
	}
	return max(0, total-reserved) * CharsPerToken
}

// Merge returns b with the non-zero fields of over applied. An explicit
// limit in over replaces both limits of b, and a reserve in over replaces
// both reserves, so the caller's choice is not shadowed by precedence.
func (b Budget) Merge(over Budget) Budget {
	if over.MaxTokens > 0 || over.MaxChars > 0 {
		b.MaxTokens, b.MaxChars = over.MaxTokens, over.MaxChars
	}
	if over.ContextTokens > 0 {
		b.ContextTokens = over.ContextTokens
	}
	if over.ReservedTokens > 0 || over.ReservedFraction > 0 {
		b.ReservedTokens, b.ReservedFraction = over.ReservedTokens, over.ReservedFraction
	}
	if over.ModelID != "" {
		b.ModelID = over.ModelID
	}
	return b
}
