package domain

import "strings"

// Category is the class a catalog entry is routed under
type Category string

const (
	CategoryFeedback Category = "feedback"
	CategoryCritique Category = "critique"
	CategoryExplain  Category = "explain"
	CategoryOther    Category = "other"
)

// Labels used in the catalog file's type column
const (
	LabelFeedback = "feedback"
	LabelCritique = "critica"
	LabelExplain  = "e se"
)

// Categories returns every category in lookup order
func Categories() []Category {
	return []Category{CategoryFeedback, CategoryCritique, CategoryExplain, CategoryOther}
}

// CatalogEntry is one authored snippet. Empty Author or Type means absent.
type CatalogEntry struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Category classifies the entry by its trimmed type label.
// Unknown and blank labels fall into CategoryOther.
func (e CatalogEntry) Category() Category {
	switch strings.TrimSpace(e.Type) {
	case LabelFeedback:
		return CategoryFeedback
	case LabelCritique:
		return CategoryCritique
	case LabelExplain:
		return CategoryExplain
	default:
		return CategoryOther
	}
}

// AuthorKey returns the key the entry is indexed under, "" if it has no author
func (e CatalogEntry) AuthorKey() string {
	return strings.TrimSpace(e.Author)
}

// Visibility tells the transport whether a reply is broadcast or private
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Reply is the classifier output handed back to the transport
type Reply struct {
	Text       string     `json:"text"`
	Visibility Visibility `json:"visibility"`
	Icon       string     `json:"icon,omitempty"`
}
