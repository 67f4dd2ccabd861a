package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestCategory(t *testing.T) {
	tests := []struct {
		label string
		want  Category
	}{
		{"feedback", CategoryFeedback},
		{"  feedback\t", CategoryFeedback},
		{"critica", CategoryCritique},
		{"e se", CategoryExplain},
		{" e se ", CategoryExplain},
		{"E se", CategoryOther},
		{"esse", CategoryOther},
		{"altro", CategoryOther},
		{"", CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, CatalogEntry{Text: "x", Type: tt.label}.Category())
		})
	}
}

func TestCategoriesOrder(t *testing.T) {
	want := []Category{"feedback", "critique", "explain", "other"}
	if diff := cmp.Diff(want, Categories()); diff != "" {
		t.Errorf("Categories() mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthorKey(t *testing.T) {
	assert.Equal(t, "gubiani", CatalogEntry{Author: " gubiani "}.AuthorKey())
	assert.Empty(t, CatalogEntry{Author: "   "}.AuthorKey())
}
