package catalogfile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/dramabot/internal/domain"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []domain.CatalogEntry
		skipped int
	}{
		{
			name:    "header order",
			content: "text;author;type\nCosa succede dopo?;gubiani;e se\nChi parla qui?;tollis;critica\n",
			want: []domain.CatalogEntry{
				{Text: "Cosa succede dopo?", Author: "gubiani", Type: "e se"},
				{Text: "Chi parla qui?", Author: "tollis", Type: "critica"},
			},
		},
		{
			name:    "columns matched by name",
			content: "TYPE;Text;author\nfeedback;Mi piace il ritmo;ursella\n",
			want: []domain.CatalogEntry{
				{Text: "Mi piace il ritmo", Author: "ursella", Type: "feedback"},
			},
		},
		{
			name:    "missing and extra columns",
			content: "id;text;notes\n1;Solo testo;boh\n",
			want: []domain.CatalogEntry{
				{Text: "Solo testo"},
			},
		},
		{
			name:    "short row decodes missing cells as absent",
			content: "text;author;type\nSenza autore\n",
			want: []domain.CatalogEntry{
				{Text: "Senza autore"},
			},
		},
		{
			name:    "delimiter inside a field skips the row",
			content: "text;author;type\nuno; due;gubiani;feedback\nok;dipauli;critica\n",
			want: []domain.CatalogEntry{
				{Text: "ok", Author: "dipauli", Type: "critica"},
			},
			skipped: 1,
		},
		{
			name:    "empty text skips the row",
			content: "text;author;type\n;gubiani;feedback\n",
			skipped: 1,
		},
		{
			name:    "quotes are data",
			content: "text;author;type\n\"Dimmi\";\"tollis\";e se\n",
			want: []domain.CatalogEntry{
				{Text: `"Dimmi"`, Author: `"tollis"`, Type: "e se"},
			},
		},
		{
			name:    "crlf bom and blank lines",
			content: "\xEF\xBB\xBFtext;author;type\r\n\r\nA; spazi ;feedback\r\n",
			want: []domain.CatalogEntry{
				{Text: "A", Author: " spazi ", Type: "feedback"},
			},
		},
		{
			name:    "carriage return inside a field skips the row",
			content: "text;author;type\nprima\rriga;gubiani;feedback\nseconda;;\n",
			want: []domain.CatalogEntry{
				{Text: "seconda"},
			},
			skipped: 1,
		},
		{
			name:    "empty content",
			content: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, skipped := Decode([]byte(tt.content))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
			assert.Len(t, skipped, tt.skipped)
		})
	}
}

func TestDecodeRowErrorLine(t *testing.T) {
	_, skipped := Decode([]byte("text;author;type\nok;a;b\nbad;a;b;c\n"))
	require.Len(t, skipped, 1)
	assert.Equal(t, 3, skipped[0].Line)
	assert.True(t, errors.Is(skipped[0], ErrMalformedRow))
}

func TestEncode(t *testing.T) {
	entries := []domain.CatalogEntry{
		{Text: "zeta", Author: "tollis", Type: "feedback"},
		{Text: "alfa"},
		{Text: "beta", Type: "e se"},
	}

	out, failed := Encode(entries)
	assert.Empty(t, failed)
	assert.Equal(t, "text;author;type\nzeta;tollis;feedback\nalfa;;\nbeta;;e se\n", string(out))
}

func TestEncodeCollectsRowFailures(t *testing.T) {
	entries := []domain.CatalogEntry{
		{Text: "buona", Author: "gubiani"},
		{Text: ""},
		{Text: "con ; dentro"},
		{Text: "a capo\nqui"},
		{Text: "ultima", Type: "critica"},
	}

	out, failed := Encode(entries)
	require.Len(t, failed, 3)
	assert.Equal(t, 2, failed[0].Line)
	assert.Equal(t, 3, failed[1].Line)
	assert.Equal(t, 4, failed[2].Line)
	assert.Equal(t, "text;author;type\nbuona;gubiani;\nultima;;critica\n", string(out))
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"text;author;type\nuno;gubiani;feedback\ndue;;\ntre; tollis ;  e se \n",
		"type;text\ncritica;Perché?\n;Qualcosa\n",
		"author;text;type;extra\ndipauli;x;feedback;1\n",
		"text;author;type\nprima\rriga;gubiani;feedback\nseconda;;\n",
	}

	for _, in := range inputs {
		first, _ := Decode([]byte(in))
		encoded, failed := Encode(first)
		require.Empty(t, failed)
		second, skipped := Decode(encoded)
		require.Empty(t, skipped)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("round trip mismatch for %q (-first +second):\n%s", in, diff)
		}
	}
}
