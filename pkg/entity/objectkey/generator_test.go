package objectkey

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGitLikeGenerator(t *testing.T) {
	gen := NewGitLikeGenerator()
	fileID := uuid.MustParse("987fcdeb-51a2-43d1-9f12-345678901234")

	tests := []struct {
		name     string
		metadata *KeyMetadata
		expected string
	}{
		{
			name:     "no metadata",
			metadata: nil,
			expected: "files/objects/98/7fcdeb51a243d19f12345678901234",
		},
		{
			name:     "with filename",
			metadata: &KeyMetadata{FileName: "cover image.jpg"},
			expected: "files/objects/98/7fcdeb51a243d19f12345678901234_cover_image.jpg",
		},
		{
			name:     "scoped",
			metadata: &KeyMetadata{FileName: "a.pdf", Scope: "Books"},
			expected: "files/books/objects/98/7fcdeb51a243d19f12345678901234_a.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, gen.GenerateKey(fileID, tt.metadata))
		})
	}
}

func TestGitLikeGenerator_ShardLength(t *testing.T) {
	gen := &GitLikeGenerator{ShardLength: 3}
	key := gen.GenerateKey(uuid.MustParse("987fcdeb-51a2-43d1-9f12-345678901234"), nil)
	assert.True(t, strings.HasPrefix(key, "files/objects/987/"), key)
}

func TestHashedGenerator_Deterministic(t *testing.T) {
	gen := NewHashedGenerator()
	id := uuid.New()
	meta := &KeyMetadata{FileName: "x.txt"}

	first := gen.GenerateKey(id, meta)
	assert.Equal(t, first, gen.GenerateKey(id, meta))
	assert.NotEqual(t, first, gen.GenerateKey(uuid.New(), meta))
	assert.True(t, strings.HasSuffix(first, "_x.txt"))
}

func TestFuncGenerator(t *testing.T) {
	gen := FuncGenerator(func(fileID uuid.UUID, metadata *KeyMetadata) string {
		return "custom/" + metadata.FileName
	})
	assert.Equal(t, "custom/a.txt", gen.GenerateKey(uuid.New(), &KeyMetadata{FileName: "a.txt"}))
}
