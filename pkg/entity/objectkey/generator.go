package objectkey

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for storage backends
	GenerateKey(fileID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	FileName    string
	ContentType string

	// Scope groups files, typically by the code of the info-block they belong to
	Scope string
}

// GitLikeGenerator provides Git-style sharded storage.
// Unscoped: files/objects/ab/cd1234ef5678_filename
// Scoped:   files/{scope}/objects/ab/cd1234ef5678_filename
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(fileID uuid.UUID, metadata *KeyMetadata) string {
	id := strings.ReplaceAll(fileID.String(), "-", "")
	return shardedKey(id, g.ShardLength, metadata)
}

// HashedGenerator derives the key from a sha256 of the file id, for
// backends that prefer a hex layout independent of uuid versions.
type HashedGenerator struct {
	ShardLength int
}

func NewHashedGenerator() *HashedGenerator {
	return &HashedGenerator{
		ShardLength: 2,
	}
}

func (g *HashedGenerator) GenerateKey(fileID uuid.UUID, metadata *KeyMetadata) string {
	hash := sha256.Sum256(fileID[:])
	return shardedKey(fmt.Sprintf("%x", hash)[:16], g.ShardLength, metadata)
}

// FuncGenerator allows callers to provide their own key generation function
type FuncGenerator func(fileID uuid.UUID, metadata *KeyMetadata) string

func (f FuncGenerator) GenerateKey(fileID uuid.UUID, metadata *KeyMetadata) string {
	return f(fileID, metadata)
}

func shardedKey(id string, shardLength int, metadata *KeyMetadata) string {
	if shardLength <= 0 {
		shardLength = 2
	}
	if len(id) < shardLength {
		shardLength = len(id)
	}
	shard, rest := id[:shardLength], id[shardLength:]

	filename := rest
	if metadata != nil && metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", rest, sanitizeFilename(metadata.FileName))
	}

	prefix := "files"
	if metadata != nil && metadata.Scope != "" {
		prefix = fmt.Sprintf("files/%s", sanitizePathComponent(metadata.Scope))
	}
	return fmt.Sprintf("%s/objects/%s/%s", prefix, shard, filename)
}

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

func sanitizeFilename(filename string) string {
	return unsafeChars.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(unsafeChars.Replace(component))
}

// NewRecommendedGenerator returns the generator used when none is configured
func NewRecommendedGenerator() Generator {
	return NewGitLikeGenerator()
}
