package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/repo/repotest"
	"github.com/tendant/simple-entity/pkg/entity/repo/sqlite"
)

func openRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "entities.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepositoryContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) entity.Repository {
		return openRepo(t)
	})
}

func TestOpen_InMemory(t *testing.T) {
	ctx := context.Background()
	repo, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer repo.Close()

	ib := &entity.InfoBlock{Type: "catalog", Code: "books", Name: "Books"}
	require.NoError(t, repo.CreateInfoBlock(ctx, ib))

	got, err := repo.FindInfoBlock(ctx, "catalog", "books")
	require.NoError(t, err)
	assert.Equal(t, ib.ID, got.ID)
}

func TestMigrate_Idempotent(t *testing.T) {
	repo := openRepo(t)
	require.NoError(t, repo.Migrate(context.Background()))
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "entities.db")

	repo, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	ib := &entity.InfoBlock{Type: "catalog", Code: "books"}
	require.NoError(t, repo.CreateInfoBlock(ctx, ib))
	el := &entity.Element{InfoBlockID: ib.ID, Name: "Kidnapped", Active: true, Properties: map[string]string{"pages": "35"}}
	require.NoError(t, repo.CreateElement(ctx, el))
	require.NoError(t, repo.Close())

	repo, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetElement(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kidnapped", got.Name)
	assert.Equal(t, "35", got.Property("pages"))
}

func TestMapperRoundTrip(t *testing.T) {
	type Magazine struct {
		entity.Tracked
		ID     int64  `entity:"ID,pk"`
		Title  string `entity:"NAME,name"`
		Issue  int    `entity:"issue"`
		Digest bool   `entity:"digest"`
	}

	ctx := context.Background()
	m, err := entity.New(entity.WithRepository(openRepo(t)))
	require.NoError(t, err)
	_, err = entity.BuildSchema[Magazine](ctx, m)
	require.NoError(t, err)

	for i, title := range []string{"Strand", "Punch", "Blackwood's"} {
		_, err := entity.Save(ctx, m, &Magazine{Title: title, Issue: 10 - i, Digest: i%2 == 0})
		require.NoError(t, err)
	}

	digests, err := entity.From[Magazine](m).Where("digest", true).OrderBy("issue", "asc").FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, digests, 2)
	assert.Equal(t, "Blackwood's", digests[0].Title)
	assert.Equal(t, "Strand", digests[1].Title)

	digests[0].Digest = false
	_, err = entity.Save(ctx, m, digests[0])
	require.NoError(t, err)

	left, err := entity.From[Magazine](m).Where("digest", true).FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "Strand", left[0].Title)
}
