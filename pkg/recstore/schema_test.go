package recstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
	"github.com/calvinalkan/jsonsql/pkg/recstore"
)

func Test_DB_Renames_Tables_And_Columns_When_Asked(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			db := openDB(t, backend, recstore.Config{})
			ctx := t.Context()

			_, err := collection(t, db, "people").Save(ctx, recstore.Record{
				"id":    jsonsql.String("p1"),
				"first": jsonsql.String("Al"),
				"nick":  jsonsql.String("al"),
			})
			require.NoError(t, err)

			require.NoError(t, db.RenameColumn(ctx, "people", "first", "name"))
			require.NoError(t, db.DropColumn(ctx, "people", "nick"))
			require.NoError(t, db.RenameTable(ctx, "people", "users"))

			names, err := db.Tables(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"users"}, names)

			got, ok, err := collection(t, db, "users").Load(ctx, "p1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, recstore.Record{"id": jsonsql.String("p1"), "name": jsonsql.String("Al")}, got)

			err = db.RenameTable(ctx, "people", "users")
			require.ErrorIs(t, err, jsonsql.ErrNoSuchTable)

			var rerr *recstore.Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, "people", rerr.Table)

			assert.ErrorIs(t, db.DropColumn(ctx, "users", "id"), jsonsql.ErrIDColumn)
			assert.ErrorIs(t, db.AddColumn(ctx, "missing", "x"), jsonsql.ErrNoSuchTable)
		})
	}
}
