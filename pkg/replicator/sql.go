package replicator

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ajitpratap0/dapsync/pkg/schema"
)

// MetaSchema holds the replication state table.
const MetaSchema = "instructure_dap"

const (
	createMetaSchemaSQL = `CREATE SCHEMA IF NOT EXISTS ` + MetaSchema

	createMetaTableSQL = `
CREATE TABLE IF NOT EXISTS ` + MetaSchema + `.table_sync (
	namespace varchar(64) NOT NULL,
	source_table varchar(64) NOT NULL,
	timestamp timestamp with time zone NOT NULL,
	schema_version bigint NOT NULL,
	target_schema varchar(64) NOT NULL,
	target_table varchar(64) NOT NULL,
	schema_description jsonb NOT NULL,
	PRIMARY KEY (namespace, source_table)
)`

	selectMetaSQL = `
SELECT timestamp, schema_version, schema_description
FROM ` + MetaSchema + `.table_sync
WHERE namespace = $1 AND source_table = $2`

	insertMetaSQL = `
INSERT INTO ` + MetaSchema + `.table_sync
	(namespace, source_table, timestamp, schema_version, target_schema, target_table, schema_description)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateMetaTimestampSQL = `
UPDATE ` + MetaSchema + `.table_sync
SET timestamp = $3
WHERE namespace = $1 AND source_table = $2`

	updateMetaSchemaSQL = `
UPDATE ` + MetaSchema + `.table_sync
SET schema_version = $3, schema_description = $4
WHERE namespace = $1 AND source_table = $2`

	deleteMetaSQL = `
DELETE FROM ` + MetaSchema + `.table_sync
WHERE namespace = $1 AND source_table = $2`
)

// tableIdent returns the target table identifier; the database schema is
// named after the namespace.
func tableIdent(namespace, table string) pgx.Identifier {
	return pgx.Identifier{namespace, table}
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func createSchemaSQL(namespace string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + quoteIdent(namespace)
}

// createTableSQL builds the DDL for a target table. It deliberately omits
// IF NOT EXISTS so an existing table surfaces as duplicate_table.
func createTableSQL(namespace, table string, ts *schema.TableSchema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(tableIdent(namespace, table).Sanitize())
	b.WriteString(" (\n")
	for _, c := range ts.Columns() {
		b.WriteString("\t")
		b.WriteString(quoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(string(c.Type))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString(",\n")
	}
	b.WriteString("\tPRIMARY KEY (")
	b.WriteString(quoteAll(ts.KeyNames()))
	b.WriteString(")\n)")
	return b.String()
}

// addColumnSQL adds a column introduced by a newer schema version. Added
// columns are always nullable since existing rows have no value for them.
func addColumnSQL(namespace, table string, c schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		tableIdent(namespace, table).Sanitize(), quoteIdent(c.Name), c.Type)
}

func dropTableSQL(namespace, table string) string {
	return "DROP TABLE IF EXISTS " + tableIdent(namespace, table).Sanitize()
}

// upsertSQL inserts a full row or updates the value columns of an existing key.
func upsertSQL(namespace, table string, ts *schema.TableSchema) string {
	names := ts.ColumnNames()
	params := make([]string, len(names))
	for i := range names {
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		tableIdent(namespace, table).Sanitize(),
		quoteAll(names),
		strings.Join(params, ", "),
		quoteAll(ts.KeyNames()))

	if len(ts.Values) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}

	sets := make([]string, len(ts.Values))
	for i, c := range ts.Values {
		q := quoteIdent(c.Name)
		sets[i] = q + " = EXCLUDED." + q
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

func deleteSQL(namespace, table string, ts *schema.TableSchema) string {
	conds := make([]string, len(ts.Keys))
	for i, c := range ts.Keys {
		conds[i] = fmt.Sprintf("%s = $%d", quoteIdent(c.Name), i+1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s",
		tableIdent(namespace, table).Sanitize(), strings.Join(conds, " AND "))
}
