// Package sqlgen renders store operations as Postgres statements over the
// single "items" table shared by the SQL backed stores.
package sqlgen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stickerlandia/printq/store"
)

const (
	getSql         = "SELECT attrs FROM items WHERE tbl = ? AND pk = ? AND sk = ?"
	insertSql      = "INSERT INTO items (tbl, pk, sk, attrs) VALUES (?, ?, ?, CAST(? AS jsonb)) ON CONFLICT (tbl, pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs"
	replaceSql     = "UPDATE items SET attrs = CAST(? AS jsonb) WHERE tbl = ? AND pk = ? AND sk = ?"
	deleteSql      = "DELETE FROM items WHERE tbl = ? AND pk = ? AND sk = ?"
	updateSql      = "UPDATE items SET attrs = attrs || CAST(? AS jsonb) WHERE tbl = ? AND pk = ? AND sk = ?"
	scanSql        = "SELECT attrs FROM items WHERE tbl = ?"
	batchDeleteSql = "DELETE FROM items WHERE tbl = ? AND (pk, sk) IN ("
	purgeSql       = "DELETE FROM items WHERE (attrs->>'TTL') IS NOT NULL AND (attrs->>'TTL')::bigint < ?"
)

// Statement is a SQL text with "?" placeholders and its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Dollar returns the statement text with "$n" placeholders.
func (s Statement) Dollar() string {
	return ConvertToDollarPlaceholder(s.SQL)
}

// ConvertToDollarPlaceholder rewrites "?" placeholders as "$1", "$2"...
func ConvertToDollarPlaceholder(query string) string {
	count := 0
	for strings.Contains(query, "?") {
		count++
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", count), 1)
	}
	return query
}

func Get(table string, key store.Key) Statement {
	return Statement{SQL: getSql, Args: []any{table, key.PK, key.SK}}
}

// Put writes a full item. When every condition is an absence check the write
// is an upsert guarded on conflict; otherwise the item must already exist and
// satisfy the conditions.
func Put(table string, item store.Item, conds []store.Condition) (Statement, error) {
	attrs, err := json.Marshal(item)
	if err != nil {
		return Statement{}, fmt.Errorf("encoding item: %w", err)
	}
	key := item.Key()
	if onlyAbsence(conds) {
		st := Statement{SQL: insertSql, Args: []any{table, key.PK, key.SK, string(attrs)}}
		if len(conds) > 0 {
			where, args, err := conditions("items.attrs", conds)
			if err != nil {
				return Statement{}, err
			}
			st.SQL += " WHERE " + where
			st.Args = append(st.Args, args...)
		}
		return st, nil
	}
	where, args, err := conditions("attrs", conds)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  replaceSql + " AND " + where,
		Args: append([]any{string(attrs), table, key.PK, key.SK}, args...),
	}, nil
}

func Delete(table string, key store.Key, conds []store.Condition) (Statement, error) {
	st := Statement{SQL: deleteSql, Args: []any{table, key.PK, key.SK}}
	if len(conds) > 0 {
		where, args, err := conditions("attrs", conds)
		if err != nil {
			return Statement{}, err
		}
		st.SQL += " AND " + where
		st.Args = append(st.Args, args...)
	}
	return st, nil
}

// Update merges in.Set into the stored attributes.
func Update(in store.UpdateInput) (Statement, error) {
	set, err := json.Marshal(in.Set)
	if err != nil {
		return Statement{}, fmt.Errorf("encoding update: %w", err)
	}
	st := Statement{SQL: updateSql, Args: []any{string(set), in.Table, in.Key.PK, in.Key.SK}}
	if len(in.Conditions) > 0 {
		where, args, err := conditions("attrs", in.Conditions)
		if err != nil {
			return Statement{}, err
		}
		st.SQL += " AND " + where
		st.Args = append(st.Args, args...)
	}
	return st, nil
}

func Query(in store.QueryInput) (Statement, error) {
	var pkCol, skCol string
	switch in.Index {
	case "":
		pkCol, skCol = "pk", "sk"
	case store.IndexGSI1:
		pkCol, skCol = "gsi1pk", "gsi1sk"
	default:
		return Statement{}, fmt.Errorf("%w: %s", store.ErrUnknownIndex, in.Index)
	}
	dir := "ASC"
	if in.Descending {
		dir = "DESC"
	}
	order := fmt.Sprintf("%s %s", skCol, dir)
	if skCol != "sk" {
		order += fmt.Sprintf(", sk %s", dir)
	}
	st := Statement{
		SQL:  fmt.Sprintf("SELECT attrs FROM items WHERE tbl = ? AND %s = ? ORDER BY %s", pkCol, order),
		Args: []any{in.Table, in.Partition},
	}
	if in.Limit > 0 {
		st.SQL += " LIMIT ?"
		st.Args = append(st.Args, in.Limit)
	}
	return st, nil
}

func Scan(table string, filter []store.Condition) (Statement, error) {
	st := Statement{SQL: scanSql, Args: []any{table}}
	if len(filter) > 0 {
		where, args, err := conditions("attrs", filter)
		if err != nil {
			return Statement{}, err
		}
		st.SQL += " AND " + where
		st.Args = append(st.Args, args...)
	}
	st.SQL += " ORDER BY pk, sk"
	return st, nil
}

func BatchDelete(table string, keys []store.Key) Statement {
	placeholders := make([]string, len(keys))
	args := make([]any, 0, 1+2*len(keys))
	args = append(args, table)
	for i, k := range keys {
		placeholders[i] = "(?, ?)"
		args = append(args, k.PK, k.SK)
	}
	return Statement{SQL: batchDeleteSql + strings.Join(placeholders, ", ") + ")", Args: args}
}

// Purge deletes the items whose TTL (unix seconds) is before the given instant.
func Purge(before int64) Statement {
	return Statement{SQL: purgeSql, Args: []any{before}}
}

// DecodeAttrs decodes a stored attribute document.
func DecodeAttrs(raw []byte) (store.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var item store.Item
	if err := dec.Decode(&item); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return store.Normalize(item), nil
}

func onlyAbsence(conds []store.Condition) bool {
	for _, c := range conds {
		if !c.NotExists {
			return false
		}
	}
	return true
}

func conditions(col string, conds []store.Condition) (string, []any, error) {
	clauses := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, c := range conds {
		if c.NotExists {
			clauses = append(clauses, fmt.Sprintf("NOT jsonb_exists(%s, ?)", col))
			args = append(args, c.Attr)
			continue
		}
		doc, err := json.Marshal(map[string]any{c.Attr: c.Value})
		if err != nil {
			return "", nil, fmt.Errorf("encoding condition on %s: %w", c.Attr, err)
		}
		clauses = append(clauses, fmt.Sprintf("%s @> CAST(? AS jsonb)", col))
		args = append(args, string(doc))
	}
	return strings.Join(clauses, " AND "), args, nil
}
