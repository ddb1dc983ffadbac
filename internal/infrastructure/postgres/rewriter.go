package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/keys"
)

// Rewriter replaces every stored form of an old object key with the same
// form of the new key across the catalog's columns.
type Rewriter struct {
	db      TxBeginner
	catalog *Catalog
	hosts   []string
}

// Compile-time verification that Rewriter implements ReferenceRewriter.
var _ repository.ReferenceRewriter = (*Rewriter)(nil)

// NewRewriter creates a Rewriter. URL forms are built for publicHost and
// its cdn/cloud mirror.
func NewRewriter(db TxBeginner, catalog *Catalog, publicHost string) *Rewriter {
	return &Rewriter{
		db:      db,
		catalog: catalog,
		hosts:   keys.Hosts(publicHost),
	}
}

// Rewrite updates references to oldKey in a single transaction. In dry-run
// only the count queries run and WouldTouch is filled.
func (r *Rewriter) Rewrite(ctx context.Context, oldKey, newKey string, dryRun bool) (*model.RewriteResult, error) {
	res := &model.RewriteResult{}
	reps := keys.Replacements(oldKey, newKey, r.hosts)
	if len(reps) == 0 {
		return res, nil
	}

	cols, err := r.catalog.Columns(ctx)
	if err != nil {
		return nil, model.NewError(model.KindDBRewriteFailed, err)
	}
	olds := oldValues(reps)

	if dryRun {
		res.WouldTouch = make(map[string]int64)
		for _, col := range cols {
			n, err := countMatches(ctx, r.db, col, olds)
			if err != nil {
				return nil, model.NewError(model.KindDBRewriteFailed, err)
			}
			if n > 0 {
				res.WouldTouch[col.String()] = n
			}
		}
		return res, nil
	}

	res.Columns = make(map[string]int64)
	err = inTx(ctx, r.db, func(tx pgx.Tx) error {
		return r.apply(ctx, tx, cols, reps, res)
	})
	if err != nil {
		return nil, model.NewError(model.KindDBRewriteFailed, err)
	}
	return res, nil
}

func (r *Rewriter) apply(ctx context.Context, tx pgx.Tx, cols []Column, reps []keys.Replacement, res *model.RewriteResult) error {
	olds := oldValues(reps)
	residual := verifiable(reps)

	for _, col := range cols {
		n, err := countMatches(ctx, tx, col, olds)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		sql, args := updateSQL(col, reps)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", col, err)
		}
		res.Columns[col.String()] = tag.RowsAffected()
		res.Updated += tag.RowsAffected()

		if len(residual) == 0 {
			continue
		}
		left, err := countMatches(ctx, tx, col, residual)
		if err != nil {
			return err
		}
		if left > 0 {
			return fmt.Errorf("%d rows in %s still reference the old key after update", left, col)
		}
	}
	return nil
}

// countMatches counts rows of col containing any of values.
func countMatches(ctx context.Context, db DBTX, col Column, values []string) (int64, error) {
	where, args := likeClause(col, values, 1)
	sql := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", tableIdent(col), where)

	var n int64
	if err := db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count references in %s: %w", col, err)
	}
	return n, nil
}

// updateSQL builds an UPDATE applying the replacement chain in order. JSON
// columns are rewritten as text and cast back to their type.
func updateSQL(col Column, reps []keys.Replacement) (string, []any) {
	expr := textExpr(col)
	args := make([]any, 0, 3*len(reps))
	for _, rep := range reps {
		expr = fmt.Sprintf("replace(%s, $%d, $%d)", expr, len(args)+1, len(args)+2)
		args = append(args, rep.Old, rep.New)
	}
	if col.Kind == ColumnJSON {
		expr += "::" + col.DataType
	}

	where, likeArgs := likeClause(col, oldValues(reps), len(args)+1)
	args = append(args, likeArgs...)

	sql := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s",
		tableIdent(col), pgx.Identifier{col.Name}.Sanitize(), expr, where)
	return sql, args
}

// likeClause returns a disjunction of LIKE patterns with placeholders
// numbered from first.
func likeClause(col Column, values []string, first int) (string, []any) {
	expr := textExpr(col)
	parts := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf(`%s LIKE $%d ESCAPE '\'`, expr, first+i)
		args[i] = "%" + escapeLike(v) + "%"
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func textExpr(col Column) string {
	ident := pgx.Identifier{col.Name}.Sanitize()
	if col.Kind == ColumnJSON {
		return ident + "::text"
	}
	return ident
}

func tableIdent(col Column) string {
	return pgx.Identifier{col.Schema, col.Table}.Sanitize()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func oldValues(reps []keys.Replacement) []string {
	out := make([]string, len(reps))
	for i, rep := range reps {
		out[i] = rep.Old
	}
	return out
}

// verifiable returns the old values that cannot legitimately remain after
// the update, i.e. those not contained in any new value.
func verifiable(reps []keys.Replacement) []string {
	var out []string
	for _, rep := range reps {
		contained := false
		for _, other := range reps {
			if strings.Contains(other.New, rep.Old) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, rep.Old)
		}
	}
	return out
}
