package postgres

import (
	"fmt"
	"strings"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/lib/pq"
)

// buildOrderFilterClause constructs the WHERE fragment for an order selection filter.
// The returned clause starts with " AND " (or is empty) so it can follow "WHERE 1=1".
func buildOrderFilterClause(filter domain.OrderFilter, alias string, startIndex int) (string, []interface{}, error) {
	statuses, err := filter.EffectiveStatuses()
	if err != nil {
		return "", nil, err
	}

	var (
		clauses []string
		args    []interface{}
	)
	a := normalizeAlias(alias)
	idx := startIndex

	groupSet := filter.StatusGroup != "" && !strings.EqualFold(filter.StatusGroup, "all")
	switch {
	case len(statuses) > 0:
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		clauses = append(clauses, fmt.Sprintf("%sstatus = ANY($%d)", a, idx))
		args = append(args, pq.Array(values))
		idx++
	case groupSet:
		// group and explicit statuses do not intersect
		clauses = append(clauses, "FALSE")
	}

	if filter.Channel != "" {
		clauses = append(clauses, fmt.Sprintf("%schannel = $%d", a, idx))
		args = append(args, string(filter.Channel))
		idx++
	}

	if filter.From != nil {
		clauses = append(clauses, fmt.Sprintf("%sordered_at >= $%d", a, idx))
		args = append(args, *filter.From)
		idx++
	}

	if filter.To != nil {
		clauses = append(clauses, fmt.Sprintf("%sordered_at <= $%d", a, idx))
		args = append(args, *filter.To)
		idx++
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		clauses = append(clauses, fmt.Sprintf(
			"(%[1]sid ILIKE $%[2]d OR %[1]sexternal_order_id ILIKE $%[2]d OR EXISTS (SELECT 1 FROM order_items si WHERE si.order_id = %[1]sid AND si.sku ILIKE $%[2]d))",
			a, idx))
		args = append(args, "%"+search+"%")
		idx++
	}

	for _, p := range filter.SKUQuantities {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM order_items qi WHERE qi.order_id = %sid AND qi.sku = $%d GROUP BY qi.sku HAVING SUM(qi.quantity) = $%d)",
			a, idx, idx+1))
		args = append(args, p.SKU, p.Quantity)
		idx += 2
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}

	return " AND " + strings.Join(clauses, " AND "), args, nil
}

// buildAfterClause continues a keyset page strictly after ref.
func buildAfterClause(ref *repository.OrderRef, alias string, startIndex int) (string, []interface{}) {
	if ref == nil {
		return "", nil
	}
	a := normalizeAlias(alias)
	return fmt.Sprintf(" AND (%[1]sordered_at, %[1]sid) > ($%[2]d, $%[3]d)", a, startIndex, startIndex+1),
		[]interface{}{ref.OrderedAt, ref.ID}
}

func normalizeAlias(alias string) string {
	if alias == "" {
		return ""
	}
	if !strings.HasSuffix(alias, ".") {
		return alias + "."
	}
	return alias
}
