package dynamostore

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tigrankh/migration/pkg/docmodel"
)

var opExpr = map[docmodel.Operation]string{
	docmodel.OpEq:  "=",
	docmodel.OpGt:  ">",
	docmodel.OpGte: ">=",
	docmodel.OpLt:  "<",
	docmodel.OpLte: "<=",
}

// buildKeyCondition turns a plan's AND-combined FieldQuery list into a
// DynamoDB KeyConditionExpression for a Query against a GSI.
func buildKeyCondition(queries []docmodel.FieldQuery) (string, map[string]string, map[string]types.AttributeValue, error) {
	if len(queries) == 0 {
		return "", nil, nil, fmt.Errorf("dynamostore: query_index_name set but no queries given")
	}
	names := make(map[string]string, len(queries))
	values := make(map[string]types.AttributeValue, len(queries))
	clauses := ""
	for i, q := range queries {
		expr, ok := opExpr[q.Operation]
		if !ok {
			return "", nil, nil, fmt.Errorf("dynamostore: operation %q not valid in a key condition", q.Operation)
		}
		nameKey := fmt.Sprintf("#k%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		names[nameKey] = q.FieldName
		av, err := attributeFromValue(q.Value)
		if err != nil {
			return "", nil, nil, err
		}
		values[valueKey] = av
		if i > 0 {
			clauses += " AND "
		}
		clauses += fmt.Sprintf("%s %s %s", nameKey, expr, valueKey)
	}
	return clauses, names, values, nil
}

// buildScanFilter turns a plan's queries plus the is_migrated exclusion
// into a Scan FilterExpression.
func buildScanFilter(plan *docmodel.DocumentPlan, includeMigrated bool) (*string, map[string]string, map[string]types.AttributeValue, error) {
	names := make(map[string]string, len(plan.Queries)+1)
	values := make(map[string]types.AttributeValue, len(plan.Queries)+1)
	clauses := ""
	for i, q := range plan.Queries {
		expr, ok := opExpr[q.Operation]
		if !ok {
			return nil, nil, nil, fmt.Errorf("dynamostore: unsupported operation %q", q.Operation)
		}
		nameKey := fmt.Sprintf("#k%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		names[nameKey] = q.FieldName
		av, err := attributeFromValue(q.Value)
		if err != nil {
			return nil, nil, nil, err
		}
		values[valueKey] = av
		if clauses != "" {
			clauses += " AND "
		}
		clauses += fmt.Sprintf("%s %s %s", nameKey, expr, valueKey)
	}
	if !includeMigrated {
		names["#migrated"] = docmodel.IsMigratedField
		values[":migratedTrue"] = &types.AttributeValueMemberBOOL{Value: true}
		if clauses != "" {
			clauses += " AND "
		}
		clauses += "#migrated <> :migratedTrue"
	}
	if clauses == "" {
		return nil, nil, nil, nil
	}
	return &clauses, names, values, nil
}

// migratedFilter builds the FilterExpression layered on top of a Query's
// KeyConditionExpression, reusing the same names/values maps so expression
// attribute placeholders never collide.
func migratedFilter(plan *docmodel.DocumentPlan, includeMigrated bool, names map[string]string, values map[string]types.AttributeValue) *string {
	if includeMigrated {
		return nil
	}
	names["#migrated"] = docmodel.IsMigratedField
	values[":migratedTrue"] = &types.AttributeValueMemberBOOL{Value: true}
	expr := "#migrated <> :migratedTrue"
	return &expr
}
