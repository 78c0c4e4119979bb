// Package config builds the static DbConfig and DocumentPlan values the
// engine runs against, from environment variables and a declarative plan
// table, mirroring db_configuration.py's DbConfigurator. Plan expansion
// driven by --id_list_path also lives here rather than in pkg/migration,
// since it is configuration shaping, not engine behavior.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tigrankh/migration/pkg/dberrors"
	"github.com/tigrankh/migration/pkg/docmodel"
)

// Database names the kind of store a DbConfig connects to.
type Database string

const (
	DynamoDB Database = "dynamodb"
	MongoDB  Database = "mongodb"
)

// DbConfig describes how to reach one of the three stores the engine
// drives: source, destination, internal.
type DbConfig struct {
	Database         Database
	DatabaseName     string
	BatchSize        int
	ConnectionString string // empty for DynamoDB, which authenticates via the default AWS credential chain
}

// DocumentSpec is the declarative, hand-written table entry this package
// expands into a docmodel.DocumentPlan — the Go analogue of
// configs/doc_cfg_all.py.
type DocumentSpec struct {
	Type                      string
	CollectionName            string
	SourceCollectionName      string
	DestinationCollectionName string
	Queries                   []docmodel.FieldQuery
	QueryIndexName            string
	RelatedDocument           *docmodel.RelatedDocument
	BatchSize                 int
}

// Config is everything cmd/migrate needs to construct the three stores and
// the engine.
type Config struct {
	Source      DbConfig
	Destination DbConfig
	Internal    DbConfig
	Plans       []*docmodel.DocumentPlan
}

// documentSpecs is the declarative table of document types this deployment
// migrates, in source-of-truth order. related_document entries are resolved
// into run order by pkg/planseq, not here; this table only needs to declare
// the dependency.
var documentSpecs = []DocumentSpec{
	{
		Type:                      "account",
		CollectionName:            "accounts",
		SourceCollectionName:      "accounts",
		DestinationCollectionName: "accounts",
		BatchSize:                 50,
	},
	{
		Type:                      "transaction",
		CollectionName:            "transactions",
		SourceCollectionName:      "transactions",
		DestinationCollectionName: "transactions",
		QueryIndexName:            "account_id-index",
		RelatedDocument:           &docmodel.RelatedDocument{Type: "account", RelationField: "account_id"},
		BatchSize:                 50,
	},
}

// Load builds the full Config from environment variables and the
// package-level document table. PROJECT_ID, DEST_CONN_STR, and
// INT_CONN_STR are required; their absence is a
// MissingRequiredConfigurationParamError rather than a zero-valued
// connection string reaching a store adapter.
func Load() (*Config, error) {
	projectID := os.Getenv("PROJECT_ID")
	if projectID == "" {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("PROJECT_ID")
	}
	destConnStr := os.Getenv("DEST_CONN_STR")
	if destConnStr == "" {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("DEST_CONN_STR")
	}
	intConnStr := os.Getenv("INT_CONN_STR")
	if intConnStr == "" {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("INT_CONN_STR")
	}

	plans := make([]*docmodel.DocumentPlan, 0, len(documentSpecs))
	for _, spec := range documentSpecs {
		plans = append(plans, specToPlan(spec))
	}

	return &Config{
		Source: DbConfig{
			Database:     DynamoDB,
			DatabaseName: fmt.Sprintf("migrated-%s", projectID),
			BatchSize:    50,
		},
		Destination: DbConfig{
			Database:         MongoDB,
			DatabaseName:     fmt.Sprintf("migrated-%s", projectID),
			ConnectionString: destConnStr,
		},
		Internal: DbConfig{
			Database:         MongoDB,
			DatabaseName:     "internal_db",
			ConnectionString: intConnStr,
		},
		Plans: plans,
	}, nil
}

func specToPlan(spec DocumentSpec) *docmodel.DocumentPlan {
	batchSize := spec.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &docmodel.DocumentPlan{
		Type:                      spec.Type,
		CollectionName:            spec.CollectionName,
		SourceCollectionName:      spec.SourceCollectionName,
		DestinationCollectionName: spec.DestinationCollectionName,
		Queries:                   spec.Queries,
		QueryIndexName:            spec.QueryIndexName,
		RelatedDocument:           spec.RelatedDocument,
		BatchSize:                 batchSize,
	}
}

// ExpandIDList reads a newline-separated id file and, for every plan, adds
// one find_one=true plan per id ahead of that plan's original position in
// plans, preserving relative order otherwise. Blank lines are skipped. A
// plan already carrying a single id-eq query (FindOne) is left alone —
// nothing to expand.
func ExpandIDList(plans []*docmodel.DocumentPlan, idListPath string) ([]*docmodel.DocumentPlan, error) {
	if idListPath == "" {
		return plans, nil
	}
	f, err := os.Open(idListPath)
	if err != nil {
		return nil, fmt.Errorf("config: opening id list: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading id list: %w", err)
	}

	expanded := make([]*docmodel.DocumentPlan, 0, len(plans)+len(ids)*len(plans))
	for _, plan := range plans {
		if plan.FindOne() {
			expanded = append(expanded, plan)
			continue
		}
		for _, id := range ids {
			expanded = append(expanded, idPlan(plan, id))
		}
		expanded = append(expanded, plan)
	}
	return expanded, nil
}

func idPlan(base *docmodel.DocumentPlan, id string) *docmodel.DocumentPlan {
	clone := *base
	clone.Queries = []docmodel.FieldQuery{{
		FieldName: docmodel.IDField,
		Operation: docmodel.OpEq,
		Value:     docmodel.StringValue(id),
	}}
	clone.QueryIndexName = ""
	return &clone
}
